package merge

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aren13/momentum/internal/conflict"
)

// ConflictType is the inferred nature of a conflict, used to tailor the
// resolution prompt's objectives.
type ConflictType string

const (
	ConflictImport        ConflictType = "import"
	ConflictFunction      ConflictType = "function"
	ConflictDataStructure ConflictType = "data-structure"
	ConflictConfiguration ConflictType = "configuration"
	ConflictComment       ConflictType = "comment"
	ConflictGeneral       ConflictType = "general"
)

var (
	importRE      = regexp.MustCompile(`^\s*(import|require|use)\b`)
	funcSigRE     = regexp.MustCompile(`\b(func|function|def|fn)\s+\w`)
	dataStructRE  = regexp.MustCompile(`\b(class|interface|struct|enum|type)\b`)
	configKeyRE   = regexp.MustCompile(`^\s*[\w.\-]+\s*[:=]`)
	commentLineRE = regexp.MustCompile(`^\s*(//|#|/\*|\*)`)
)

// InferType classifies a hunk by first-match-wins: import > function >
// data-structure > configuration > comment > general.
func InferType(h conflict.Hunk) ConflictType {
	both := append(append([]string{}, h.Ours...), h.Theirs...)
	switch {
	case anyLineMatches(both, importRE):
		return ConflictImport
	case anyLineMatches(both, funcSigRE):
		return ConflictFunction
	case anyLineMatches(both, dataStructRE):
		return ConflictDataStructure
	case anyLineMatches(both, configKeyRE):
		return ConflictConfiguration
	case allLinesMatch(both, commentLineRE):
		return ConflictComment
	default:
		return ConflictGeneral
	}
}

func anyLineMatches(lines []string, re *regexp.Regexp) bool {
	for _, l := range lines {
		if re.MatchString(l) {
			return true
		}
	}
	return false
}

func allLinesMatch(lines []string, re *regexp.Regexp) bool {
	if len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" && !re.MatchString(l) {
			return false
		}
	}
	return true
}

// objectivesFor returns the resolution objective text for each conflict type.
func objectivesFor(t ConflictType) string {
	switch t {
	case ConflictImport:
		return "Combine the two import lists, deduplicating entries, preserving existing grouping, sorting each group by the language's usual convention, and keeping every alias intact."
	case ConflictFunction:
		return "Merge the two function implementations so the resulting function is a single coherent version that satisfies the intent of both changes, preserving the original signature unless both sides changed it identically."
	case ConflictDataStructure:
		return "Merge the two type/class/struct/interface/enum definitions, keeping every field or member introduced by either side without duplication."
	case ConflictConfiguration:
		return "Merge the two configuration blocks, preferring the more specific or more recently set value when keys collide, and preserving every key introduced by either side."
	case ConflictComment:
		return "Merge the two comment blocks into one, keeping any information unique to either side and removing exact duplication."
	default:
		return "Produce a single coherent version of this code that preserves the intent of both the \"ours\" and \"theirs\" changes."
	}
}

// PromptContext supplies optional extra information a caller can attach to
// a resolution request.
type PromptContext struct {
	CommitContext string
	Conventions   string
}

// BuildPrompt produces a deterministic prompt string for one conflicted
// file's hunks, tailored to the inferred conflict type of its first hunk.
func BuildPrompt(file conflict.FileAnalysis, language string, ctx PromptContext) string {
	var sb strings.Builder

	conflictType := ConflictGeneral
	if len(file.Hunks) > 0 {
		conflictType = InferType(file.Hunks[0])
	}

	fmt.Fprintf(&sb, "Resolve the merge conflict in %s (%s, %d conflict hunk(s), inferred type: %s).\n\n",
		file.Path, language, len(file.Hunks), conflictType)
	fmt.Fprintf(&sb, "Objective: %s\n\n", objectivesFor(conflictType))

	if ctx.CommitContext != "" {
		fmt.Fprintf(&sb, "Commit context:\n%s\n\n", ctx.CommitContext)
	}
	if ctx.Conventions != "" {
		fmt.Fprintf(&sb, "Project conventions:\n%s\n\n", ctx.Conventions)
	}

	for i, h := range file.Hunks {
		fmt.Fprintf(&sb, "--- Hunk %d ---\n", i+1)
		if len(h.ContextBefore) > 0 {
			sb.WriteString("Context before:\n")
			sb.WriteString(strings.Join(h.ContextBefore, "\n"))
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Ours (%s):\n%s\n\n", h.OursLabel, strings.Join(h.Ours, "\n"))
		fmt.Fprintf(&sb, "Theirs (%s):\n%s\n\n", h.TheirsLabel, strings.Join(h.Theirs, "\n"))
		if len(h.ContextAfter) > 0 {
			sb.WriteString("Context after:\n")
			sb.WriteString(strings.Join(h.ContextAfter, "\n"))
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString("Return clean resolved code only: no conflict markers, no code fencing, valid syntax for the language, ")
	sb.WriteString("preserved indentation, followed by a brief explanation of what you did.\n")

	return sb.String()
}

// BuildFullFilePrompt asks for a from-scratch resolution of the entire
// file's raw conflicted content, rather than per-hunk context slices. Used
// only by the optional full-file fallback tier, for files whose hunk-scoped
// resolution keeps failing validation.
func BuildFullFilePrompt(path, rawContent, language string, ctx PromptContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Resolve every merge conflict in the file %s (%s) below. Produce the complete, ", path, language)
	sb.WriteString("final contents of the file with all conflicts resolved.\n\n")
	if ctx.CommitContext != "" {
		fmt.Fprintf(&sb, "Commit context:\n%s\n\n", ctx.CommitContext)
	}
	if ctx.Conventions != "" {
		fmt.Fprintf(&sb, "Project conventions:\n%s\n\n", ctx.Conventions)
	}
	sb.WriteString("Conflicted file content:\n")
	sb.WriteString(rawContent)
	sb.WriteString("\n\n")
	sb.WriteString("Return the complete resolved file only: no conflict markers, no code fencing, valid syntax, ")
	sb.WriteString("followed by a brief explanation of what you did.\n")
	return sb.String()
}

// WithRetryError appends a prior validation failure to a prompt for re-request.
func WithRetryError(prompt string, prior error) string {
	return fmt.Sprintf("%s\nThe previous attempt was rejected: %s\nTry again, correcting that specific problem.\n", prompt, prior.Error())
}

// LanguageForPath guesses a language tag from a file's extension, used both
// for prompt construction and for picking a syntax-sanity-check strategy.
func LanguageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	default:
		return "text"
	}
}
