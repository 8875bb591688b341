// Package merge implements a three-tier merge pipeline: an auto tier (plain
// git merge), an AI-assisted tier that asks an injected callback to resolve
// conflicted files, and validation/retry around that callback's output. AI
// assistance is never a baked-in model client — callers supply an
// AIResolveFunc.
package merge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aren13/momentum/internal/conflict"
)

// Resolution is an AI-produced replacement for a conflicted hunk or file.
type Resolution struct {
	Content     string
	Explanation string
	Confidence  string
}

// AIResolveFunc is the injected resolution capability: given a prompt, it
// returns a Resolution or an error. The core never depends on any
// particular model implementation.
type AIResolveFunc func(prompt string) (Resolution, error)

// ValidationError reports why a Resolution was rejected. Retryable errors
// are re-prompted with the error text appended; non-retryable ones fail the
// resolution outright (there are none of those in this implementation —
// every rule is re-promptable).
type ValidationError struct {
	Rule      string
	Detail    string
	Retryable bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

var conflictMarkers = []string{"<<<<<<<", "=======", ">>>>>>>"}

var identifierRE = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// identifierKeywords are common language keywords excluded from the
// content-preservation check so that e.g. "return" doesn't count as a
// preserved identifier.
var identifierKeywords = map[string]bool{
	"func": true, "return": true, "else": true, "elif": true, "import": true,
	"package": true, "const": true, "var": true, "type": true, "struct": true,
	"interface": true, "class": true, "public": true, "private": true,
	"static": true, "void": true, "null": true, "true": true, "false": true,
	"this": true, "self": true, "def": true, "from": true, "with": true,
}

// Validate runs five checks against a proposed resolution: non-empty, no
// leftover conflict markers, syntax sanity, a length bound, and
// content-preservation. hunks is the set of hunks the resolution replaces,
// used for the length bound.
func Validate(resolution Resolution, hunks []conflict.Hunk, language string) error {
	content := resolution.Content

	if strings.TrimSpace(content) == "" {
		return &ValidationError{Rule: "non-empty", Detail: "resolution is empty or whitespace-only", Retryable: true}
	}

	for _, marker := range conflictMarkers {
		if strings.Contains(content, marker) {
			return &ValidationError{Rule: "no-conflict-markers", Detail: "still contains conflict markers", Retryable: true}
		}
	}

	if err := syntaxSanityCheck(content, language); err != nil {
		return &ValidationError{Rule: "syntax", Detail: err.Error(), Retryable: true}
	}

	maxLen := 0
	for _, h := range hunks {
		maxLen += 3 * max(len(strings.Join(h.Ours, "\n")), len(strings.Join(h.Theirs, "\n")))
	}
	if maxLen > 0 && len(content) > maxLen {
		return &ValidationError{
			Rule:      "length-bound",
			Detail:    fmt.Sprintf("resolution is %d bytes, exceeds 3x bound of %d", len(content), maxLen),
			Retryable: true,
		}
	}

	if missing := missingPreservedIdentifier(hunks, content); missing {
		return &ValidationError{Rule: "content-preservation", Detail: "resolution drops every identifier from the ours side", Retryable: true}
	}

	return nil
}

// missingPreservedIdentifier returns true only when the "ours" side had at
// least one identifier and none of them survive in the resolution.
func missingPreservedIdentifier(hunks []conflict.Hunk, content string) bool {
	var oursIdents []string
	for _, h := range hunks {
		for _, line := range h.Ours {
			for _, ident := range identifierRE.FindAllString(line, -1) {
				if !identifierKeywords[ident] {
					oursIdents = append(oursIdents, ident)
				}
			}
		}
	}
	if len(oursIdents) == 0 {
		return false
	}
	for _, ident := range oursIdents {
		if strings.Contains(content, ident) {
			return false
		}
	}
	return true
}

// syntaxSanityCheck applies a basic per-language check: matched
// brace/paren/bracket pairs for curly-family languages, indentation-
// character discipline for indentation-sensitive languages, and full JSON
// parseability for JSON.
func syntaxSanityCheck(content, language string) error {
	switch strings.ToLower(language) {
	case "json":
		return jsonSanityCheck(content)
	case "python", "yaml", "yml":
		return indentationSanityCheck(content)
	default:
		return bracesSanityCheck(content)
	}
}

func bracesSanityCheck(content string) error {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	for _, r := range content {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Errorf("unbalanced %q", string(r))
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return fmt.Errorf("unbalanced bracket/brace/paren (unclosed %q)", string(stack[len(stack)-1]))
	}
	return nil
}

// indentationSanityCheck rejects any line whose leading whitespace has a
// tab following a space — a cheap proxy for "this couldn't possibly be
// valid Python/YAML". Leading tabs followed by spaces are accepted.
func indentationSanityCheck(content string) error {
	for i, line := range strings.Split(content, "\n") {
		leading := 0
		for leading < len(line) && (line[leading] == ' ' || line[leading] == '\t') {
			leading++
		}
		run := line[:leading]
		if strings.Contains(run, " \t") {
			return fmt.Errorf("line %d mixes spaces then a tab in leading whitespace", i+1)
		}
	}
	return nil
}

func jsonSanityCheck(content string) error {
	return jsonValid([]byte(content))
}
