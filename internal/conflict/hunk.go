// Package conflict parses git conflict markers into structured hunks and
// categorizes the difficulty of resolving them, using the finite-state
// parser below for the <<<<<<</=======/>>>>>>> marker grammar.
package conflict

import "strings"

const (
	markerOurs   = "<<<<<<<"
	markerMid    = "======="
	markerTheirs = ">>>>>>>"
)

// Hunk is one contiguous conflicted region delimited by the three standard
// conflict markers.
type Hunk struct {
	OursLabel   string
	TheirsLabel string
	Ours        []string
	Theirs      []string
	// ContextBefore/ContextAfter are fixed-width slices of surrounding
	// working-copy lines, captured for prompt construction.
	ContextBefore []string
	ContextAfter  []string

	// startLine/endLine are the 0-indexed line range in the source file
	// spanned by the opening marker through the closing marker, inclusive.
	// Used by ConflictResolver to replace the block in place.
	startLine int
	endLine   int
}

// StartLine returns the 0-indexed line of the opening conflict marker.
func (h Hunk) StartLine() int { return h.startLine }

// EndLine returns the 0-indexed line of the closing conflict marker.
func (h Hunk) EndLine() int { return h.endLine }

// File is the parsed result for one conflicted file: every line of the
// working-copy content, plus the hunks found within it. Keeping Lines
// alongside Hunks (rather than only the hunk contents) is what makes
// Render(Parse(x)) == x an exact round trip.
type File struct {
	Path  string
	Lines []string
	Hunks []Hunk
}

// contextWidth is the default number of lines of surrounding context
// captured before/after each hunk.
const contextWidth = 5

// parseState is the hunk parser's finite-state machine state.
type parseState int

const (
	stateOutside parseState = iota
	stateOurs
	stateTheirs
)

// ParseHunks walks content line by line: <<<<<<< opens a hunk (and records
// the "ours" branch label from the marker suffix), ======= switches to
// theirs, >>>>>>> closes the hunk (recording the "theirs" label). Lines
// outside a hunk are ignored; lines inside are appended to whichever side
// is active.
func ParseHunks(content string) []Hunk {
	lines := splitLines(content)

	var hunks []Hunk
	state := stateOutside
	var current Hunk
	var hunkStart int

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, markerOurs):
			current = Hunk{OursLabel: strings.TrimSpace(strings.TrimPrefix(line, markerOurs))}
			hunkStart = i
			state = stateOurs
		case strings.HasPrefix(line, markerMid) && state == stateOurs:
			state = stateTheirs
		case strings.HasPrefix(line, markerTheirs) && state == stateTheirs:
			current.TheirsLabel = strings.TrimSpace(strings.TrimPrefix(line, markerTheirs))
			current.startLine = hunkStart
			current.endLine = i
			current.ContextBefore = contextSlice(lines, hunkStart-contextWidth, hunkStart)
			current.ContextAfter = contextSlice(lines, i+1, i+1+contextWidth)
			hunks = append(hunks, current)
			state = stateOutside
		default:
			switch state {
			case stateOurs:
				current.Ours = append(current.Ours, line)
			case stateTheirs:
				current.Theirs = append(current.Theirs, line)
			}
		}
	}

	return hunks
}

// ParseFile parses a conflicted file's content into a File, preserving every
// source line so Render can reconstruct the original bytes exactly.
func ParseFile(path, content string) File {
	return File{
		Path:  path,
		Lines: splitLines(content),
		Hunks: ParseHunks(content),
	}
}

func splitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func contextSlice(lines []string, from, to int) []string {
	if from < 0 {
		from = 0
	}
	if to > len(lines) {
		to = len(lines)
	}
	if from >= to {
		return nil
	}
	out := make([]string, to-from)
	copy(out, lines[from:to])
	return out
}

// Render serializes a parsed File back to text. Because ParseFile retains
// every source line verbatim, this is an exact round trip modulo trailing-
// newline normalization.
func Render(f File) string {
	if len(f.Lines) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, l := range f.Lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return sb.String()
}
