// Package pattern extracts recurring conventions from a repository and its
// execution history (file structure, naming, import usage, error-fix
// recipes, test shape, commit style), and ranks them by confidence so a
// caller can suggest the most likely convention for a new file or fix.
package pattern

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/aren13/momentum/internal/memory"
)

// Kind identifies which rule extracted a pattern.
type Kind string

const (
	KindFileStructure Kind = "file-structure"
	KindNaming        Kind = "naming"
	KindImport        Kind = "import"
	KindErrorFix      Kind = "error-fix"
	KindTest          Kind = "test"
	KindCommitMessage Kind = "commit-message"
)

// Suggestion is a ranked candidate for a query, backed by a stored pattern.
type Suggestion struct {
	Pattern    memory.Pattern
	Confidence float64
}

// Learner extracts patterns from observed repository artifacts and persists
// them to a memory.Store, then serves ranked suggestions back out.
type Learner struct {
	store *memory.Store
	now   func() string
}

// NewLearner creates a Learner that records into store. now supplies the
// current timestamp string for recorded patterns.
func NewLearner(store *memory.Store, now func() string) *Learner {
	return &Learner{store: store, now: now}
}

var (
	testFileRE     = regexp.MustCompile(`(?i)(_test|\.test|^test_)`)
	importLineRE   = regexp.MustCompile(`^\s*(?:import\s+)?"([^"]+)"\s*$`)
	exportedNameRE = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
)

// ObserveFileStructure records the directory a file of a given role (e.g.
// "handler", "test", "config") was placed in, so future files of the same
// role can be suggested a consistent home.
func (l *Learner) ObserveFileStructure(role, path string) error {
	dir := filepath.Dir(path)
	return l.store.AddPattern(string(KindFileStructure), role, dir, l.now())
}

// ObserveNaming records an identifier's naming convention, keyed by a
// caller-supplied role (e.g. "handler-suffix", "test-prefix").
func (l *Learner) ObserveNaming(role, identifier string) error {
	return l.store.AddPattern(string(KindNaming), role, identifier, l.now())
}

// ObserveImports scans source lines for import statements and records each
// distinct import path observed, so a later suggestion can rank the most
// commonly used package for a given need.
func (l *Learner) ObserveImports(lines []string) error {
	for _, line := range lines {
		m := importLineRE.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		path := m[1]
		if err := l.store.AddPattern(string(KindImport), path, path, l.now()); err != nil {
			return err
		}
	}
	return nil
}

// ObserveErrorFix records that a given error signature was resolved by a
// specific fix description, building a recipe book keyed by error text.
func (l *Learner) ObserveErrorFix(errorSignature, fixDescription string) error {
	return l.store.AddPattern(string(KindErrorFix), errorSignature, fixDescription, l.now())
}

// ObserveTestShape records the assertion/test-helper style seen in a test
// file (e.g. "testify-require", "table-driven"), keyed by package path.
func (l *Learner) ObserveTestShape(packagePath, shape string) error {
	return l.store.AddPattern(string(KindTest), packagePath, shape, l.now())
}

// ObserveCommitMessage records a commit message's leading verb/prefix
// convention (e.g. "feat:", "fix:"), keyed by that prefix.
func (l *Learner) ObserveCommitMessage(message string) error {
	prefix := commitPrefix(message)
	if prefix == "" {
		return nil
	}
	return l.store.AddPattern(string(KindCommitMessage), prefix, message, l.now())
}

func commitPrefix(message string) string {
	first := strings.SplitN(strings.TrimSpace(message), "\n", 2)[0]
	if i := strings.Index(first, ":"); i > 0 && i < 20 {
		return strings.TrimSpace(first[:i])
	}
	if fields := strings.Fields(first); len(fields) > 0 && !exportedNameRE.MatchString(fields[0]) {
		return fields[0]
	}
	return ""
}

// IsTestPath reports whether path looks like a test file by the
// conventions this package recognizes.
func IsTestPath(path string) bool {
	return testFileRE.MatchString(filepath.Base(path))
}

// Suggest ranks stored patterns of kind against query using fuzzy matching
// over pattern keys, falling back to the store's own similarity ranking
// for query strings fuzzy finds no match for, and returns at most limit
// results most-confident first.
func (l *Learner) Suggest(kind Kind, query string, limit int) []Suggestion {
	candidates := l.store.FindSimilarPatterns(string(kind), query, 0)
	if len(candidates) == 0 {
		return nil
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Key
	}
	matches := fuzzy.Find(query, keys)

	bestScore := make(map[int]int)
	for _, m := range matches {
		bestScore[m.Index] = m.Score
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for i, c := range candidates {
		confidence := confidenceFor(c, bestScore[i])
		suggestions = append(suggestions, Suggestion{Pattern: c, Confidence: confidence})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	if limit > 0 && limit < len(suggestions) {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// confidenceFor blends a pattern's observed frequency with its fuzzy-match
// score against the query into a single 0..1 confidence value.
func confidenceFor(p memory.Pattern, fuzzyScore int) float64 {
	freqWeight := float64(p.Frequency) / float64(p.Frequency+3)
	matchWeight := 0.5
	if fuzzyScore > 0 {
		matchWeight = 1.0
	}
	return freqWeight*0.6 + matchWeight*0.4
}
