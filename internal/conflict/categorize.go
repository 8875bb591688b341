package conflict

import (
	"regexp"
	"strings"
)

// Category is a hunk or file's assessed merge difficulty.
type Category string

const (
	CategoryTrivial  Category = "trivial"
	CategoryModerate Category = "moderate"
	CategoryComplex  Category = "complex"
)

var (
	importLineRE    = regexp.MustCompile(`^\s*(import|require|use)\b`)
	functionTokenRE = regexp.MustCompile(`\b(func|function|def|fn)\b`)
	typeDeclRE      = regexp.MustCompile(`\b(class|interface|struct|enum)\b`)
	controlFlowRE   = regexp.MustCompile(`\b(if|for|while|switch|async|await|promise)\b`)
	nestingTokenRE  = regexp.MustCompile(`[{}()\[\]]`)
)

// categorizeHunk applies first-match-wins rules: trivial, then complex,
// else moderate.
func categorizeHunk(h Hunk) Category {
	if isTrivial(h) {
		return CategoryTrivial
	}
	if isComplex(h) {
		return CategoryComplex
	}
	return CategoryModerate
}

func isTrivial(h Hunk) bool {
	if allWhitespaceOnly(h.Ours) && allWhitespaceOnly(h.Theirs) {
		return true
	}
	if allMatch(h.Ours, isImportOrComment) && allMatch(h.Theirs, isImportOrComment) {
		return true
	}
	if len(h.Ours) == 1 && len(h.Theirs) == 1 && strings.TrimSpace(h.Ours[0]) == strings.TrimSpace(h.Theirs[0]) {
		return true
	}
	return false
}

func isImportOrComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if importLineRE.MatchString(line) {
		return true
	}
	if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
		return true
	}
	return false
}

func allWhitespaceOnly(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func allMatch(lines []string, pred func(string) bool) bool {
	if len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		if !pred(l) {
			return false
		}
	}
	return true
}

func isComplex(h Hunk) bool {
	if len(h.Ours) > 20 || len(h.Theirs) > 20 {
		return true
	}
	if anyMatch(h.Ours, functionTokenRE) && anyMatch(h.Theirs, functionTokenRE) {
		return true
	}
	if anyMatch(h.Ours, typeDeclRE) && anyMatch(h.Theirs, typeDeclRE) {
		return true
	}
	if countControlFlowTokens(h.Ours)+countControlFlowTokens(h.Theirs) >= 2 &&
		anyMatch(h.Ours, controlFlowRE) && anyMatch(h.Theirs, controlFlowRE) {
		return true
	}
	return false
}

func anyMatch(lines []string, re *regexp.Regexp) bool {
	for _, l := range lines {
		if re.MatchString(l) {
			return true
		}
	}
	return false
}

func countControlFlowTokens(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(controlFlowRE.FindAllString(l, -1))
	}
	return n
}

// categoryWeight is the per-category weight used by the difficulty formula.
func categoryWeight(c Category) int {
	switch c {
	case CategoryTrivial:
		return 5
	case CategoryComplex:
		return 30
	default:
		return 15
	}
}

// complexity counts nesting tokens, function tokens (weight 2), and
// control-flow tokens (weight 1) across both sides of a hunk.
func complexity(h Hunk) int {
	both := append(append([]string{}, h.Ours...), h.Theirs...)
	score := 0
	for _, l := range both {
		score += len(nestingTokenRE.FindAllString(l, -1))
		score += 2 * len(functionTokenRE.FindAllString(l, -1))
		score += len(controlFlowRE.FindAllString(l, -1))
	}
	return score
}

// linesChanged is max(|ours|, |theirs|) for a hunk, used by both the
// difficulty formula and the resolution-length bound.
func linesChanged(h Hunk) int {
	if len(h.Ours) > len(h.Theirs) {
		return len(h.Ours)
	}
	return len(h.Theirs)
}

// Difficulty computes a 0-100 difficulty score for a parsed file:
//
//	min(10*hunkCount, 30) + Σ_hunks (category_weight + min(linesChanged, 20) + 2*complexity)
func Difficulty(hunks []Hunk) int {
	score := min(10*len(hunks), 30)
	for _, h := range hunks {
		cat := categorizeHunk(h)
		score += categoryWeight(cat) + min(linesChanged(h), 20) + 2*complexity(h)
	}
	if score > 100 {
		score = 100
	}
	return score
}

// FileCategory is the worst category among a file's hunks: all trivial ->
// trivial; any complex -> complex; else moderate.
func FileCategory(hunks []Hunk) Category {
	if len(hunks) == 0 {
		return CategoryTrivial
	}
	allTrivial := true
	anyComplex := false
	for _, h := range hunks {
		cat := categorizeHunk(h)
		if cat != CategoryTrivial {
			allTrivial = false
		}
		if cat == CategoryComplex {
			anyComplex = true
		}
	}
	switch {
	case anyComplex:
		return CategoryComplex
	case allTrivial:
		return CategoryTrivial
	default:
		return CategoryModerate
	}
}

// Recommendation buckets average difficulty into fixed thresholds.
type Recommendation string

const (
	RecommendAutoLikely    Recommendation = "auto-resolution likely successful"
	RecommendAIRecommended Recommendation = "AI resolution recommended"
	RecommendAIWithReview  Recommendation = "AI resolution with review"
	RecommendManual        Recommendation = "manual resolution required"
)

// RecommendationFor maps an average difficulty score to a recommendation
// bucket at the 20/50/70 thresholds.
func RecommendationFor(avgDifficulty float64) Recommendation {
	switch {
	case avgDifficulty < 20:
		return RecommendAutoLikely
	case avgDifficulty < 50:
		return RecommendAIRecommended
	case avgDifficulty < 70:
		return RecommendAIWithReview
	default:
		return RecommendManual
	}
}
