package conflict

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aren13/momentum/internal/gitrepo"
)

// FileAnalysis is the per-file conflict characterization a detection run returns.
type FileAnalysis struct {
	Path       string
	Hunks      []Hunk
	Category   Category
	Difficulty int
}

// Summary aggregates a detection run's per-file analyses.
type Summary struct {
	HasConflicts   bool
	Files          []FileAnalysis
	AverageScore   float64
	Recommendation Recommendation
}

// Detector runs dry-run merges and characterizes the resulting conflicts
// without leaving side effects.
type Detector struct {
	repo *gitrepo.Repo
}

// NewDetector creates a Detector rooted at the given worktree directory.
func NewDetector(worktreeDir string) *Detector {
	return &Detector{repo: gitrepo.NewRepo(worktreeDir)}
}

// Detect begins a merge of target into the worktree's current branch,
// leaving conflict markers in place so conflicted files can be read while
// the merge is still live, then aborts it either way. If the merge
// succeeds cleanly, HasConflicts is false and nothing else is populated.
func (d *Detector) Detect(target string) (Summary, error) {
	result, err := d.repo.BeginMerge(target)
	if err != nil {
		return Summary{}, fmt.Errorf("merge against %s: %w", target, err)
	}
	defer d.repo.AbortMerge()
	if !result.Conflicted {
		return Summary{HasConflicts: false}, nil
	}

	var files []FileAnalysis
	var total int
	for _, path := range result.Files {
		content, err := os.ReadFile(filepath.Join(d.repo.Dir, path))
		if err != nil {
			return Summary{}, fmt.Errorf("reading conflicted file %s: %w", path, err)
		}
		parsed := ParseFile(path, string(content))
		difficulty := Difficulty(parsed.Hunks)
		files = append(files, FileAnalysis{
			Path:       path,
			Hunks:      parsed.Hunks,
			Category:   FileCategory(parsed.Hunks),
			Difficulty: difficulty,
		})
		total += difficulty
	}

	avg := 0.0
	if len(files) > 0 {
		avg = float64(total) / float64(len(files))
	}

	return Summary{
		HasConflicts:   true,
		Files:          files,
		AverageScore:   avg,
		Recommendation: RecommendationFor(avg),
	}, nil
}
