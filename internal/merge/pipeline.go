package merge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aren13/momentum/internal/conflict"
	"github.com/aren13/momentum/internal/gitrepo"
)

// Tier names the resolution path a merge actually took.
type Tier string

const (
	TierAuto     Tier = "auto"
	TierAI       Tier = "ai"
	TierManual   Tier = "manual"
	TierFullFile Tier = "full-file"
)

// Outcome is the result of one Pipeline.Merge call.
type Outcome struct {
	Tier            Tier
	Resolved        bool
	ResolvedFiles   []string
	UnresolvedFiles []string
	Recommendation  conflict.Recommendation
}

// Options configures a Pipeline run.
type Options struct {
	// AIResolve, when non-nil, enables tier 2 (AI-conflict-only). A nil
	// AIResolve means every non-auto merge lands directly in the manual
	// queue.
	AIResolve AIResolveFunc
	// MaxRetries bounds retries per file in tier 2. <= 0 uses DefaultMaxRetries.
	MaxRetries int
	// FullFileFallback enables an optional tier 3 that asks the AI to
	// resolve an entire file at once rather than hunk-by-hunk, for files
	// whose hunk-scoped resolution keeps failing validation. Disabled by
	// default: a full-file rewrite has a much larger blast radius than a
	// hunk-scoped one, so it is opt-in.
	FullFileFallback bool
	PromptContext    PromptContext
	Now              func() string
}

// Pipeline runs the three-tier merge-resolution strategy against a single
// worktree: try a plain merge first, fall back to per-file AI resolution
// guided by conflict analysis, and queue whatever remains for manual
// handling.
type Pipeline struct {
	repo     *gitrepo.Repo
	detector *conflict.Detector
	opts     Options
}

// NewPipeline builds a Pipeline rooted at worktreeDir.
func NewPipeline(worktreeDir string, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = func() string { return "" }
	}
	return &Pipeline{
		repo:     gitrepo.NewRepo(worktreeDir),
		detector: conflict.NewDetector(worktreeDir),
		opts:     opts,
	}
}

// Merge attempts to merge source into the worktree's current branch,
// escalating through tiers as needed. commitMessage is used for both the
// tier-1 auto-merge commit and any tier-2 AI-resolved merge commit.
func (p *Pipeline) Merge(source, commitMessage string) (Outcome, error) {
	if err := p.repo.Merge(source, commitMessage); err == nil {
		return Outcome{Tier: TierAuto, Resolved: true}, nil
	}
	// The failed merge leaves MERGE_HEAD set and conflict markers in the
	// tree; abort it so the analysis dry-run below starts from a clean
	// working copy.
	_ = p.repo.AbortMerge()

	summary, err := p.detector.Detect(source)
	if err != nil {
		return Outcome{}, fmt.Errorf("analyzing conflicts against %s: %w", source, err)
	}
	if !summary.HasConflicts {
		// The first merge attempt left the tree dirty without conflict
		// markers (e.g. an unrelated commit/checkout failure); report it
		// rather than silently degrading to manual.
		return Outcome{}, fmt.Errorf("merge against %s failed without producing conflicts", source)
	}

	if p.opts.AIResolve == nil {
		return p.manualOutcome(summary), nil
	}

	// Re-open the merge for real so the conflicted files are back on disk
	// with markers in place, ready for Apply to overwrite them.
	reopened, err := p.repo.BeginMerge(source)
	if err != nil {
		return Outcome{}, fmt.Errorf("reopening merge against %s for resolution: %w", source, err)
	}
	if !reopened.Conflicted {
		// Lost a race with a concurrent change to source; nothing to resolve.
		return Outcome{Tier: TierAuto, Resolved: true}, nil
	}

	resolver := NewConflictResolver(p.opts.AIResolve, p.opts.MaxRetries)

	tier := TierAI
	var resolvedFiles, unresolvedFiles []string
	for _, file := range summary.Files {
		language := LanguageForPath(file.Path)
		resolution, resolveErr := resolver.Resolve(file, language, p.opts.PromptContext, p.opts.Now)
		if resolveErr != nil {
			if p.opts.FullFileFallback {
				if fullErr := p.tryFullFileFallback(file, language, resolver); fullErr == nil {
					tier = TierFullFile
					resolvedFiles = append(resolvedFiles, file.Path)
					continue
				}
			}
			unresolvedFiles = append(unresolvedFiles, file.Path)
			continue
		}
		if err := Apply(fullPath(p.repo.Dir, file.Path), file.Hunks, resolution); err != nil {
			unresolvedFiles = append(unresolvedFiles, file.Path)
			continue
		}
		if err := p.repo.StageFile(file.Path); err != nil {
			unresolvedFiles = append(unresolvedFiles, file.Path)
			continue
		}
		resolvedFiles = append(resolvedFiles, file.Path)
	}

	if len(unresolvedFiles) > 0 {
		_ = p.repo.AbortMerge()
		return Outcome{
			Tier:            TierManual,
			Resolved:        false,
			ResolvedFiles:   resolvedFiles,
			UnresolvedFiles: unresolvedFiles,
			Recommendation:  summary.Recommendation,
		}, nil
	}

	if err := p.repo.Commit(commitMessage); err != nil {
		return Outcome{}, fmt.Errorf("committing AI-resolved merge: %w", err)
	}
	return Outcome{Tier: tier, Resolved: true, ResolvedFiles: resolvedFiles}, nil
}

func (p *Pipeline) manualOutcome(summary conflict.Summary) Outcome {
	var paths []string
	for _, f := range summary.Files {
		paths = append(paths, f.Path)
	}
	return Outcome{Tier: TierManual, Resolved: false, UnresolvedFiles: paths, Recommendation: summary.Recommendation}
}

// tryFullFileFallback asks the AI to resolve an entire file's content from
// scratch instead of hunk-by-hunk, for a file whose normal resolution was
// rejected on every retry.
func (p *Pipeline) tryFullFileFallback(file conflict.FileAnalysis, language string, resolver *ConflictResolver) error {
	path := fullPath(p.repo.Dir, file.Path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s for full-file fallback: %w", file.Path, err)
	}

	resolution, err := resolver.ResolveFullFile(file, string(raw), language, p.opts.PromptContext, p.opts.Now)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(resolution.Content), 0644); err != nil {
		return fmt.Errorf("writing full-file resolution for %s: %w", file.Path, err)
	}
	return p.repo.StageFile(file.Path)
}

func fullPath(repoDir, relPath string) string {
	if repoDir == "" {
		return relPath
	}
	return filepath.Join(repoDir, relPath)
}
