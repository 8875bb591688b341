// Package worktree owns the .worktrees staging area: creating, listing,
// and destroying the per-task filesystem+branch isolation, and the
// gitignore coverage discipline that keeps that area out of commits,
// generalized into a standalone manager with an explicit merge pipeline.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/aren13/momentum/internal/fileutil"
	"github.com/aren13/momentum/internal/gitrepo"
	"github.com/aren13/momentum/internal/merge"
)

// BranchPrefix is prepended to a worktree's logical name to derive its
// branch label.
const BranchPrefix = "worktree/"

// Worktree is a per-task filesystem+branch isolation unit.
type Worktree struct {
	Name   string
	Path   string
	Branch string
	Base   string
}

// BranchName derives the deterministic branch label for a worktree name.
func BranchName(name string) string {
	return BranchPrefix + name
}

// ErrExists is returned by Create when a worktree with that name is already live.
type ErrExists struct{ Name string }

func (e *ErrExists) Error() string { return fmt.Sprintf("worktree %q already exists", e.Name) }

// ErrNotFound is returned by operations on a worktree name that is not live.
type ErrNotFound struct{ Name string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("worktree %q not found", e.Name) }

// ErrDirty is returned by Delete/Merge when the worktree has uncommitted changes.
type ErrDirty struct{ Name string }

func (e *ErrDirty) Error() string {
	return fmt.Sprintf("worktree %q has uncommitted changes", e.Name)
}

// Manager owns every worktree for a single repository. All operations are
// serialized per worktree name.
type Manager struct {
	repoDir string
	repo    *gitrepo.Repo

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	worktrees map[string]*Worktree

	// Stats holds the manager's aggregate merge counters.
	Stats MergeStats
	// queue is the append-only manual-resolution queue.
	queue []QueueEntry
}

// MergeStats tallies outcomes across every Merge call for this manager's
// lifetime. TotalMerges always equals the sum of the other four fields.
type MergeStats struct {
	TotalMerges    int
	AutoResolved   int
	AIResolved     int
	ManualRequired int
	Failed         int
}

// QueueEntry is one append-only conflict-queue record.
type QueueEntry struct {
	Worktree  string
	Conflicts []string
	Timestamp string
}

// NewManager creates a Manager rooted at repoDir.
func NewManager(repoDir string) *Manager {
	return &Manager{
		repoDir:   repoDir,
		repo:      gitrepo.NewRepo(repoDir),
		locks:     make(map[string]*sync.Mutex),
		worktrees: make(map[string]*Worktree),
	}
}

// Initialize ensures .worktrees/ exists and is covered by .gitignore.
func (m *Manager) Initialize() error {
	if err := fileutil.EnsureDir(fileutil.WorktreesDir(m.repoDir)); err != nil {
		return fmt.Errorf("creating worktrees directory: %w", err)
	}
	return m.ensureGitignoreCoverage()
}

func (m *Manager) ensureGitignoreCoverage() error {
	giPath := filepath.Join(m.repoDir, ".gitignore")
	covered, _ := isPathIgnored(giPath, ".worktrees/")
	if covered {
		return nil
	}

	f, err := os.OpenFile(giPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("\n.worktrees/\n"); err != nil {
		return fmt.Errorf("appending to .gitignore: %w", err)
	}
	return nil
}

// isPathIgnored reports whether the given relative path would be matched by
// the patterns already present in the .gitignore at giPath. A missing file
// behaves as "nothing is covered".
func isPathIgnored(giPath, relPath string) (bool, error) {
	data, err := os.ReadFile(giPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	gi := ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
	return gi.MatchesPath(relPath), nil
}

// lockFor returns (creating if necessary) the per-name mutex.
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Create allocates a fresh worktree for name, branched from base. It fails
// if a worktree with that name is already live.
func (m *Manager) Create(name, base string) (*Worktree, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, exists := m.worktrees[name]
	m.mu.Unlock()
	if exists {
		return nil, &ErrExists{Name: name}
	}

	branch := BranchName(name)
	path := filepath.Join(fileutil.WorktreesDir(m.repoDir), name)

	if !m.repo.BranchExists(branch) {
		if err := m.repo.CreateBranch(branch, base); err != nil {
			return nil, fmt.Errorf("creating branch %s: %w", branch, err)
		}
	}
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("creating worktree parent directory: %w", err)
	}
	if err := m.repo.CreateWorktree(path, branch); err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	wt := &Worktree{Name: name, Path: path, Branch: branch, Base: base}
	m.mu.Lock()
	m.worktrees[name] = wt
	m.mu.Unlock()
	return wt, nil
}

// Get returns the live worktree for name, or ErrNotFound.
func (m *Manager) Get(name string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.worktrees[name]
	if !ok {
		return nil, &ErrNotFound{Name: name}
	}
	return wt, nil
}

// List returns every live worktree, sorted by name for determinism.
func (m *Manager) List() []*Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Worktree, 0, len(m.worktrees))
	for _, wt := range m.worktrees {
		out = append(out, wt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a worktree's directory and branch. With force=false, a
// worktree with uncommitted changes returns ErrDirty. A missing branch is
// ignored; a missing directory is an error.
func (m *Manager) Delete(name string, force bool) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	wt, err := m.Get(name)
	if err != nil {
		return err
	}

	if !force {
		repo := gitrepo.NewRepo(wt.Path)
		dirty, err := repo.HasChanges()
		if err != nil {
			return fmt.Errorf("checking worktree state: %w", err)
		}
		if dirty {
			return &ErrDirty{Name: name}
		}
	}

	if _, statErr := os.Stat(wt.Path); statErr != nil {
		return fmt.Errorf("worktree directory missing: %w", statErr)
	}

	if err := m.repo.RemoveWorktree(wt.Path, true); err != nil {
		return fmt.Errorf("removing worktree: %w", err)
	}
	if err := m.repo.DeleteBranch(wt.Branch); err != nil {
		return fmt.Errorf("deleting branch %s: %w", wt.Branch, err)
	}

	m.mu.Lock()
	delete(m.worktrees, name)
	m.mu.Unlock()
	return nil
}

// MergeOptions configures a Merge call's escalation behavior.
type MergeOptions struct {
	AIResolve        merge.AIResolveFunc
	MaxRetries       int
	FullFileFallback bool
	PromptContext    merge.PromptContext
	Now              func() string
}

// Merge integrates a worktree's branch into target, escalating through the
// auto, AI-assisted, and manual tiers as needed. The outcome's tier and
// resolution are reflected in Stats, and a manual or partial outcome is
// appended to the conflict queue.
func (m *Manager) Merge(name, target string, opts MergeOptions) (merge.Outcome, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	wt, err := m.Get(name)
	if err != nil {
		return merge.Outcome{}, err
	}

	dirty, err := gitrepo.NewRepo(wt.Path).HasChanges()
	if err != nil {
		return merge.Outcome{}, fmt.Errorf("checking %s for uncommitted changes: %w", name, err)
	}
	if dirty {
		return merge.Outcome{}, &ErrDirty{Name: name}
	}

	pipeline := merge.NewPipeline(wt.Path, merge.Options{
		AIResolve:        opts.AIResolve,
		MaxRetries:       opts.MaxRetries,
		FullFileFallback: opts.FullFileFallback,
		PromptContext:    opts.PromptContext,
		Now:              opts.Now,
	})

	commitMessage := fmt.Sprintf("Merge %s into %s", wt.Branch, target)
	outcome, err := pipeline.Merge(target, commitMessage)

	m.mu.Lock()
	m.Stats.TotalMerges++
	switch {
	case err != nil:
		m.Stats.Failed++
	case outcome.Tier == merge.TierAuto:
		m.Stats.AutoResolved++
	case outcome.Tier == merge.TierAI || outcome.Tier == merge.TierFullFile:
		m.Stats.AIResolved++
	case outcome.Tier == merge.TierManual:
		m.Stats.ManualRequired++
	}
	m.mu.Unlock()

	if err != nil {
		now := ""
		if opts.Now != nil {
			now = opts.Now()
		}
		m.enqueue(QueueEntry{Worktree: name, Conflicts: []string{err.Error()}, Timestamp: now})
		return outcome, err
	}
	if !outcome.Resolved {
		now := ""
		if opts.Now != nil {
			now = opts.Now()
		}
		m.enqueue(QueueEntry{Worktree: name, Conflicts: outcome.UnresolvedFiles, Timestamp: now})
	}

	return outcome, nil
}

// Queue returns a snapshot of the manual-resolution queue.
func (m *Manager) Queue() []QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueEntry, len(m.queue))
	copy(out, m.queue)
	return out
}

// enqueue appends a conflict-queue entry and is called by Merge on partial
// or failed outcomes.
func (m *Manager) enqueue(entry QueueEntry) {
	m.mu.Lock()
	m.queue = append(m.queue, entry)
	m.mu.Unlock()
}

// ClearQueue drains the manual-resolution queue.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()
}

// CleanResult reports what Clean did.
type CleanResult struct {
	// Removed lists the names of worktrees deleted because their branch was
	// fully merged into target.
	Removed []string
}

// Clean removes every worktree whose branch is fully merged into target and
// prunes stale git worktree administrative metadata. A worktree with
// uncommitted changes is skipped rather than force-deleted.
func (m *Manager) Clean(target string) (CleanResult, error) {
	var result CleanResult
	for _, wt := range m.List() {
		if !m.repo.IsAncestor(wt.Branch, target) {
			continue
		}
		if err := m.Delete(wt.Name, false); err != nil {
			if _, dirty := err.(*ErrDirty); dirty {
				continue
			}
			return result, fmt.Errorf("cleaning worktree %s: %w", wt.Name, err)
		}
		result.Removed = append(result.Removed, wt.Name)
	}

	if err := m.repo.PruneWorktrees(); err != nil {
		return result, fmt.Errorf("pruning worktree metadata: %w", err)
	}
	return result, nil
}

// RollbackMerge aborts an in-progress merge attempt left behind in name's
// worktree, e.g. after Merge returns a filesystem or index-error failure.
// Safe to call when no merge is in progress.
func (m *Manager) RollbackMerge(name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	wt, err := m.Get(name)
	if err != nil {
		return err
	}

	repo := gitrepo.NewRepo(wt.Path)
	if err := repo.AbortMerge(); err != nil {
		return fmt.Errorf("rolling back merge in worktree %s: %w", name, err)
	}
	return nil
}
