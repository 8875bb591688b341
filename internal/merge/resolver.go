package merge

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aren13/momentum/internal/conflict"
)

// DefaultMaxRetries is the default retry cap for a rejected resolution.
const DefaultMaxRetries = 3

// ResolverStats tallies outcomes across every Resolve call for a
// ConflictResolver's lifetime.
type ResolverStats struct {
	Attempted        int
	Successful       int
	Failed           int
	ValidationErrors int
	Retries          int
}

// QueueEntry records a file that could not be fully AI-resolved.
type QueueEntry struct {
	Path      string
	Reason    string
	Timestamp string
}

// ConflictResolver applies AI-produced resolutions to conflicted files,
// validating each one and retrying on rejection up to a configured cap.
type ConflictResolver struct {
	aiResolve  AIResolveFunc
	maxRetries int

	mu    sync.Mutex
	stats ResolverStats
	queue []QueueEntry
}

// NewConflictResolver creates a ConflictResolver. maxRetries <= 0 uses
// DefaultMaxRetries.
func NewConflictResolver(aiResolve AIResolveFunc, maxRetries int) *ConflictResolver {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &ConflictResolver{aiResolve: aiResolve, maxRetries: maxRetries}
}

// Stats returns a snapshot of accumulated statistics.
func (r *ConflictResolver) Stats() ResolverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Queue returns a snapshot of the manual-resolution queue.
func (r *ConflictResolver) Queue() []QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QueueEntry, len(r.queue))
	copy(out, r.queue)
	return out
}

// ClearQueue drains the manual-resolution queue.
func (r *ConflictResolver) ClearQueue() {
	r.mu.Lock()
	r.queue = nil
	r.mu.Unlock()
}

// Resolve requests a validated AI resolution for one conflicted file,
// retrying on validation failure up to the configured cap. It does not
// touch disk; callers apply the returned Resolution with Apply. On
// exhaustion it appends a queue entry and returns the last validation
// error.
func (r *ConflictResolver) Resolve(file conflict.FileAnalysis, language string, ctx PromptContext, now func() string) (Resolution, error) {
	r.mu.Lock()
	r.stats.Attempted++
	r.mu.Unlock()

	prompt := BuildPrompt(file, language, ctx)

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.mu.Lock()
			r.stats.Retries++
			r.mu.Unlock()
			prompt = WithRetryError(prompt, lastErr)
		}

		resolution, err := r.aiResolve(prompt)
		if err != nil {
			lastErr = err
			continue
		}

		if valErr := Validate(resolution, file.Hunks, language); valErr != nil {
			r.mu.Lock()
			r.stats.ValidationErrors++
			r.mu.Unlock()
			lastErr = valErr
			continue
		}

		r.mu.Lock()
		r.stats.Successful++
		r.mu.Unlock()
		return resolution, nil
	}

	r.mu.Lock()
	r.stats.Failed++
	r.queue = append(r.queue, QueueEntry{Path: file.Path, Reason: errString(lastErr), Timestamp: now()})
	r.mu.Unlock()
	return Resolution{}, fmt.Errorf("resolving %s: exhausted %d retries: %w", file.Path, r.maxRetries, lastErr)
}

// ResolveFullFile is the full-file counterpart of Resolve: it asks the AI
// to rewrite an entire conflicted file from its raw content rather than
// resolving it hunk by hunk, for files whose hunk-scoped resolution keeps
// failing validation. Validation is the same five-rule check, applied
// against every hunk in the file.
func (r *ConflictResolver) ResolveFullFile(file conflict.FileAnalysis, rawContent, language string, ctx PromptContext, now func() string) (Resolution, error) {
	r.mu.Lock()
	r.stats.Attempted++
	r.mu.Unlock()

	prompt := BuildFullFilePrompt(file.Path, rawContent, language, ctx)

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.mu.Lock()
			r.stats.Retries++
			r.mu.Unlock()
			prompt = WithRetryError(prompt, lastErr)
		}

		resolution, err := r.aiResolve(prompt)
		if err != nil {
			lastErr = err
			continue
		}

		if valErr := Validate(resolution, file.Hunks, language); valErr != nil {
			r.mu.Lock()
			r.stats.ValidationErrors++
			r.mu.Unlock()
			lastErr = valErr
			continue
		}

		r.mu.Lock()
		r.stats.Successful++
		r.mu.Unlock()
		return resolution, nil
	}

	r.mu.Lock()
	r.stats.Failed++
	r.queue = append(r.queue, QueueEntry{Path: file.Path, Reason: errString(lastErr), Timestamp: now()})
	r.mu.Unlock()
	return Resolution{}, fmt.Errorf("resolving %s (full-file): exhausted %d retries: %w", file.Path, r.maxRetries, lastErr)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// Apply overwrites a conflicted file on disk, replacing the span from the
// first hunk's opening marker through the last hunk's closing marker with
// the resolution's content — a BuildPrompt request covers every hunk in a
// file in one pass, so the resolution content spans all of them. Interior
// lines between the markers are dropped; everything outside the span is
// preserved verbatim.
func Apply(path string, hunks []conflict.Hunk, resolution Resolution) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(hunks) == 0 {
		return fmt.Errorf("no hunks to replace in %s", path)
	}

	parsed := conflict.ParseFile(path, string(data))
	first := hunks[0]
	last := hunks[len(hunks)-1]

	var out []string
	out = append(out, parsed.Lines[:first.StartLine()]...)
	out = append(out, strings.Split(strings.TrimSuffix(resolution.Content, "\n"), "\n")...)
	out = append(out, parsed.Lines[last.EndLine()+1:]...)

	return os.WriteFile(path, []byte(strings.Join(out, "\n")+"\n"), 0644)
}
