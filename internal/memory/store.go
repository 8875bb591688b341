// Package memory implements a durable, JSON-backed store for patterns,
// decisions, execution history, and per-file notes that momentum
// accumulates across runs, persisted atomically under .momentum/memory.json.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aren13/momentum/internal/fileutil"
)

// Store is a thread-safe, file-backed Envelope. All mutating methods persist
// atomically before returning.
type Store struct {
	path string

	mu   sync.Mutex
	data Envelope
}

// Open loads the envelope at path, creating an empty one if the file does
// not yet exist, and migrating it forward if it was written by an older
// version.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: newEnvelope()}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading memory store %s: %w", path, err)
	}

	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		// An unparseable store recovers to an empty envelope rather than
		// failing the caller: a corrupt memory.json must not block a run.
		s.data = newEnvelope()
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("recovering unparseable memory store %s: %w", path, err)
		}
		return s, nil
	}
	s.data = migrate(e)
	return s, nil
}

// OpenDefault opens the store at the repository's default memory path.
func OpenDefault(repoDir string) (*Store, error) {
	return Open(fileutil.MemoryFilePath(repoDir))
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling memory store: %w", err)
	}
	return fileutil.WriteFileAtomic(s.path, append(data, '\n'), 0644)
}

// Snapshot returns a copy of the full envelope.
func (s *Store) Snapshot() Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// AddPattern upserts a pattern by (kind, key): an existing match has its
// Frequency incremented and Value/LastSeenAt refreshed; otherwise a new
// pattern is appended.
func (s *Store) AddPattern(kind, key, value, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.data.Patterns {
		if p.Kind == kind && p.Key == key {
			s.data.Patterns[i].Value = value
			s.data.Patterns[i].Frequency++
			s.data.Patterns[i].LastSeenAt = now
			return s.save()
		}
	}

	s.data.Patterns = append(s.data.Patterns, Pattern{
		ID: uuid.NewString(), Kind: kind, Key: key, Value: value,
		Frequency: 1, LastSeenAt: now,
	})
	return s.save()
}

// FindSimilarPatterns ranks patterns of the given kind by a normalized
// prefix/substring similarity to query, most similar first, breaking ties
// by frequency then recency.
func (s *Store) FindSimilarPatterns(kind, query string, limit int) []Pattern {
	s.mu.Lock()
	candidates := make([]Pattern, 0, len(s.data.Patterns))
	for _, p := range s.data.Patterns {
		if p.Kind == kind {
			candidates = append(candidates, p)
		}
	}
	s.mu.Unlock()

	q := normalize(query)
	type scored struct {
		p     Pattern
		score int
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		score := similarity(q, normalize(p.Key))
		if score > 0 {
			scoredList = append(scoredList, scored{p, score})
		}
	}

	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		if scoredList[i].p.Frequency != scoredList[j].p.Frequency {
			return scoredList[i].p.Frequency > scoredList[j].p.Frequency
		}
		return scoredList[i].p.LastSeenAt > scoredList[j].p.LastSeenAt
	})

	if limit <= 0 || limit > len(scoredList) {
		limit = len(scoredList)
	}
	out := make([]Pattern, limit)
	for i := 0; i < limit; i++ {
		out[i] = scoredList[i].p
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// similarity scores a candidate against a query: exact match scores
// highest, then prefix match, then substring containment either direction,
// then shared-token overlap. Zero means unrelated.
func similarity(query, candidate string) int {
	switch {
	case query == "" || candidate == "":
		return 0
	case query == candidate:
		return 100
	case strings.HasPrefix(candidate, query) || strings.HasPrefix(query, candidate):
		return 80
	case strings.Contains(candidate, query) || strings.Contains(query, candidate):
		return 60
	}

	qTokens := strings.Fields(query)
	cTokens := make(map[string]bool)
	for _, t := range strings.Fields(candidate) {
		cTokens[t] = true
	}
	shared := 0
	for _, t := range qTokens {
		if cTokens[t] {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	return 20 + shared*5
}

// GetPatterns returns up to limit patterns of the given kind, sorted by
// frequency descending, then by recency descending, then by key. Unlike
// FindSimilarPatterns this does no text matching: it is the plain listing
// operation callers use to browse what's been observed for a kind.
func (s *Store) GetPatterns(kind string, limit int) []Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Pattern, 0, len(s.data.Patterns))
	for _, p := range s.data.Patterns {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].LastSeenAt != out[j].LastSeenAt {
			return out[i].LastSeenAt > out[j].LastSeenAt
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// RecordDecision appends a new decision record. This is the append-only
// audit trail; it never sets ContextHash and is not visible to the cache
// operations below.
func (s *Store) RecordDecision(question, answer, context, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Decisions = append(s.data.Decisions, Decision{
		ID: uuid.NewString(), Question: question, Answer: answer, Context: context, CreatedAt: now,
	})
	return s.save()
}

// CacheDecision upserts a decision keyed by contextHash: an existing cached
// decision with the same hash is overwritten in place so a repeated put
// for the same (context, question) replaces rather than accumulates.
func (s *Store) CacheDecision(contextHash, question, answer, context, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.data.Decisions {
		if d.ContextHash == contextHash {
			s.data.Decisions[i].Question = question
			s.data.Decisions[i].Answer = answer
			s.data.Decisions[i].Context = context
			s.data.Decisions[i].CreatedAt = now
			return s.save()
		}
	}
	s.data.Decisions = append(s.data.Decisions, Decision{
		ID: uuid.NewString(), ContextHash: contextHash, Question: question, Answer: answer, Context: context, CreatedAt: now,
	})
	return s.save()
}

// GetCachedDecision returns the decision cached under contextHash, if any.
func (s *Store) GetCachedDecision(contextHash string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.data.Decisions {
		if d.ContextHash != "" && d.ContextHash == contextHash {
			return d, true
		}
	}
	return Decision{}, false
}

// DeleteCachedDecision removes the decision cached under contextHash. A
// missing hash is not an error.
func (s *Store) DeleteCachedDecision(contextHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.data.Decisions {
		if d.ContextHash != "" && d.ContextHash == contextHash {
			s.data.Decisions = append(s.data.Decisions[:i], s.data.Decisions[i+1:]...)
			return s.save()
		}
	}
	return nil
}

// DeleteExpiredDecisions removes every cached decision (ContextHash set)
// older than ttlSeconds relative to now, and returns how many were removed.
// Decisions without a ContextHash are the append-only audit trail and are
// never touched by this operation.
func (s *Store) DeleteExpiredDecisions(ttlSeconds int64, now string) (int, error) {
	nowT, err := time.Parse(time.RFC3339, now)
	if err != nil {
		return 0, fmt.Errorf("parsing current time: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []Decision
	removed := 0
	for _, d := range s.data.Decisions {
		if d.ContextHash == "" {
			kept = append(kept, d)
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, d.CreatedAt)
		if err == nil && nowT.Sub(createdAt) > time.Duration(ttlSeconds)*time.Second {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	if removed == 0 {
		return 0, nil
	}
	s.data.Decisions = kept
	return removed, s.save()
}

// ListCachedDecisions returns every cached decision (ContextHash set),
// most recently created first.
func (s *Store) ListCachedDecisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, 0, len(s.data.Decisions))
	for _, d := range s.data.Decisions {
		if d.ContextHash != "" {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// RecordExecution appends a new execution record.
func (s *Store) RecordExecution(taskID, outcome string, durationMS int64, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Executions = append(s.data.Executions, Execution{
		ID: uuid.NewString(), TaskID: taskID, Outcome: outcome, DurationMS: durationMS, RanAt: now,
	})
	return s.save()
}

// NoteFile upserts a note for a file path.
func (s *Store) NoteFile(path, note, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.data.Files {
		if f.Path == path {
			s.data.Files[i].Note = note
			s.data.Files[i].UpdatedAt = now
			return s.save()
		}
	}
	s.data.Files = append(s.data.Files, FileNote{Path: path, Note: note, UpdatedAt: now})
	return s.save()
}

// GetExecutionHistory returns up to limit execution records, most recent
// first. limit <= 0 returns the full history.
func (s *Store) GetExecutionHistory(limit int) []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Execution, len(s.data.Executions))
	copy(out, s.data.Executions)
	sort.Slice(out, func(i, j int) bool { return out[i].RanAt > out[j].RanAt })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// GetFile returns the note for a file path, if one has been recorded.
func (s *Store) GetFile(path string) (FileNote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.data.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileNote{}, false
}

// Stats is a point-in-time count of each collection in the store.
type Stats struct {
	Patterns        int
	Decisions       int
	CachedDecisions int
	Executions      int
	Files           int
}

// GetStats returns the current size of every collection.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached := 0
	for _, d := range s.data.Decisions {
		if d.ContextHash != "" {
			cached++
		}
	}
	return Stats{
		Patterns:        len(s.data.Patterns),
		Decisions:       len(s.data.Decisions),
		CachedDecisions: cached,
		Executions:      len(s.data.Executions),
		Files:           len(s.data.Files),
	}
}

// Collection names accepted by Clear.
const (
	CollectionPatterns   = "patterns"
	CollectionDecisions  = "decisions"
	CollectionExecutions = "executions"
	CollectionFiles      = "files"
)

// Clear empties the named collections. With no selectors it clears all
// four; an unrecognized selector is ignored.
func (s *Store) Clear(collections ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(collections) == 0 {
		collections = []string{CollectionPatterns, CollectionDecisions, CollectionExecutions, CollectionFiles}
	}
	for _, c := range collections {
		switch c {
		case CollectionPatterns:
			s.data.Patterns = nil
		case CollectionDecisions:
			s.data.Decisions = nil
		case CollectionExecutions:
			s.data.Executions = nil
		case CollectionFiles:
			s.data.Files = nil
		}
	}
	return s.save()
}

// ExportMode controls how Import merges an incoming envelope.
type ExportMode string

const (
	ExportMerge   ExportMode = "merge"
	ExportReplace ExportMode = "replace"
)

// Export returns the current envelope serialized as JSON.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.data, "", "  ")
}

// Import merges or replaces the store's contents from a previously exported
// envelope. Merge mode upserts patterns by (kind, key), decisions by
// contextHash, and files by path, each taking the incoming record when it is
// newer; executions have no keyed identity and are appended in full, and
// decisions with no contextHash (the plain audit trail, not cache entries)
// are likewise appended rather than deduplicated.
func (s *Store) Import(raw []byte, mode ExportMode) error {
	var incoming Envelope
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return fmt.Errorf("parsing import payload: %w", err)
	}
	incoming = migrate(incoming)

	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == ExportReplace {
		s.data = incoming
		return s.save()
	}

	for _, p := range incoming.Patterns {
		merged := false
		for i, existing := range s.data.Patterns {
			if existing.Kind == p.Kind && existing.Key == p.Key {
				s.data.Patterns[i].Frequency += p.Frequency
				if p.LastSeenAt > existing.LastSeenAt {
					s.data.Patterns[i].Value = p.Value
					s.data.Patterns[i].LastSeenAt = p.LastSeenAt
				}
				merged = true
				break
			}
		}
		if !merged {
			s.data.Patterns = append(s.data.Patterns, p)
		}
	}
	for _, d := range incoming.Decisions {
		if d.ContextHash == "" {
			s.data.Decisions = append(s.data.Decisions, d)
			continue
		}
		merged := false
		for i, existing := range s.data.Decisions {
			if existing.ContextHash == d.ContextHash {
				if d.CreatedAt > existing.CreatedAt {
					s.data.Decisions[i] = d
				}
				merged = true
				break
			}
		}
		if !merged {
			s.data.Decisions = append(s.data.Decisions, d)
		}
	}

	s.data.Executions = append(s.data.Executions, incoming.Executions...)

	for _, f := range incoming.Files {
		merged := false
		for i, existing := range s.data.Files {
			if existing.Path == f.Path {
				if f.UpdatedAt > existing.UpdatedAt {
					s.data.Files[i] = f
				}
				merged = true
				break
			}
		}
		if !merged {
			s.data.Files = append(s.data.Files, f)
		}
	}

	return s.save()
}

// Repair rewrites the envelope at Version=schemaVersion and drops any
// record missing its required identifying field, fixing a store that was
// hand-edited or partially written.
func (s *Store) Repair() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Version = schemaVersion

	var patterns []Pattern
	for _, p := range s.data.Patterns {
		if p.ID != "" && p.Kind != "" && p.Key != "" {
			patterns = append(patterns, p)
		}
	}
	s.data.Patterns = patterns

	var decisions []Decision
	for _, d := range s.data.Decisions {
		if d.ID != "" && d.Question != "" {
			decisions = append(decisions, d)
		}
	}
	s.data.Decisions = decisions

	var executions []Execution
	for _, e := range s.data.Executions {
		if e.ID != "" && e.TaskID != "" {
			executions = append(executions, e)
		}
	}
	s.data.Executions = executions

	var files []FileNote
	for _, f := range s.data.Files {
		if f.Path != "" {
			files = append(files, f)
		}
	}
	s.data.Files = files

	return s.save()
}
