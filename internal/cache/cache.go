// Package cache implements a TTL-bounded memo of AI decisions layered over
// internal/memory's Decisions collection: the cache never keeps its own
// parallel store, it only computes lookup keys and applies expiry on top of
// records memory.Store already persists, so repeatedly asking the same
// question against the same state doesn't re-invoke the AI and survives a
// process restart.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aren13/momentum/internal/memory"
)

// volatileKeyWords names the (case-insensitive) substrings a context key is
// checked against; a match strips that key before hashing because it varies
// run-to-run without changing the question's actual meaning (timestamps,
// generated identifiers).
var volatileKeyWords = []string{"timestamp", "date", "time", "id", "uuid"}

func isVolatileKey(k string) bool {
	lower := strings.ToLower(k)
	for _, w := range volatileKeyWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Stats tallies cache effectiveness since creation or the last Reset.
type Stats struct {
	Hits   int
	Misses int
}

// HitRate returns hits/(hits+misses), or 0 when both are 0.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a thread-safe TTL-bounded decision memo backed by a memory.Store.
type Cache struct {
	store *memory.Store
	ttl   time.Duration

	mu    sync.Mutex
	stats Stats
	now   func() time.Time
}

// New creates a Cache with a fixed TTL applied to every entry, reading and
// writing decisions through store.
func New(store *memory.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// Key computes the normalized cache key for a (context, question) pair.
// Context is an arbitrary JSON-serializable map; volatile keys are stripped
// and the remainder is recursively key-sorted before hashing so equivalent
// contexts in different key orders produce the same key.
func Key(context map[string]interface{}, question string) string {
	normalized := normalize(context)
	payload, _ := json.Marshal(struct {
		Context interface{} `json:"context"`
		Q       string      `json:"q"`
	}{Context: normalized, Q: question})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			if isVolatileKey(k) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]keyedValue, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyedValue{K: k, V: normalize(t[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return t
	}
}

type keyedValue struct {
	K string      `json:"k"`
	V interface{} `json:"v"`
}

// Put stores answer under the hash of (context, question), overwriting any
// existing entry for the same pair.
func (c *Cache) Put(context map[string]interface{}, question, answer string) error {
	key := Key(context, question)
	contextJSON, err := json.Marshal(context)
	if err != nil {
		return err
	}
	return c.store.CacheDecision(key, question, answer, string(contextJSON), c.now().Format(time.RFC3339))
}

// Get returns the cached answer for (context, question) if present and not
// yet past its TTL. An expired entry is evicted as part of the miss.
func (c *Cache) Get(context map[string]interface{}, question string) (string, bool) {
	key := Key(context, question)

	d, ok := c.store.GetCachedDecision(key)
	if !ok {
		c.recordMiss()
		return "", false
	}

	createdAt, err := time.Parse(time.RFC3339, d.CreatedAt)
	if err != nil || c.now().Sub(createdAt) > c.ttl {
		_ = c.store.DeleteCachedDecision(key)
		c.recordMiss()
		return "", false
	}

	c.recordHit()
	return d.Answer, true
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// Invalidate removes the entry stored under the given context hash.
func (c *Cache) Invalidate(contextHash string) error {
	return c.store.DeleteCachedDecision(contextHash)
}

// InvalidateByContext removes the entry for a specific (context, question)
// pair, computing its hash the same way Put/Get do.
func (c *Cache) InvalidateByContext(context map[string]interface{}, question string) error {
	return c.store.DeleteCachedDecision(Key(context, question))
}

// ClearExpired removes every entry past its TTL and returns how many were
// removed.
func (c *Cache) ClearExpired() (int, error) {
	return c.store.DeleteExpiredDecisions(int64(c.ttl/time.Second), c.now().Format(time.RFC3339))
}

// Stats returns a snapshot of hit/miss counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset zeroes the hit/miss counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.stats = Stats{}
	c.mu.Unlock()
}

// PruneToRecent keeps only the n most recently created entries, deleting
// the rest, and returns how many were removed.
func (c *Cache) PruneToRecent(n int) (int, error) {
	entries := c.store.ListCachedDecisions() // already sorted most-recent-first
	if n < 0 {
		n = 0
	}
	if n >= len(entries) {
		return 0, nil
	}
	removed := 0
	for _, d := range entries[n:] {
		if err := c.store.DeleteCachedDecision(d.ContextHash); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// WarmUp preloads entries (e.g. from a prior session's export) by writing
// each one through to the store with its original timestamp, rather than
// recomputing a fresh TTL window.
func (c *Cache) WarmUp(entries map[string]memory.Decision) error {
	for hash, d := range entries {
		if err := c.store.CacheDecision(hash, d.Question, d.Answer, d.Context, d.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of cache entries currently stored, expired or not.
func (c *Cache) Len() int {
	return len(c.store.ListCachedDecisions())
}
