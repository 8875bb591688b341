package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aren13/momentum/internal/memory"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.json"))
	if err != nil {
		t.Fatal(err)
	}
	return New(store, ttl)
}

func TestKeyIsStableUnderKeyReorderingAndVolatileFields(t *testing.T) {
	a := map[string]interface{}{"task": "build", "lang": "go", "timestamp": "111"}
	b := map[string]interface{}{"timestamp": "222", "lang": "go", "task": "build"}

	if Key(a, "should I retry?") != Key(b, "should I retry?") {
		t.Error("keys differ across reordering/volatile-field variation of an equivalent context")
	}
}

func TestKeyDiffersOnQuestionOrMeaningfulContext(t *testing.T) {
	ctx := map[string]interface{}{"task": "build"}
	k1 := Key(ctx, "should I retry?")
	k2 := Key(ctx, "should I abort?")
	if k1 == k2 {
		t.Error("different questions produced the same key")
	}

	ctx2 := map[string]interface{}{"task": "test"}
	if Key(ctx, "should I retry?") == Key(ctx2, "should I retry?") {
		t.Error("different meaningful context produced the same key")
	}
}

func TestGetMissesThenHitsAfterPut(t *testing.T) {
	c := newTestCache(t, time.Minute)
	ctx := map[string]interface{}{"task": "build"}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Put(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	v, ok := c.Get(ctx, "k")
	if !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want v, true", v, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit 1 miss", stats)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := newTestCache(t, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := map[string]interface{}{"task": "build"}

	if err := c.Put(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected entry to have expired")
	}
}

func TestClearExpiredRemovesOnlyExpiredEntries(t *testing.T) {
	c := newTestCache(t, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	if err := c.Put(map[string]interface{}{"task": "stale"}, "q", "v"); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return now.Add(30 * time.Second) }
	if err := c.Put(map[string]interface{}{"task": "fresh"}, "q", "v"); err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return now.Add(90 * time.Second) }
	removed, err := c.ClearExpired()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("ClearExpired removed %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestWarmUpPreservesOriginalExpiry(t *testing.T) {
	c := newTestCache(t, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := map[string]interface{}{"task": "build"}

	if err := c.WarmUp(map[string]memory.Decision{
		Key(ctx, "q"): {Question: "q", Answer: "v", CreatedAt: now.Add(-time.Hour).Format(time.RFC3339)},
	}); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get(ctx, "q"); ok {
		t.Error("warmed-up entry past its original expiry should be a miss")
	}
}
