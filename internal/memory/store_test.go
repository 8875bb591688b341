package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesEmptyEnvelopeWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store, err := Open(path)
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Equal(t, schemaVersion, snap.Version)
	require.Empty(t, snap.Patterns)
}

func TestAddPatternUpsertsByKindAndKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.AddPattern("naming", "handler-suffix", "Handler", "t1"))
	require.NoError(t, store.AddPattern("naming", "handler-suffix", "Handler", "t2"))

	snap := store.Snapshot()
	require.Len(t, snap.Patterns, 1)
	require.Equal(t, 2, snap.Patterns[0].Frequency)
	require.Equal(t, "t2", snap.Patterns[0].LastSeenAt)
}

func TestAddPatternPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.AddPattern("fix", "missing-import", "add encoding/json", "t1"))

	reopened, err := Open(path)
	require.NoError(t, err)

	snap := reopened.Snapshot()
	require.Len(t, snap.Patterns, 1)
	require.Equal(t, "missing-import", snap.Patterns[0].Key)
}

func TestFindSimilarPatternsRanksExactAndPrefixAboveUnrelated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.AddPattern("naming", "handler suffix", "Handler", "t1"))
	require.NoError(t, store.AddPattern("naming", "handler", "Handler", "t2"))
	require.NoError(t, store.AddPattern("naming", "completely unrelated", "X", "t3"))

	results := store.FindSimilarPatterns("naming", "handler", 10)
	require.GreaterOrEqual(t, len(results), 2)
	require.Equal(t, "handler", results[0].Key)
	for _, r := range results {
		require.NotEqual(t, "completely unrelated", r.Key)
	}
}

func TestImportMergeAccumulatesFrequency(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "a.json")
	storeA, err := Open(pathA)
	require.NoError(t, err)
	require.NoError(t, storeA.AddPattern("naming", "handler", "Handler", "t1"))
	exported, err := storeA.Export()
	require.NoError(t, err)

	pathB := filepath.Join(t.TempDir(), "b.json")
	storeB, err := Open(pathB)
	require.NoError(t, err)
	require.NoError(t, storeB.AddPattern("naming", "handler", "Handler", "t0"))

	require.NoError(t, storeB.Import(exported, ExportMerge))

	snap := storeB.Snapshot()
	require.Len(t, snap.Patterns, 1)
	require.Equal(t, 2, snap.Patterns[0].Frequency)
}

func TestRepairDropsRecordsMissingRequiredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.AddPattern("naming", "handler", "Handler", "t1"))

	store.mu.Lock()
	store.data.Patterns = append(store.data.Patterns, Pattern{Kind: "naming"}) // missing ID/Key
	store.mu.Unlock()

	require.NoError(t, store.Repair())

	snap := store.Snapshot()
	require.Len(t, snap.Patterns, 1)
}

func TestMigrateAdvancesOldVersionsToCurrent(t *testing.T) {
	migrated := migrate(Envelope{Version: 1})
	require.Equal(t, schemaVersion, migrated.Version)
}

func TestOpenRecoversEmptyEnvelopeOnUnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0644))

	store, err := Open(path)
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Equal(t, schemaVersion, snap.Version)
	require.Empty(t, snap.Patterns)

	// The recovery must have been saved: reopening sees a valid, empty
	// envelope rather than the original corrupt bytes.
	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, schemaVersion, reopened.Snapshot().Version)
}

func TestImportMergeUpsertsDecisionsByContextHash(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "a.json")
	storeA, err := Open(pathA)
	require.NoError(t, err)
	require.NoError(t, storeA.CacheDecision("hash-1", "q", "newer answer", "ctx", "t2"))
	exported, err := storeA.Export()
	require.NoError(t, err)

	pathB := filepath.Join(t.TempDir(), "b.json")
	storeB, err := Open(pathB)
	require.NoError(t, err)
	require.NoError(t, storeB.CacheDecision("hash-1", "q", "older answer", "ctx", "t1"))

	require.NoError(t, storeB.Import(exported, ExportMerge))

	snap := storeB.Snapshot()
	require.Len(t, snap.Decisions, 1, "decisions sharing a contextHash must be upserted, not duplicated")
	require.Equal(t, "newer answer", snap.Decisions[0].Answer)
}

func TestImportMergeUpsertsFilesByPath(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "a.json")
	storeA, err := Open(pathA)
	require.NoError(t, err)
	require.NoError(t, storeA.NoteFile("handler.go", "newer note", "t2"))
	exported, err := storeA.Export()
	require.NoError(t, err)

	pathB := filepath.Join(t.TempDir(), "b.json")
	storeB, err := Open(pathB)
	require.NoError(t, err)
	require.NoError(t, storeB.NoteFile("handler.go", "older note", "t1"))

	require.NoError(t, storeB.Import(exported, ExportMerge))

	snap := storeB.Snapshot()
	require.Len(t, snap.Files, 1, "files sharing a path must be upserted, not duplicated")
	require.Equal(t, "newer note", snap.Files[0].Note)
}
