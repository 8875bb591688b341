package memory

// schemaVersion is the current on-disk envelope version. Bump this and add
// a migration function whenever Envelope's shape changes.
const schemaVersion = 4

// Envelope is the JSON-serialized root of the memory store.
type Envelope struct {
	Version    int         `json:"version"`
	Patterns   []Pattern   `json:"patterns"`
	Decisions  []Decision  `json:"decisions"`
	Executions []Execution `json:"executions"`
	Files      []FileNote  `json:"files"`
}

// Pattern is a recorded recurring behavior (naming convention, fix recipe,
// commit style) the system has observed and can suggest again.
type Pattern struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Frequency  int    `json:"frequency"`
	LastSeenAt string `json:"lastSeenAt"`
}

// Decision is a recorded answer to a previously asked question, kept so it
// can be recalled instead of re-derived. ContextHash is non-empty only for
// decisions written through CacheDecision: it is the lookup key the
// DecisionCache layer hashes a (context, question) pair down to, and lets
// the same Decisions collection double as a cache without disturbing the
// append-only audit history RecordDecision writes.
type Decision struct {
	ID          string `json:"id"`
	ContextHash string `json:"contextHash,omitempty"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Context     string `json:"context"`
	CreatedAt   string `json:"createdAt"`
}

// Execution is one historical task run outcome.
type Execution struct {
	ID         string `json:"id"`
	TaskID     string `json:"taskId"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"durationMs"`
	RanAt      string `json:"ranAt"`
}

// FileNote is an observation attached to a specific repository file path.
type FileNote struct {
	Path      string `json:"path"`
	Note      string `json:"note"`
	UpdatedAt string `json:"updatedAt"`
}

func newEnvelope() Envelope {
	return Envelope{Version: schemaVersion}
}

// migration brings an envelope at a prior version forward by one step.
type migration func(Envelope) Envelope

// migrations is indexed by the version being migrated FROM: migrations[1]
// takes a v1 envelope to v2, migrations[2] takes v2 to v3.
var migrations = map[int]migration{
	1: migrateV1toV2,
	2: migrateV2toV3,
	3: migrateV3toV4,
}

// migrateV1toV2 introduces the Executions slice; nothing to backfill.
func migrateV1toV2(e Envelope) Envelope {
	e.Version = 2
	return e
}

// migrateV2toV3 introduces the FileNote.UpdatedAt field; existing file notes
// written before this migration have neither a value nor a need for one.
func migrateV2toV3(e Envelope) Envelope {
	e.Version = 3
	return e
}

// migrateV3toV4 introduces Decision.ContextHash; decisions written before
// this migration were never cache entries, so they are left with no hash
// and simply fall outside the cache operations' view of the collection.
func migrateV3toV4(e Envelope) Envelope {
	e.Version = 4
	return e
}

// migrate runs an envelope forward to schemaVersion one step at a time.
func migrate(e Envelope) Envelope {
	for e.Version < schemaVersion {
		step, ok := migrations[e.Version]
		if !ok {
			// No migration registered for this version: leave it as-is
			// rather than silently mislabeling it current.
			return e
		}
		e = step(e)
	}
	return e
}
