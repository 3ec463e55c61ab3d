package persistadapter

import "encoding/json"

// Policy governs what the adapter does when a collection's persisted
// schema_version disagrees with the version the caller opens it with.
type Policy string

const (
	// PolicySyncAbsentError refuses the mismatch outright: callers get
	// errtag.SchemaMismatch and the collection is left untouched. This is
	// the default for collections with no server-driven sync.
	PolicySyncAbsentError Policy = "sync-absent-error"
	// PolicySyncPresentReset truncates rows and tombstones, bumps the
	// collection's term, and adopts the new schema_version. Appropriate
	// when a server resync will repopulate the collection afterwards.
	PolicySyncPresentReset Policy = "sync-present-reset"
	// PolicyReset behaves like PolicySyncPresentReset unconditionally,
	// even outside of a sync-present wrapper mode.
	PolicyReset Policy = "reset"
)

// OrderBy names a JSON field to sort a LoadSubset result by.
type OrderBy struct {
	Field string
	Desc  bool
}

// Predicate is a pre-compiled SQL fragment evaluated against a row's stored
// value via json_extract, plus its positional arguments. The adapter never
// accepts arbitrary caller SQL outside of this shape: SQL is the fragment,
// not the whole statement.
type Predicate struct {
	SQL  string
	Args []any
}

// LoadOptions narrows a LoadSubset call. A nil Where loads every
// non-tombstoned row. A nil Limit means "no limit"; a non-nil Limit
// pointing at 0 is the wire-documented schema-check probe shape - schema
// enforcement and table creation still run, but no rows are read back.
type LoadOptions struct {
	Where   *Predicate
	OrderBy []OrderBy
	Limit   *int
}

// IsProbe reports whether opts describes a schema-check probe: limit=0.
func (opts LoadOptions) IsProbe() bool {
	return opts.Limit != nil && *opts.Limit == 0
}

// Row is a single persisted record with its decoded key.
type Row struct {
	Key        any
	Value      json.RawMessage
	RowVersion int64
}

// MutationType discriminates the two effects a committed transaction can
// have on a row.
type MutationType string

const (
	MutationUpsert MutationType = "upsert"
	MutationDelete MutationType = "delete"
)

// Mutation is one row-level effect inside a CommittedTx.
type Mutation struct {
	Type  MutationType
	Key   any
	Value json.RawMessage
}

// CommittedTx is the unit ApplyCommittedTx applies atomically. Term and Seq
// together form the ordering key the adapter uses to detect stale or
// duplicate replays; RowVersion is the value every mutated row (and the
// collection's last_row_version) is stamped with.
type CommittedTx struct {
	TxID       string
	Term       int64
	Seq        int64
	RowVersion int64
	Mutations  []Mutation
}

// PullSinceResult reports what changed in a collection since a given row
// version.
type PullSinceResult struct {
	LatestRowVersion   int64
	Term               int64
	ChangedKeys        []any
	DeletedKeys        []any
	RequiresFullReload bool
}

// IndexField is one component of a secondary index's sort key.
type IndexField struct {
	Path string
	Desc bool
}

// IndexSpec describes a secondary index a caller wants maintained over a
// collection. Its Signature is the stable identity under which the adapter
// tracks the index's lifecycle (active/removed) and names its physical SQL
// index.
type IndexSpec struct {
	Fields []IndexField
}

// collectionRecord mirrors a single row of the internal _tsdb_collection
// table.
type collectionRecord struct {
	CollectionID   string
	SchemaVersion  int
	Term           int64
	LastSeq        int64
	LastRowVersion int64
	RowsTable      string
	TombTable      string
}

// CollectionInfo is a read-only snapshot of a collection's metadata, for
// diagnostic tooling (tsdbctl inspect) rather than the sync path.
type CollectionInfo struct {
	CollectionID   string `json:"collectionId"`
	SchemaVersion  int    `json:"schemaVersion"`
	Term           int64  `json:"term"`
	LastSeq        int64  `json:"lastSeq"`
	LastRowVersion int64  `json:"lastRowVersion"`
	RowsTable      string `json:"rowsTable"`
	TombTable      string `json:"tombTable"`
}

// IndexInfo is a read-only snapshot of a registered secondary index.
type IndexInfo struct {
	CollectionID string `json:"collectionId"`
	Signature    string `json:"signature"`
	Spec         IndexSpec `json:"spec"`
	State        string `json:"state"`
}
