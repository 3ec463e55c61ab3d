package persistadapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
	"github.com/tanstack/db-sqlite-persist/testutil"
)

func TestAdapter_ApplyCommittedTx_LoadSubset(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)

	a := New(drv)

	err = a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []Mutation{
			{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{"title":"buy milk"}`)},
			{Type: MutationUpsert, Key: "b", Value: json.RawMessage(`{"title":"walk dog"}`)},
		},
	})
	require.NoError(t, err)

	rows, err := a.LoadSubset(ctx, "todos", 1, PolicySyncAbsentError, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var keys []any
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	require.ElementsMatch(t, []any{"a", "b"}, keys)
}

func TestAdapter_ApplyCommittedTx_DeleteRemovesRow(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	a := New(drv)

	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []Mutation{{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{}`)}},
	}))
	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx2", Term: 1, Seq: 2, RowVersion: 2,
		Mutations: []Mutation{{Type: MutationDelete, Key: "a"}},
	}))

	rows, err := a.LoadSubset(ctx, "todos", 1, PolicySyncAbsentError, LoadOptions{})
	require.NoError(t, err)
	require.Empty(t, rows)

	result, err := a.PullSince(ctx, "todos", 1, 0)
	require.NoError(t, err)
	require.Equal(t, []any{"a"}, result.DeletedKeys)
}

func TestAdapter_ApplyCommittedTx_StaleReplayIsNoOp(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	a := New(drv)

	txn := CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []Mutation{{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{"n":1}`)}},
	}
	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, txn))

	// Apply a later transaction so last_seq advances...
	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx2", Term: 1, Seq: 2, RowVersion: 2,
		Mutations: []Mutation{{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{"n":2}`)}},
	}))

	// ...then replay the first transaction. It must be ignored, not reapplied.
	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, txn))

	rows, err := a.LoadSubset(ctx, "todos", 1, PolicySyncAbsentError, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.JSONEq(t, `{"n":2}`, string(rows[0].Value))
}

func TestAdapter_PersistsAcrossReopen(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()

	drv1, err := sqlitedriver.Open(ctx, sqlitedriver.WithDir(dir), sqlitedriver.WithDBName("reopen"))
	require.NoError(t, err)
	a1 := New(drv1)
	require.NoError(t, a1.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []Mutation{{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{"title":"persisted"}`)}},
	}))

	drv2, err := sqlitedriver.Open(ctx, sqlitedriver.WithDir(dir), sqlitedriver.WithDBName("reopen"))
	require.NoError(t, err)
	a2 := New(drv2)

	rows, err := a2.LoadSubset(ctx, "todos", 1, PolicySyncAbsentError, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0].Key)
}

func TestAdapter_EnsureIndex_MarkIndexRemoved_Idempotent(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	a := New(drv)

	spec := IndexSpec{Fields: []IndexField{{Path: "title"}}}
	require.NoError(t, a.EnsureIndex(ctx, "todos", 1, PolicySyncAbsentError, spec))
	require.NoError(t, a.EnsureIndex(ctx, "todos", 1, PolicySyncAbsentError, spec)) // idempotent
	require.NoError(t, a.MarkIndexRemoved(ctx, "todos", 1, PolicySyncAbsentError, spec))
	require.NoError(t, a.MarkIndexRemoved(ctx, "todos", 1, PolicySyncAbsentError, spec)) // idempotent
}

func TestAdapter_PullSince_ChangedAndDeletedKeys(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	a := New(drv)

	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []Mutation{{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{}`)}},
	}))
	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx2", Term: 1, Seq: 2, RowVersion: 2,
		Mutations: []Mutation{
			{Type: MutationUpsert, Key: "b", Value: json.RawMessage(`{}`)},
			{Type: MutationDelete, Key: "a"},
		},
	}))

	result, err := a.PullSince(ctx, "todos", 1, 1)
	require.NoError(t, err)
	require.False(t, result.RequiresFullReload)
	require.Equal(t, []any{"b"}, result.ChangedKeys)
	require.Equal(t, []any{"a"}, result.DeletedKeys)
	require.Equal(t, int64(2), result.LatestRowVersion)
}

func TestAdapter_PullSince_UnknownCollectionRequiresFullReload(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	a := New(drv)

	result, err := a.PullSince(ctx, "never-seen", 1, 0)
	require.NoError(t, err)
	require.True(t, result.RequiresFullReload)
}

func TestAdapter_LoadSubset_WhereFiltersRows(t *testing.T) {
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	a := New(drv)

	require.NoError(t, a.ApplyCommittedTx(ctx, "todos", 1, PolicySyncAbsentError, CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []Mutation{
			{Type: MutationUpsert, Key: "a", Value: json.RawMessage(`{"done":true}`)},
			{Type: MutationUpsert, Key: "b", Value: json.RawMessage(`{"done":false}`)},
		},
	}))

	rows, err := a.LoadSubset(ctx, "todos", 1, PolicySyncAbsentError, LoadOptions{
		Where: &Predicate{SQL: "json_extract(value, '$.done') = ?", Args: []any{true}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0].Key)
}
