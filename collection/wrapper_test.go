package collection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/coordinator"
	"github.com/tanstack/db-sqlite-persist/persistadapter"
	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
	"github.com/tanstack/db-sqlite-persist/testutil"
)

type testFixture struct {
	wrapper *Wrapper
	adapter *persistadapter.Adapter
	coord   *coordinator.InMemory
}

func newTestWrapper(t *testing.T, mode Mode, coordOpts ...coordinator.InMemoryOption) testFixture {
	t.Helper()
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	adapter := persistadapter.New(drv)
	coord := coordinator.NewInMemory(coordOpts...)
	w := New("todos", 1, persistadapter.PolicySyncAbsentError, mode, adapter, coord)
	return testFixture{wrapper: w, adapter: adapter, coord: coord}
}

func TestWrapper_SyncAbsent_CommitRoundTrip(t *testing.T) {
	ctx := testutil.Context(t)
	f := newTestWrapper(t, ModeSyncAbsent)

	rows, err := f.wrapper.Preload(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
	assert.Equal(t, StateReady, f.wrapper.State())

	payload, err := f.wrapper.Commit(ctx, []persistadapter.Mutation{
		{Type: persistadapter.MutationUpsert, Key: "a", Value: json.RawMessage(`{"title":"buy milk"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), payload.Term)
	assert.Equal(t, int64(1), payload.Seq)

	rows, err = f.adapter.LoadSubset(ctx, "todos", 1, persistadapter.PolicySyncAbsentError, persistadapter.LoadOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWrapper_SyncPresent_PreloadSubscribesAndBecomesReady(t *testing.T) {
	ctx := testutil.Context(t)
	f := newTestWrapper(t, ModeSyncPresent)

	rows, err := f.wrapper.Preload(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
	assert.Equal(t, StateReady, f.wrapper.State())
	f.wrapper.Close()
}

func TestWrapper_GapTriggersSinglePullSince(t *testing.T) {
	ctx := testutil.Context(t)
	f := newTestWrapper(t, ModeSyncPresent)

	_, err := f.wrapper.Preload(ctx)
	require.NoError(t, err)
	require.Equal(t, StateReady, f.wrapper.State())

	// Establish a baseline commit so observedSeq == 1.
	_, err = f.wrapper.Commit(ctx, []persistadapter.Mutation{
		{Type: persistadapter.MutationUpsert, Key: "a", Value: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	// A remote event at seq=5 (skipping 2,3,4) must trigger exactly one
	// pullSince recovery call, not one per subsequently buffered event.
	require.NoError(t, f.coord.Publish(context.Background(), coordinator.Event{
		Type: coordinator.EventTxCommitted, CollectionID: "todos", SenderID: coordinator.NewNodeID(),
		Payload: CommittedEventPayload{Term: 1, Seq: 5, RowVersion: 5},
	}))

	require.Eventually(t, func() bool {
		return f.wrapper.State() == StateReady
	}, time.Second, time.Millisecond, "wrapper should recover back to ready")

	assert.Equal(t, 1, f.wrapper.PullSinceCallCount())
}

func TestWrapper_Commit_RequiresLeadership(t *testing.T) {
	ctx := testutil.Context(t)
	f := newTestWrapper(t, ModeSyncAbsent,
		coordinator.WithLeader(false), coordinator.WithLeadershipRetry(time.Millisecond, 1))

	_, err := f.wrapper.Commit(ctx, []persistadapter.Mutation{{Type: persistadapter.MutationUpsert, Key: "a"}})
	require.Error(t, err)
}

func TestWrapper_EnsureIndex_MarkIndexRemoved(t *testing.T) {
	ctx := testutil.Context(t)
	f := newTestWrapper(t, ModeSyncAbsent)
	_, err := f.wrapper.Preload(ctx)
	require.NoError(t, err)

	spec := persistadapter.IndexSpec{Fields: []persistadapter.IndexField{{Path: "title"}}}
	require.NoError(t, f.wrapper.EnsureIndex(ctx, spec))
	require.NoError(t, f.wrapper.MarkIndexRemoved(ctx, spec))
}
