package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/errtag"
	"github.com/tanstack/db-sqlite-persist/persistadapter"
	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
	"github.com/tanstack/db-sqlite-persist/testutil"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	ctx := testutil.Context(t)
	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)
	return NewHost(persistadapter.New(drv))
}

func TestHost_UnknownCollection(t *testing.T) {
	h := newTestHost(t)

	resp := h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_1", CollectionID: "never-registered", Method: MethodLoadSubset,
	})
	require.False(t, resp.Ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errtag.CodeUnknownCollection, resp.Error.Code)
}

func TestHost_UnsupportedMethod(t *testing.T) {
	h := newTestHost(t)
	h.RegisterCollection("todos", 1, persistadapter.PolicySyncAbsentError)

	resp := h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_1", CollectionID: "todos", Method: Method("deleteEverything"),
	})
	require.False(t, resp.Ok)
	assert.Equal(t, errtag.CodeUnsupportedMethod, resp.Error.Code)
}

func TestHost_InvalidProtocol_MissingRequestID(t *testing.T) {
	h := newTestHost(t)
	h.RegisterCollection("todos", 1, persistadapter.PolicySyncAbsentError)

	resp := h.Dispatch(context.Background(), Request{V: ProtocolVersion, CollectionID: "todos", Method: MethodLoadSubset})
	require.False(t, resp.Ok)
	assert.Equal(t, errtag.CodeInvalidProtocol, resp.Error.Code)
}

func TestHost_ApplyCommittedTx_LoadSubset_RoundTrip(t *testing.T) {
	h := newTestHost(t)
	h.RegisterCollection("todos", 1, persistadapter.PolicySyncAbsentError)

	txn := persistadapter.CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []persistadapter.Mutation{{Type: persistadapter.MutationUpsert, Key: "a", Value: json.RawMessage(`{"title":"x"}`)}},
	}
	payload, err := json.Marshal(txn)
	require.NoError(t, err)

	resp := h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_1", CollectionID: "todos", Method: MethodApplyCommittedTx, Payload: payload,
	})
	require.True(t, resp.Ok)

	resp = h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_2", CollectionID: "todos", Method: MethodLoadSubset,
	})
	require.True(t, resp.Ok)
	var rows []persistadapter.Row
	require.NoError(t, json.Unmarshal(resp.Result, &rows))
	require.Len(t, rows, 1)
}

func TestHost_LoadSubset_LimitZeroIsProbe(t *testing.T) {
	h := newTestHost(t)
	h.RegisterCollection("todos", 1, persistadapter.PolicySyncAbsentError)

	txn := persistadapter.CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []persistadapter.Mutation{{Type: persistadapter.MutationUpsert, Key: "a", Value: json.RawMessage(`{"title":"x"}`)}},
	}
	payload, err := json.Marshal(txn)
	require.NoError(t, err)
	resp := h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_1", CollectionID: "todos", Method: MethodApplyCommittedTx, Payload: payload,
	})
	require.True(t, resp.Ok)

	// The wire contract's limit=0 shape is a schema-check probe: it must
	// not surface the row that's actually there.
	resp = h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_2", CollectionID: "todos", Method: MethodLoadSubset,
		Payload: json.RawMessage(`{"limit":0}`),
	})
	require.True(t, resp.Ok)
	var rows []persistadapter.Row
	require.NoError(t, json.Unmarshal(resp.Result, &rows))
	require.Empty(t, rows)
}

func TestHost_ResolutionMismatch(t *testing.T) {
	h := newTestHost(t)
	h.RegisterCollection("todos", 1, persistadapter.PolicySyncAbsentError)

	resp := h.Dispatch(context.Background(), Request{
		V: ProtocolVersion, RequestID: "breq_1", CollectionID: "todos", Method: MethodLoadSubset,
		Resolution: &Resolution{SchemaVersion: 2, SchemaMismatchPolicy: string(persistadapter.PolicySyncAbsentError)},
	})
	require.False(t, resp.Ok)
	assert.Equal(t, errtag.CodeSchemaMismatch, resp.Error.Code)
}
