package wsbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/bridge"
	"github.com/tanstack/db-sqlite-persist/persistadapter"
	"github.com/tanstack/db-sqlite-persist/server"
	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
	"github.com/tanstack/db-sqlite-persist/testutil"
)

// startTestServer boots a real server.Server on an ephemeral port with a
// wsbridge.Host registered, mirroring server_test.go's
// TestServer_TLSWebSocket setup but over plaintext ws on a free port instead
// of the teacher's hardcoded TLS port.
func startTestServer(t *testing.T) (*server.Server, *bridge.Host) {
	t.Helper()
	ctx := testutil.Context(t)

	drv, err := sqlitedriver.Open(ctx, sqlitedriver.WithInMemory())
	require.NoError(t, err)

	innerHost := bridge.NewHost(persistadapter.New(drv))
	innerHost.RegisterCollection("todos", 1, persistadapter.PolicySyncAbsentError)

	wsHost := NewHost(innerHost)

	port := testutil.GetFreePort(t)
	srv, err := server.NewServer(port)
	require.NoError(t, err)
	srv.Register("", wsHost)

	go srv.Start()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	require.NoError(t, srv.WaitHealthy(50, 10*time.Millisecond))

	return srv, innerHost
}

func TestWSBridge_Healthz(t *testing.T) {
	srv, _ := startTestServer(t)

	got := testutil.Get[server.HealthResponse](t, srv.Address()+"/healthz")
	require.Equal(t, "OK", got.Status)
}

func TestWSBridge_RoundTrip(t *testing.T) {
	srv, _ := startTestServer(t)

	ctx := testutil.Context(t)
	client, err := Dial(ctx, srv.WebsSocketAddress()+DefaultWSPath, nil)
	require.NoError(t, err)
	defer client.Close()

	inv := bridge.NewInvoker(client)

	txn := persistadapter.CommittedTx{
		TxID: "tx1", Term: 1, Seq: 1, RowVersion: 1,
		Mutations: []persistadapter.Mutation{
			{Type: persistadapter.MutationUpsert, Key: "a", Value: json.RawMessage(`{"title":"x"}`)},
		},
	}
	require.NoError(t, inv.Call(ctx, "todos", nil, bridge.MethodApplyCommittedTx, txn, nil))

	var rows []persistadapter.Row
	require.NoError(t, inv.Call(ctx, "todos", nil, bridge.MethodLoadSubset, persistadapter.LoadOptions{}, &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0].Key)
}

func TestWSBridge_UnknownCollectionSurfacesAsRemote(t *testing.T) {
	srv, _ := startTestServer(t)

	ctx := testutil.Context(t)
	client, err := Dial(ctx, srv.WebsSocketAddress()+DefaultWSPath, nil)
	require.NoError(t, err)
	defer client.Close()

	inv := bridge.NewInvoker(client)
	err = inv.Call(ctx, "never-registered", nil, bridge.MethodLoadSubset, persistadapter.LoadOptions{}, nil)
	require.Error(t, err)
}
