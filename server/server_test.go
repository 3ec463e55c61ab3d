package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/log"
	"github.com/tanstack/db-sqlite-persist/testutil"
)

func TestServer_NewServer(t *testing.T) {
	port := testutil.GetFreePort(t)
	srv, err := NewServer(port,
		WithLogger(log.NewLogger(log.WithNop())),
		WithCORS("localhost:9999"),
		WithRequestTimeout(time.Second),
	)
	require.NoError(t, err)

	go srv.Start()
	defer srv.Stop(context.Background())
	err = srv.WaitHealthy(50, 10*time.Millisecond)
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}
	httpRes, err := client.Get(srv.Address() + "/healthz")
	require.NoError(t, err)
	defer httpRes.Body.Close()
	assert.Equal(t, http.StatusOK, httpRes.StatusCode)
}
