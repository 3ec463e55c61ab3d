// Package wsbridge is the networked runtime bridge host/client (C6), for
// hosts that run in a separate process or runtime (Node, a Cloudflare
// Durable Object) from the one driving the collection - exchanging bridge
// envelopes over a websocket connection upgraded from the teacher's echo
// Server. It's adapted from joshjon-kit/server's WebSocket support
// (server_test.go's TestServer_TLSWebSocket is the direct template), with
// TLS retained but the bridge's own JSON envelope replacing the raw text
// message that test demonstrates.
package wsbridge

import (
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tanstack/db-sqlite-persist/bridge"
	"github.com/tanstack/db-sqlite-persist/log"
)

// DefaultWSPath is the route the bridge host upgrades to a websocket on.
const DefaultWSPath = "/ws"

// Host wraps a bridge.Host behind a websocket endpoint registered on a
// joshjon-kit/server.Server. One connection serves one client: each inbound
// text message is a bridge.Request, answered in turn with a bridge.Response.
type Host struct {
	inner *bridge.Host
	log   log.Logger
	path  string
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithPath overrides DefaultWSPath.
func WithPath(path string) HostOption {
	return func(h *Host) { h.path = path }
}

// WithLogger overrides the host's logger. Defaults to a no-op logger.
func WithLogger(l log.Logger) HostOption {
	return func(h *Host) { h.log = l }
}

// NewHost wraps inner for websocket service.
func NewHost(inner *bridge.Host, opts ...HostOption) *Host {
	h := &Host{inner: inner, log: log.NewLogger(log.WithNop()), path: DefaultWSPath}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register satisfies server.Handler: srv.Register("", host) attaches the
// websocket route to a joshjon-kit/server.Server.
func (h *Host) Register(g *echo.Group) {
	g.GET(h.path, h.serveWS)
}

func (h *Host) serveWS(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{})
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return conn.Close(websocket.StatusNormalClosure, "connection closed")
		}

		var req bridge.Request
		if err = json.Unmarshal(raw, &req); err != nil {
			h.log.Warn("wsbridge: dropping malformed request", "err", err)
			continue
		}

		resp := h.inner.Dispatch(ctx, req)
		out, err := json.Marshal(resp)
		if err != nil {
			h.log.Error("wsbridge: failed to marshal response", "err", err)
			return conn.Close(websocket.StatusInternalError, "encode failure")
		}
		if err = conn.Write(ctx, websocket.MessageText, out); err != nil {
			return err
		}
	}
}
