package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/tanstack/db-sqlite-persist/bridge"
)

// Client is a bridge.Transport that speaks the envelope over a single
// websocket connection, used by an invoker running in a different runtime
// (Node, a Durable Object caller) than the host.
type Client struct {
	conn *websocket.Conn

	mu sync.Mutex
}

// Dial opens a websocket connection to a wsbridge Host at url (e.g.
// srv.WebsSocketAddress() + DefaultWSPath) and returns it as a bridge.Transport.
func Dial(ctx context.Context, url string, opts *websocket.DialOptions) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Send implements bridge.Transport. The invoker above already serializes
// calls one at a time, but Send also takes its own lock so a Client can be
// shared by more than one Invoker safely.
func (c *Client) Send(ctx context.Context, req bridge.Request) (bridge.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(req)
	if err != nil {
		return bridge.Response{}, fmt.Errorf("wsbridge: marshal request: %w", err)
	}
	if err = c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return bridge.Response{}, fmt.Errorf("wsbridge: write request: %w", err)
	}

	_, out, err := c.conn.Read(ctx)
	if err != nil {
		return bridge.Response{}, fmt.Errorf("wsbridge: read response: %w", err)
	}
	var resp bridge.Response
	if err = json.Unmarshal(out, &resp); err != nil {
		return bridge.Response{}, fmt.Errorf("wsbridge: unmarshal response: %w", err)
	}
	return resp, nil
}

// Close closes the underlying websocket connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
