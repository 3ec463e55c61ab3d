package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tanstack/db-sqlite-persist/errtag"
)

// DefaultTimeout is the invoker's round-trip timeout when none is
// configured, matching the original specification's client invoker default.
const DefaultTimeout = 5000 * time.Millisecond

// Transport sends one Request and returns its Response. Implementations:
// LocalTransport (direct in-process Host.Dispatch call) and
// bridge/wsbridge's websocket client.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// LocalTransport dispatches directly against a Host with no serialization
// boundary - the shape an Electron renderer-to-main or worker-to-main
// in-process bridge takes.
type LocalTransport struct {
	Host *Host
}

func (t LocalTransport) Send(ctx context.Context, req Request) (Response, error) {
	return t.Host.Dispatch(ctx, req), nil
}

// Invoker is the client-side half of the bridge: it assigns monotonic
// request ids, enforces a round-trip timeout, and validates that a
// transport's response actually answers the request it was given.
//
// Invoker serializes calls through transport one at a time (a single-flight
// FIFO queue per the original specification) since most Transport
// implementations (a single websocket connection) can't usefully interleave
// concurrent requests anyway.
type Invoker struct {
	transport Transport
	timeout   time.Duration
	nextID    atomic.Uint64
	queue     chan struct{}
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.timeout = d }
}

// NewInvoker constructs an Invoker over transport.
func NewInvoker(transport Transport, opts ...InvokerOption) *Invoker {
	inv := &Invoker{transport: transport, timeout: DefaultTimeout, queue: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

func (inv *Invoker) nextRequestID() string {
	return fmt.Sprintf("breq_%d", inv.nextID.Add(1))
}

// Call sends one request and decodes its result into out (ignored if nil).
// A response that never arrives within the invoker's timeout surfaces as
// errtag.Timeout; a response whose version/requestId/method don't echo the
// request surfaces as errtag.InvalidProtocol; a response with ok:false
// surfaces its carried error code via errtag.Remote.
func (inv *Invoker) Call(ctx context.Context, collectionID string, resolution *Resolution, method Method, payload, out any) error {
	inv.queue <- struct{}{}
	defer func() { <-inv.queue }()

	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return errtag.Tag[errtag.Configuration](err)
		}
	}

	req := Request{
		V: ProtocolVersion, RequestID: inv.nextRequestID(), CollectionID: collectionID,
		Resolution: resolution, Method: method, Payload: raw,
	}

	cctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	type sendResult struct {
		resp Response
		err  error
	}
	resultCh := make(chan sendResult, 1)
	go func() {
		resp, err := inv.transport.Send(cctx, req)
		resultCh <- sendResult{resp, err}
	}()

	var res sendResult
	select {
	case res = <-resultCh:
	case <-cctx.Done():
	}
	if cctx.Err() != nil {
		return errtag.Tag[errtag.Timeout](cctx.Err(), errtag.WithDetails(collectionID, string(method)))
	}
	if res.err != nil {
		return errtag.Tag[errtag.Remote](res.err)
	}

	resp := res.resp
	if resp.V != ProtocolVersion || resp.RequestID != req.RequestID || resp.Method != req.Method {
		return errtag.Tag[errtag.InvalidProtocol](
			fmt.Errorf("response does not echo request %s", req.RequestID),
		)
	}
	if !resp.Ok {
		var code, msg string
		var details []string
		if resp.Error != nil {
			code, msg, details = resp.Error.Code, resp.Error.Message, resp.Error.Details
		}
		// The remote's own code is preserved structurally as Details()[0]
		// (see errtag.RemoteCode) rather than folded into the message, so
		// callers can branch on it instead of parsing Error()'s text.
		return errtag.Tag[errtag.Remote](
			fmt.Errorf("%s: %s", code, msg),
			errtag.WithMsg(msg),
			errtag.WithDetails(append([]string{code}, details...)...),
		)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errtag.Tag[errtag.InvalidProtocol](err)
		}
	}
	return nil
}
