// Package collection implements the persisted-collection wrapper (C5): the
// state machine that sits between a caller's reactive collection (out of
// scope here, see SPEC_FULL) and the persistence adapter/coordinator pair.
// It owns mode (sync-absent/sync-present), ordered-apply of tx:committed
// events, gap detection and pullSince recovery, the local-commit path, and
// index-registration mirroring.
package collection

import (
	"context"
	"fmt"
	"sync"

	"go.jetify.com/typeid"

	"github.com/tanstack/db-sqlite-persist/coordinator"
	"github.com/tanstack/db-sqlite-persist/errtag"
	"github.com/tanstack/db-sqlite-persist/id"
	"github.com/tanstack/db-sqlite-persist/log"
	"github.com/tanstack/db-sqlite-persist/persistadapter"
)

// TxID is a typed, prefixed identity (tx_<suffix>) stamped onto every
// locally committed transaction.
type TxID struct {
	typeid.TypeID[txIDPrefix]
}

func (t TxID) IsZero() bool { return t.String() == "" }

type txIDPrefix struct{}

func (txIDPrefix) Prefix() string { return "tx" }

func newTxID() string {
	return id.New[TxID, *TxID]().String()
}

// pullSinceRequest is the payload coordinator.RPCPullSince handlers receive;
// it's the Go shape of the wire protocol's rpc:pullSince:req variant.
type pullSinceRequest struct {
	ExpectedTerm   int64
	FromRowVersion int64
}

// Option configures a Wrapper.
type Option func(*wrapperOpts)

type wrapperOpts struct {
	logger log.Logger
}

// WithLogger overrides the wrapper's logger. Defaults to a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(o *wrapperOpts) { o.logger = l }
}

// Wrapper is the persisted-collection wrapper for one collection.
type Wrapper struct {
	collectionID  string
	schemaVersion int
	policy        persistadapter.Policy
	mode          Mode
	adapter       *persistadapter.Adapter
	coord         coordinator.Coordinator
	log           log.Logger

	mu                 sync.Mutex
	state              State
	observedTerm       int64
	observedSeq        int64
	observedRowVersion int64
	awaitingReseed     bool
	unsubscribe        coordinator.Unsubscribe
	hydrationBuf       []coordinator.Event
	pullSinceCalls     int
	indexes            map[string]persistadapter.IndexSpec
}

// New constructs a Wrapper. It registers this collection's RPC handlers
// (pullSince, ensureIndex) against coord so that, even in the default
// single-process coordinator, recovery and index creation go through the
// same Call/RegisterRPC path a networked coordinator would use.
// MarkIndexRemoved calls the adapter directly; no RPC is registered for it.
func New(
	collectionID string, schemaVersion int, policy persistadapter.Policy, mode Mode,
	adapter *persistadapter.Adapter, coord coordinator.Coordinator, opts ...Option,
) *Wrapper {
	o := wrapperOpts{logger: log.NewLogger(log.WithNop())}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Wrapper{
		collectionID:  collectionID,
		schemaVersion: schemaVersion,
		policy:        policy,
		mode:          mode,
		adapter:       adapter,
		coord:         coord,
		log:           o.logger,
		state:         StateIdle,
		indexes:       make(map[string]persistadapter.IndexSpec),
	}
	w.registerRPCHandlers()
	return w
}

func (w *Wrapper) registerRPCHandlers() {
	w.coord.RegisterRPC(coordinator.RPCPullSince, func(ctx context.Context, collectionID string, payload any) (any, error) {
		req, ok := payload.(pullSinceRequest)
		if !ok {
			return nil, fmt.Errorf("collection: malformed pullSince payload %T", payload)
		}
		return w.adapter.PullSince(ctx, collectionID, req.ExpectedTerm, req.FromRowVersion)
	})
	w.coord.RegisterRPC(coordinator.RPCEnsurePersistedIndex, func(ctx context.Context, collectionID string, payload any) (any, error) {
		spec, ok := payload.(persistadapter.IndexSpec)
		if !ok {
			return nil, fmt.Errorf("collection: malformed ensureIndex payload %T", payload)
		}
		return nil, w.adapter.EnsureIndex(ctx, collectionID, w.schemaVersion, w.policy, spec)
	})
}

// State reports the wrapper's current lifecycle state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// PullSinceCallCount reports how many times gap recovery has invoked
// pullSince. Exposed for tests asserting recovery fires exactly once per
// gap rather than once per buffered event.
func (w *Wrapper) PullSinceCallCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pullSinceCalls
}

// Preload subscribes (sync-present only) before loading the collection's
// current rows, buffers any tx:committed events that arrive mid-load, then
// installs the snapshot as one hydration commit and drains the buffer in
// arrival order before transitioning to ready.
func (w *Wrapper) Preload(ctx context.Context) ([]persistadapter.Row, error) {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return nil, fmt.Errorf("collection: Preload called from state %s, expected %s", w.state, StateIdle)
	}
	w.state = StateHydrating
	w.mu.Unlock()

	if w.mode == ModeSyncPresent {
		w.unsubscribe = w.coord.Subscribe(w.collectionID, w.onEvent)
	}

	rows, err := w.adapter.LoadSubset(ctx, w.collectionID, w.schemaVersion, w.policy, persistadapter.LoadOptions{})
	if err != nil {
		w.mu.Lock()
		w.state = StateErrored
		w.mu.Unlock()
		return nil, err
	}

	w.mu.Lock()
	buffered := w.hydrationBuf
	w.hydrationBuf = nil
	w.state = StateReady
	w.mu.Unlock()

	for _, e := range buffered {
		w.onEvent(e)
	}
	return rows, nil
}

// Close unsubscribes from coordinator events. Safe to call on a wrapper
// that was never subscribed (sync-absent mode, or Preload never called).
func (w *Wrapper) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}

// Commit assigns this transaction the next (term, seq, rowVersion), applies
// it through the adapter, then publishes tx:committed. It requires
// leadership: a follower (or a node that can't currently reach the leader)
// gets errtag.NoLeader back unchanged, per the Open Question resolution in
// DESIGN.md.
func (w *Wrapper) Commit(ctx context.Context, mutations []persistadapter.Mutation) (CommittedEventPayload, error) {
	if err := w.coord.EnsureLeadership(ctx); err != nil {
		return CommittedEventPayload{}, err
	}

	w.mu.Lock()
	term := w.observedTerm
	if term == 0 {
		term = 1
	}
	seq := w.observedSeq + 1
	rowVersion := w.observedRowVersion + 1
	w.mu.Unlock()

	txn := persistadapter.CommittedTx{
		TxID: newTxID(), Term: term, Seq: seq, RowVersion: rowVersion, Mutations: mutations,
	}
	if err := w.adapter.ApplyCommittedTx(ctx, w.collectionID, w.schemaVersion, w.policy, txn); err != nil {
		return CommittedEventPayload{}, err
	}

	w.mu.Lock()
	w.observedTerm, w.observedSeq = term, seq
	w.observedRowVersion = rowVersion
	w.awaitingReseed = false
	w.mu.Unlock()

	payload := CommittedEventPayload{TxID: txn.TxID, Term: term, Seq: seq, RowVersion: rowVersion, Mutations: mutations}
	err := w.coord.Publish(ctx, coordinator.Event{
		Type: coordinator.EventTxCommitted, CollectionID: w.collectionID, SenderID: w.coord.GetNodeID(), Payload: payload,
	})
	return payload, err
}

// EnsureIndex registers spec for mirroring and asks the coordinator's
// ensureIndex RPC to create the physical index (leader-side DDL per the
// concurrency model).
func (w *Wrapper) EnsureIndex(ctx context.Context, spec persistadapter.IndexSpec) error {
	w.mu.Lock()
	w.indexes[spec.Signature()] = spec
	w.mu.Unlock()
	_, err := w.coord.Call(ctx, coordinator.RPCEnsurePersistedIndex, w.collectionID, spec)
	return err
}

// MarkIndexRemoved unregisters spec and drops its physical index.
func (w *Wrapper) MarkIndexRemoved(ctx context.Context, spec persistadapter.IndexSpec) error {
	w.mu.Lock()
	delete(w.indexes, spec.Signature())
	w.mu.Unlock()
	return w.adapter.MarkIndexRemoved(ctx, w.collectionID, w.schemaVersion, w.policy, spec)
}

// onEvent is the coordinator.Handler subscribed in Preload. It buffers
// while hydrating/recovering, ignores its own echoed commits, advances its
// observed (term, seq, rowVersion) on in-order events, and triggers gap
// recovery on an unexpected (term, seq). An event's mutations are not
// written to the adapter here.
func (w *Wrapper) onEvent(e coordinator.Event) {
	if e.Type != coordinator.EventTxCommitted {
		return
	}
	payload, ok := e.Payload.(CommittedEventPayload)
	if !ok {
		return
	}

	w.mu.Lock()
	switch w.state {
	case StateHydrating, StateRecovering:
		w.hydrationBuf = append(w.hydrationBuf, e)
		w.mu.Unlock()
		return
	case StateReady:
		// fall through
	default:
		w.mu.Unlock()
		return
	}

	if payload.Term == w.observedTerm && payload.Seq == w.observedSeq {
		w.mu.Unlock()
		return // this node's own commit, already applied locally
	}

	if w.awaitingReseed {
		w.observedTerm, w.observedSeq = payload.Term, payload.Seq
		if payload.RowVersion > w.observedRowVersion {
			w.observedRowVersion = payload.RowVersion
		}
		w.awaitingReseed = false
		w.mu.Unlock()
		return
	}

	expectedSeq := w.observedSeq + 1
	if payload.Term == w.observedTerm && payload.Seq == expectedSeq {
		w.observedSeq = payload.Seq
		if payload.RowVersion > w.observedRowVersion {
			w.observedRowVersion = payload.RowVersion
		}
		w.mu.Unlock()
		return
	}

	gapErr := errtag.Tag[errtag.OrderingGap](fmt.Errorf(
		"observed (term=%d, seq=%d) but received (term=%d, seq=%d)",
		w.observedTerm, w.observedSeq, payload.Term, payload.Seq,
	))
	w.log.Warn("collection: ordering gap detected, entering recovery",
		"collectionId", w.collectionID, "err", gapErr)
	w.state = StateRecovering
	expectedTerm, fromRowVersion := w.observedTerm, w.observedRowVersion
	w.mu.Unlock()

	w.recoverFromGap(context.Background(), expectedTerm, fromRowVersion)
}

// recoverFromGap issues exactly one pullSince RPC per gap. A full-reload
// response drops back to idle (the caller must Preload again to get a fresh
// snapshot); otherwise the wrapper adopts the reported term/rowVersion and
// waits for the next inbound event to re-establish its seq baseline, since
// PullSinceResult doesn't carry the server's current seq.
func (w *Wrapper) recoverFromGap(ctx context.Context, expectedTerm, fromRowVersion int64) {
	w.mu.Lock()
	w.pullSinceCalls++
	w.mu.Unlock()

	raw, err := w.coord.Call(ctx, coordinator.RPCPullSince, w.collectionID, pullSinceRequest{
		ExpectedTerm: expectedTerm, FromRowVersion: fromRowVersion,
	})

	w.mu.Lock()

	if err != nil {
		w.log.Error("collection: pullSince recovery failed", "collectionId", w.collectionID, "err", err)
		w.state = StateErrored
		w.mu.Unlock()
		return
	}
	result, ok := raw.(persistadapter.PullSinceResult)
	if !ok {
		w.state = StateErrored
		w.mu.Unlock()
		return
	}

	if result.RequiresFullReload {
		w.log.Warn("collection: pullSince requires full reload", "collectionId", w.collectionID)
		w.state = StateIdle
		w.hydrationBuf = nil
		w.mu.Unlock()
		return
	}

	w.observedTerm = result.Term
	w.observedRowVersion = result.LatestRowVersion
	w.awaitingReseed = true

	buffered := w.hydrationBuf
	w.hydrationBuf = nil
	w.state = StateReady
	w.mu.Unlock()

	for _, e := range buffered {
		w.onEvent(e)
	}
}
