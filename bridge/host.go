package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tanstack/db-sqlite-persist/errtag"
	"github.com/tanstack/db-sqlite-persist/log"
	"github.com/tanstack/db-sqlite-persist/persistadapter"
)

var (
	errProtocolShape      = errors.New("bridge: request has wrong version, empty requestId, or empty collectionId")
	errUnknownCollection  = errors.New("bridge: collectionId is not registered on this host")
	errUnsupportedMethod  = errors.New("bridge: method is not implemented by this host")
	errResolutionMismatch = errors.New("bridge: request resolution disagrees with the collection's bound schema/policy")
)

// binding is what RegisterCollection records: the schema/policy a
// collectionId was first bound under. A Request whose Resolution disagrees
// with the binding is rejected as a schema mismatch rather than silently
// reinterpreted.
type binding struct {
	schemaVersion int
	policy        persistadapter.Policy
}

// Host dispatches bridge Requests against a single persistadapter.Adapter,
// one per database. It's runtime-agnostic: bridge/wsbridge wraps a Host
// behind a websocket upgrade, and an in-process caller can call Dispatch
// directly with no transport at all.
type Host struct {
	adapter *persistadapter.Adapter
	log     log.Logger

	mu       sync.RWMutex
	bindings map[string]binding
}

// NewHost constructs a Host over adapter. No collections are known until
// RegisterCollection binds them.
func NewHost(adapter *persistadapter.Adapter, opts ...HostOption) *Host {
	o := hostOpts{logger: log.NewLogger(log.WithNop())}
	for _, opt := range opts {
		opt(&o)
	}
	return &Host{adapter: adapter, log: o.logger, bindings: make(map[string]binding)}
}

// HostOption configures a Host.
type HostOption func(*hostOpts)

type hostOpts struct {
	logger log.Logger
}

// WithHostLogger overrides the host's logger. Defaults to a no-op logger.
func WithHostLogger(l log.Logger) HostOption {
	return func(o *hostOpts) { o.logger = l }
}

// RegisterCollection binds collectionID to the given schema/policy. Requests
// naming an unregistered collectionId are rejected with UNKNOWN_COLLECTION;
// this is how a host scopes which collections it will serve.
func (h *Host) RegisterCollection(collectionID string, schemaVersion int, policy persistadapter.Policy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[collectionID] = binding{schemaVersion: schemaVersion, policy: policy}
}

// Dispatch handles one Request and always returns a Response - errors are
// carried in Response.Error, never as a Go error, since every failure mode
// here must cross the bridge envelope.
func (h *Host) Dispatch(ctx context.Context, req Request) Response {
	if req.V != ProtocolVersion || req.RequestID == "" || req.CollectionID == "" {
		return h.errorResponse(req, errtag.Tag[errtag.InvalidProtocol](
			errProtocolShape, errtag.WithMsg("ElectronPersistenceProtocolError"),
		))
	}

	h.mu.RLock()
	bound, ok := h.bindings[req.CollectionID]
	h.mu.RUnlock()
	if !ok {
		return h.errorResponse(req, errtag.Tag[errtag.UnknownCollection](
			errUnknownCollection, errtag.WithDetails(req.CollectionID),
		))
	}
	if req.Resolution != nil && (req.Resolution.SchemaVersion != bound.schemaVersion ||
		persistadapter.Policy(req.Resolution.SchemaMismatchPolicy) != bound.policy) {
		return h.errorResponse(req, errtag.Tag[errtag.SchemaMismatch](
			errResolutionMismatch, errtag.WithDetails(req.CollectionID),
		))
	}

	result, err := h.invoke(ctx, req, bound)
	if err != nil {
		return h.errorResponse(req, err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return h.errorResponse(req, errtag.Tag[errtag.Driver](err))
	}
	return Response{V: ProtocolVersion, RequestID: req.RequestID, Method: req.Method, Ok: true, Result: raw}
}

func (h *Host) invoke(ctx context.Context, req Request, bound binding) (any, error) {
	switch req.Method {
	case MethodLoadSubset:
		var opts persistadapter.LoadOptions
		if err := unmarshalPayload(req.Payload, &opts); err != nil {
			return nil, err
		}
		return h.adapter.LoadSubset(ctx, req.CollectionID, bound.schemaVersion, bound.policy, opts)

	case MethodApplyCommittedTx:
		var txn persistadapter.CommittedTx
		if err := unmarshalPayload(req.Payload, &txn); err != nil {
			return nil, err
		}
		return struct{}{}, h.adapter.ApplyCommittedTx(ctx, req.CollectionID, bound.schemaVersion, bound.policy, txn)

	case MethodEnsureIndex:
		var spec persistadapter.IndexSpec
		if err := unmarshalPayload(req.Payload, &spec); err != nil {
			return nil, err
		}
		return struct{}{}, h.adapter.EnsureIndex(ctx, req.CollectionID, bound.schemaVersion, bound.policy, spec)

	case MethodMarkIndexRemoved:
		var spec persistadapter.IndexSpec
		if err := unmarshalPayload(req.Payload, &spec); err != nil {
			return nil, err
		}
		return struct{}{}, h.adapter.MarkIndexRemoved(ctx, req.CollectionID, bound.schemaVersion, bound.policy, spec)

	case MethodPullSince:
		var p pullSincePayload
		if err := unmarshalPayload(req.Payload, &p); err != nil {
			return nil, err
		}
		return h.adapter.PullSince(ctx, req.CollectionID, p.ExpectedTerm, p.FromRowVersion)

	default:
		return nil, errtag.Tag[errtag.UnsupportedMethod](errUnsupportedMethod, errtag.WithDetails(string(req.Method)))
	}
}

type pullSincePayload struct {
	ExpectedTerm   int64 `json:"expectedTerm"`
	FromRowVersion int64 `json:"fromRowVersion"`
}

func unmarshalPayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errtag.Tag[errtag.InvalidProtocol](err, errtag.WithMsg("malformed request payload"))
	}
	return nil
}

func (h *Host) errorResponse(req Request, err error) Response {
	tagged, ok := errtag.AsTag[errtag.Tagger](err)
	var ep ErrorPayload
	if ok {
		code := tagged.Code()
		switch code {
		case errtag.CodeUnknownCollection, errtag.CodeUnsupportedMethod, errtag.CodeInvalidProtocol,
			errtag.CodeTimeout, errtag.CodeRemote, errtag.CodeSchemaMismatch:
		default:
			// Internal-only tags (driver, configuration, ...) cross the wire as REMOTE_ERROR.
			code = errtag.CodeRemote
		}
		ep = ErrorPayload{Code: code, Message: tagged.Msg(), Details: tagged.Details()}
	} else {
		ep = ErrorPayload{Code: errtag.CodeRemote, Message: err.Error()}
	}
	return Response{V: ProtocolVersion, RequestID: req.RequestID, Method: req.Method, Ok: false, Error: &ep}
}
