// Package coordinator implements the collection coordinator (C4): node
// identity, tx:committed fan-out, leadership, and the pullSince/ensureIndex/
// ensureRemoteSubset RPCs a persisted-collection wrapper routes through it.
// It knows nothing about SQL or the persistence adapter's schema - payloads
// are opaque `any` values the wrapper and adapter agree on the shape of.
package coordinator

import (
	"context"

	"go.jetify.com/typeid"

	"github.com/tanstack/db-sqlite-persist/id"
)

// Event is one fan-out message published to a collection's subscribers, the
// Go shape of the wire envelope's payload variants (tx:committed,
// rpc:*:req/res) described in the original specification's external
// interfaces section.
type Event struct {
	Type         string
	CollectionID string
	SenderID     NodeID
	Payload      any
}

// Handler receives every Event published for the collection it subscribed
// to, including its own publications (callers that need to ignore
// self-originated events compare event.SenderID against GetNodeID()).
type Handler func(Event)

// Unsubscribe removes a previously registered Handler. Calling it more than
// once is a no-op.
type Unsubscribe func()

// RPCHandler answers one of the coordinator's request/response RPCs
// (pullSince, ensurePersistedIndex, ensureRemoteSubset). The concrete
// request/result types live with the caller that registers the handler
// (typically the collection wrapper, delegating to persistadapter).
type RPCHandler func(ctx context.Context, collectionID string, payload any) (any, error)

// Coordinator is the contract the persisted-collection wrapper depends on.
// The zero-value production implementation is NewInMemory, a single-process
// coordinator where IsLeader is always true; a networked implementation
// (not built here - see SPEC_FULL's non-goals on distributed consensus)
// would satisfy the same interface.
type Coordinator interface {
	// GetNodeID returns this process's stable identity.
	GetNodeID() NodeID

	// Subscribe registers handler for every Event published against
	// collectionID. The returned Unsubscribe detaches it.
	Subscribe(collectionID string, handler Handler) Unsubscribe

	// Publish fans event out to every current subscriber of its
	// CollectionID. SenderID is stamped with this node's id if left zero;
	// CollectionID must be set by the caller.
	Publish(ctx context.Context, event Event) error

	// IsLeader reports whether this node currently owns write routing.
	IsLeader() bool

	// EnsureLeadership blocks (subject to ctx and a bounded retry policy)
	// until this node is the leader, or returns errtag.NoLeader.
	EnsureLeadership(ctx context.Context) error

	// RegisterRPC binds method to handler. Re-registering a method
	// replaces its prior handler.
	RegisterRPC(method string, handler RPCHandler)

	// Call invokes method against collectionID's bound handler. Returns
	// errtag.UnsupportedMethod if nothing is registered for method.
	Call(ctx context.Context, method, collectionID string, payload any) (any, error)
}

// NodeID is this process's typed, prefixed identity (node_<suffix>).
type NodeID struct {
	typeid.TypeID[nodeIDPrefix]
}

func (n NodeID) IsZero() bool { return n.String() == "" }

type nodeIDPrefix struct{}

func (nodeIDPrefix) Prefix() string { return "node" }

// NewNodeID generates a fresh NodeID.
func NewNodeID() NodeID {
	return id.New[NodeID, *NodeID]()
}

const (
	EventTxCommitted        = "tx:committed"
	RPCPullSince            = "rpc:pullSince"
	RPCEnsurePersistedIndex = "rpc:ensureIndex"
	RPCEnsureRemoteSubset   = "rpc:ensureRemoteSubset"
)
