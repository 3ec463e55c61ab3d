package collection

import "github.com/tanstack/db-sqlite-persist/persistadapter"

// Mode selects whether a collection is driven purely by local writes or
// reconciled against a server-authoritative sync stream.
type Mode string

const (
	// ModeSyncAbsent is local-only: every commit originates on this node,
	// there's nothing to hydrate from or reconcile against.
	ModeSyncAbsent Mode = "sync-absent"
	// ModeSyncPresent reconciles against a server-driven sync stream:
	// writes may arrive out of order relative to this node's own commits
	// and must be buffered during hydration and gap recovery.
	ModeSyncPresent Mode = "sync-present"
)

// State is the wrapper's lifecycle state, advanced only by the wrapper
// itself (callers observe it via State(), never set it).
type State string

const (
	StateIdle       State = "idle"
	StateHydrating  State = "hydrating"
	StateReady      State = "ready"
	StateRecovering State = "recovering"
	StateErrored    State = "errored"
)

// CommittedEventPayload is the Go shape carried by a coordinator.Event whose
// Type is coordinator.EventTxCommitted.
type CommittedEventPayload struct {
	TxID       string
	Term       int64
	Seq        int64
	RowVersion int64
	Mutations  []persistadapter.Mutation
}
