package errtag

// UnknownCollection is returned by the runtime bridge host when a request
// names a collectionId that isn't bound to any adapter.
type UnknownCollection struct{ ErrorTag[codeUnknownCollection] }

// UnsupportedMethod is returned by the runtime bridge host when the bound
// adapter doesn't implement the requested method.
type UnsupportedMethod struct{ ErrorTag[codeUnsupportedMethod] }

// InvalidProtocol is returned for a malformed bridge envelope: wrong
// version, empty requestId, empty collectionId, or a response whose
// requestId/method don't echo the request.
type InvalidProtocol struct{ ErrorTag[codeInvalidProtocol] }

// Timeout is returned by a bridge client invoker when a request doesn't
// receive a matching response within its configured timeout.
type Timeout struct{ ErrorTag[codeTimeout] }

// Remote wraps an error that was serialised by the other side of a bridge
// and rethrown locally, preserving the remote name/code where possible.
type Remote struct{ ErrorTag[codeRemote] }

// SchemaMismatch is returned by the persistence adapter when the observed
// schema_version disagrees with the caller's and the active policy is
// sync-absent-error.
type SchemaMismatch struct{ ErrorTag[codeSchemaMismatch] }

// Configuration is returned for invalid construction-time options: empty
// collection id, bad pragma, missing transaction driver argument.
type Configuration struct{ ErrorTag[codeConfigurationTag] }

// Driver wraps a failure from the underlying SQLite driver/storage layer.
type Driver struct{ ErrorTag[codeDriverTag] }

// OrderingGap marks a non-fatal gap between the collection's observed seq
// and an incoming tx:committed event; callers should trigger pullSince
// recovery rather than treat this as a failure.
type OrderingGap struct{ ErrorTag[codeOrderingGapTag] }

// NoLeader is returned when a non-leader coordinator is asked to route a
// write and no leader is currently reachable.
type NoLeader struct{ ErrorTag[codeNoLeaderTag] }
