package errtag

// Bridge error codes, verbatim from the runtime bridge protocol.
const (
	CodeUnknownCollection = "UNKNOWN_COLLECTION"
	CodeUnsupportedMethod = "UNSUPPORTED_METHOD"
	CodeInvalidProtocol   = "INVALID_PROTOCOL"
	CodeTimeout           = "TIMEOUT"
	CodeRemote            = "REMOTE_ERROR"
	CodeSchemaMismatch    = "SCHEMA_MISMATCH"
)

// Internal-only codes: meaningful to Go callers but never crossed over the
// bridge wire as-is (the host maps any non-bridge tag to CodeRemote).
const (
	codeConfiguration = "CONFIGURATION"
	codeDriver        = "DRIVER"
	codeOrderingGap   = "ORDERING_GAP"
	codeNoLeader      = "NO_LEADER"
)

type codeUnknownCollection struct{}

func (codeUnknownCollection) Code() string { return CodeUnknownCollection }

type codeUnsupportedMethod struct{}

func (codeUnsupportedMethod) Code() string { return CodeUnsupportedMethod }

type codeInvalidProtocol struct{}

func (codeInvalidProtocol) Code() string { return CodeInvalidProtocol }

type codeTimeout struct{}

func (codeTimeout) Code() string { return CodeTimeout }

type codeRemote struct{}

func (codeRemote) Code() string { return CodeRemote }

type codeSchemaMismatch struct{}

func (codeSchemaMismatch) Code() string { return CodeSchemaMismatch }

type codeConfigurationTag struct{}

func (codeConfigurationTag) Code() string { return codeConfiguration }

type codeDriverTag struct{}

func (codeDriverTag) Code() string { return codeDriver }

type codeOrderingGapTag struct{}

func (codeOrderingGapTag) Code() string { return codeOrderingGap }

type codeNoLeaderTag struct{}

func (codeNoLeaderTag) Code() string { return codeNoLeader }
