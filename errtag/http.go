package errtag

import "net/http"

// HTTPStatus maps a bridge error code to an HTTP status, for the ambient
// REST surfaces (health checks, admin endpoints) that sit alongside the
// bridge's own JSON envelope and still need a status line. The bridge
// protocol itself never uses this: its responses carry `ok`/`error.code`
// directly, regardless of HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case CodeUnknownCollection:
		return http.StatusNotFound
	case CodeUnsupportedMethod:
		return http.StatusNotImplemented
	case CodeInvalidProtocol:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeSchemaMismatch:
		return http.StatusConflict
	case codeConfiguration:
		return http.StatusBadRequest
	case codeNoLeader:
		return http.StatusServiceUnavailable
	case CodeRemote, codeDriver, codeOrderingGap:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
