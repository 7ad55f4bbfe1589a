package llm

import "errors"

// Gateway error classes. Components wrap these with fmt.Errorf("...: %w") and
// the HTTP layer maps them to status codes with errors.Is.
var (
	// ErrInvalidRequest is a caller error detected before any upstream call.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUpstreamAuthUnavailable means the selected provider has no usable
	// credential (missing key, or OAuth token exhausted).
	ErrUpstreamAuthUnavailable = errors.New("upstream credentials unavailable")

	// ErrUpstreamProtocol means an adapter received something it could not
	// translate, or the upstream failed.
	ErrUpstreamProtocol = errors.New("upstream protocol error")
)

// Canonical error type names carried in error bodies and error events.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeNotFound       = "not_found_error"
)

// ErrorResponse is the canonical error body.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds a canonical error body.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}
