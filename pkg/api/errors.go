package api

import "fmt"

// ErrorType is the service-side error taxonomy. Values are surfaced to the
// caller unmodified; the engine never retries on its own.
type ErrorType string

const (
	ErrorTypeInvalidRequest  ErrorType = "invalid_request_error"
	ErrorTypeAuthentication  ErrorType = "authentication_error"
	ErrorTypePermission      ErrorType = "permission_error"
	ErrorTypeNotFound        ErrorType = "not_found_error"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeRateLimit       ErrorType = "rate_limit_error"
	ErrorTypeAPIError        ErrorType = "api_error"
	ErrorTypeOverloaded      ErrorType = "overloaded_error"
)

// Error is a service error as returned by the inference service.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the error envelope of every non-2xx response body.
type ErrorResponse struct {
	Type  string `json:"type"` // "error"
	Error Error  `json:"error"`
}
