package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeUpstream        ErrorType = "upstream_failure"
	ErrorTypeServerError     ErrorType = "server_error"
)

// APIError is a classified, client-safe error. Message is returned to the
// caller verbatim, so it must never carry tokens, secrets, or raw upstream
// payloads.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the envelope written for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Envelope converts the error into the wire envelope.
func (e *APIError) Envelope() ErrorResponse {
	return ErrorResponse{
		Success: false,
		Error:   e.Message,
		Type:    string(e.Type),
		Code:    e.Code,
	}
}

// NewInvalidRequestError creates an APIError for malformed input.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewUnauthenticatedError creates an APIError for a missing, invalid, or
// expired credential.
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnauthenticated,
		Message: message,
	}
}

// NewForbiddenError creates an APIError for an authenticated caller that
// lacks the role or permission, or that violates a policy rule.
func NewForbiddenError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeForbidden,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewConflictError creates an APIError for uniqueness violations.
func NewConflictError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewUpstreamError creates an APIError for a failed identity provider call.
func NewUpstreamError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUpstream,
		Code:    code,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}
