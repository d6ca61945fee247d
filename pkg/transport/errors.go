package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/auth"
	"github.com/rhuss/authcore/pkg/oauth"
	"github.com/rhuss/authcore/pkg/session"
	"github.com/rhuss/authcore/pkg/storage"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeUnauthenticated:
		return http.StatusUnauthorized
	case api.ErrorTypeForbidden:
		return http.StatusForbidden
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeConflict:
		return http.StatusConflict
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classification maps a sentinel error to its client-facing form.
type classification struct {
	target error
	build  func() *api.APIError
}

// classifications is checked in order; the first match wins. More specific
// sentinels come before the storage errors they may wrap.
var classifications = []classification{
	{session.ErrInvalidSession, func() *api.APIError { return api.NewUnauthenticatedError("invalid or expired session") }},
	{session.ErrInvalidCredentials, func() *api.APIError { return api.NewUnauthenticatedError("invalid email or password") }},
	{oauth.ErrUserInactive, func() *api.APIError { return api.NewUnauthenticatedError("account is deactivated") }},
	{auth.ErrUnauthenticated, func() *api.APIError { return api.NewUnauthenticatedError("authentication required") }},

	{oauth.ErrCannotUnlinkLastMethod, func() *api.APIError {
		return api.NewForbiddenError("last_auth_method", "cannot unlink the last authentication method")
	}},
	{auth.ErrForbidden, func() *api.APIError { return api.NewForbiddenError("", "access denied") }},

	{session.ErrEmailTaken, func() *api.APIError { return api.NewConflictError("email_taken", "email already registered") }},
	{oauth.ErrAlreadyLinked, func() *api.APIError {
		return api.NewConflictError("already_linked", "provider account is linked to another user")
	}},
	{oauth.ErrProviderAlreadyLinked, func() *api.APIError {
		return api.NewConflictError("provider_already_linked", "a different account of this provider is already linked")
	}},
	{oauth.ErrEmailUnverified, func() *api.APIError {
		return api.NewConflictError("email_unverified", "email is registered; sign in and link the provider instead")
	}},

	{session.ErrInvalidEmail, func() *api.APIError { return api.NewInvalidRequestError("email", "invalid email address") }},
	{session.ErrWeakPassword, func() *api.APIError {
		return api.NewInvalidRequestError("password", "password must be between 8 and 72 bytes")
	}},
	{session.ErrInvalidName, func() *api.APIError {
		return api.NewInvalidRequestError("name", "name must be between 1 and 200 characters")
	}},
	{oauth.ErrRedirectNotAllowed, func() *api.APIError {
		return api.NewInvalidRequestError("redirectUri", "redirect URI is not allowed for this provider")
	}},
	{oauth.ErrEmailRequired, func() *api.APIError {
		return api.NewInvalidRequestError("", "identity provider did not return an email address")
	}},

	{oauth.ErrUnknownProvider, func() *api.APIError { return api.NewNotFoundError("unknown identity provider") }},
	{oauth.ErrExchangeFailed, func() *api.APIError {
		return api.NewUpstreamError("exchange_failed", "identity provider exchange failed")
	}},
	{auth.ErrTooManyRequests, func() *api.APIError { return api.NewTooManyRequestsError("rate limit exceeded") }},

	{storage.ErrNotFound, func() *api.APIError { return api.NewNotFoundError("not found") }},
	{storage.ErrConflict, func() *api.APIError { return api.NewConflictError("conflict", "conflicting update, retry") }},
}

// FromError classifies err into a client-safe APIError. An *api.APIError
// anywhere in the chain is returned as is. Unknown errors become a generic
// server error whose message carries no detail.
func FromError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, c := range classifications {
		if errors.Is(err, c.target) {
			return c.build()
		}
	}
	return api.NewServerError("internal error")
}

// WriteErrorResponse writes the JSON error envelope with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr.Envelope())
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError classifies err and writes it. Server errors are logged with
// the request ID; nothing else about them reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := FromError(err)
	if apiErr.Type == api.ErrorTypeServerError {
		slog.Error("request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	WriteAPIError(w, apiErr)
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response body", "error", err)
	}
}
