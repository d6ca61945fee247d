// Package transport holds the HTTP plumbing shared by every authcore
// endpoint: the service interfaces handlers call, the error taxonomy and
// its mapping to status codes, and the middleware chain.
//
// # Service Interfaces
//
// Handlers depend on three narrow interfaces rather than concrete types:
//
//   - SessionService issues, rotates, lists, and revokes session tokens and
//     checks password credentials.
//   - IdentityService exchanges OAuth authorization codes and manages
//     linked provider accounts.
//   - UserDirectory lists users and changes role or active state.
//
// # Errors
//
// FromError classifies any error returned by a service into a client-safe
// *api.APIError. Unknown errors become a generic server error; their
// detail is logged, never returned.
//
// # Middleware
//
// Middleware wraps http.Handler values. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID), and access logging via
// log/slog.
package transport
