package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/debug"
	"github.com/rhuss/authcore/pkg/observability"
	"github.com/rhuss/authcore/pkg/rbac"
)

// Gate wraps handlers with authentication and authorization checks.
type Gate struct {
	chain  *AuthChain
	policy *rbac.Policy
}

// NewGate creates a gate that resolves callers with chain and authorizes
// them against policy. A nil policy uses rbac.DefaultPolicy.
func NewGate(chain *AuthChain, policy *rbac.Policy) *Gate {
	if policy == nil {
		policy = rbac.DefaultPolicy()
	}
	return &Gate{chain: chain, policy: policy}
}

// Policy returns the role table the gate authorizes against.
func (g *Gate) Policy() *rbac.Policy {
	return g.policy
}

// RequireAuth rejects requests without a valid credential with 401 and
// passes the resolved principal to next through the request context.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return g.guard(next, func(Principal) error { return nil })
}

// RequireAdmin is RequireAuth plus a 403 for callers without the ADMIN role.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return g.guard(next, func(p Principal) error {
		if !rbac.HasRole(p.User.Role, rbac.RoleAdmin) {
			return api.NewForbiddenError("admin_required", "admin role required")
		}
		return nil
	})
}

// RequirePermission returns middleware that is RequireAuth plus a 403 for
// callers whose role does not grant perm.
func (g *Gate) RequirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.guard(next, func(p Principal) error {
			if !g.policy.HasPermission(p.User.Role, perm) {
				return api.NewForbiddenError("permission_denied", "missing permission "+string(perm))
			}
			return nil
		})
	}
}

func (g *Gate) guard(next http.Handler, authorize func(Principal) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := g.chain.Authenticate(r.Context(), r)
		observability.AuthDecisionsTotal.WithLabelValues(string(result.Source), result.Decision.String()).Inc()

		if result.Decision != Yes || result.Principal == nil {
			if result.Err != nil && !errors.Is(result.Err, ErrUnauthenticated) {
				slog.Error("authentication error",
					"path", r.URL.Path,
					"source", result.Source,
					"error", result.Err,
				)
				writeError(w, http.StatusInternalServerError, api.NewServerError("internal error"))
				return
			}
			if result.Decision == No && result.Source != SourceNone {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"source", result.Source,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
			}
			writeError(w, http.StatusUnauthorized, api.NewUnauthenticatedError("authentication required"))
			return
		}

		p := *result.Principal
		if err := authorize(p); err != nil {
			slog.Warn("authorization denied",
				"path", r.URL.Path,
				"user_id", p.User.ID,
				"role", p.User.Role,
			)
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) {
				apiErr = api.NewForbiddenError("", "access denied")
			}
			writeError(w, http.StatusForbidden, apiErr)
			return
		}

		debug.Log(debug.Auth, "request authenticated",
			"user_id", p.User.ID,
			"source", p.Source,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

func writeError(w http.ResponseWriter, status int, apiErr *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiErr.Envelope()); err != nil {
		slog.Debug("writing error response", "error", err)
	}
}
