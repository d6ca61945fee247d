package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/auth"
	"github.com/rhuss/authcore/pkg/auth/bearer"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/oauth"
	"github.com/rhuss/authcore/pkg/observability"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/session"
	"github.com/rhuss/authcore/pkg/transport"
)

// Rate limit scopes for the credential endpoints.
const (
	ScopeRegister = "register"
	ScopeLogin    = "login"
	ScopeRefresh  = "refresh"
	ScopeOAuth    = "oauth"
)

const readinessTimeout = 2 * time.Second

// Services are the collaborators the adapter routes to. Identity and
// Limiter are optional: without Identity the OAuth and account routes
// answer 404, without Limiter credential endpoints are not throttled.
type Services struct {
	Sessions transport.SessionService
	Identity transport.IdentityService
	Users    transport.UserDirectory
	Gate     *auth.Gate
	Limiter  *auth.RateLimiter
	Health   []transport.HealthChecker
}

// Adapter serves the authentication API over HTTP.
// It routes requests to the appropriate service and serializes responses.
type Adapter struct {
	svc    Services
	mux    *http.ServeMux
	config Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// MetricsPath exposes Prometheus metrics when non-empty.
	MetricsPath string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
		MetricsPath: "/metrics",
	}
}

// NewAdapter creates an HTTP adapter and registers every route.
func NewAdapter(svc Services, cfg Config) *Adapter {
	if svc.Gate == nil {
		panic("transport/http: Services.Gate is required")
	}
	a := &Adapter{
		svc:    svc,
		mux:    http.NewServeMux(),
		config: cfg,
	}

	gate := svc.Gate
	perm := func(p rbac.Permission, h http.HandlerFunc) http.Handler {
		return gate.RequirePermission(p)(h)
	}

	a.mux.Handle("POST /v1/auth/register", a.limit(ScopeRegister, http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("POST /v1/auth/login", a.limit(ScopeLogin, http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("POST /v1/auth/refresh", a.limit(ScopeRefresh, http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("POST /v1/auth/logout", gate.RequireAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("POST /v1/auth/logout-all", gate.RequireAuth(http.HandlerFunc(a.handleLogoutAll)))
	a.mux.Handle("GET /v1/auth/me", perm(rbac.PermProfileRead, a.handleMe))
	a.mux.Handle("PATCH /v1/auth/me", perm(rbac.PermProfileUpdate, a.handleUpdateMe))
	a.mux.Handle("GET /v1/auth/sessions", perm(rbac.PermSessionsRead, a.handleListSessions))
	a.mux.Handle("DELETE /v1/auth/sessions/{id}", perm(rbac.PermSessionsRevoke, a.handleDeleteSession))

	a.mux.HandleFunc("GET /v1/auth/oauth/{provider}/authorize", a.handleAuthorize)
	a.mux.Handle("POST /v1/auth/oauth/{provider}/callback", a.limit(ScopeOAuth, http.HandlerFunc(a.handleCallback)))
	a.mux.Handle("GET /v1/auth/accounts", perm(rbac.PermAccountsRead, a.handleListAccounts))
	a.mux.Handle("POST /v1/auth/accounts/{provider}", perm(rbac.PermAccountsLink, a.handleLinkAccount))
	a.mux.Handle("DELETE /v1/auth/accounts/{provider}", perm(rbac.PermAccountsUnlink, a.handleUnlinkAccount))

	a.mux.Handle("GET /v1/admin/users", perm(rbac.PermUsersList, a.handleListUsers))
	a.mux.Handle("GET /v1/admin/users/{id}", perm(rbac.PermUsersRead, a.handleGetUser))
	a.mux.Handle("PUT /v1/admin/users/{id}/role", perm(rbac.PermUsersUpdateRole, a.handleSetRole))
	a.mux.Handle("POST /v1/admin/users/{id}/deactivate", perm(rbac.PermUsersDeactivate, a.handleDeactivate))

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler records
// request metrics keyed by route pattern.
func (a *Adapter) Handler() http.Handler {
	return observability.MetricsMiddleware(a.mux)
}

func (a *Adapter) limit(scope string, h http.Handler) http.Handler {
	if a.svc.Limiter == nil {
		return h
	}
	return a.svc.Limiter.Middleware(scope)(h)
}

// decodeBody decodes a JSON request body into v. An empty body is
// accepted when allowEmpty is set.
func (a *Adapter) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && ct != "application/json; charset=utf-8" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON request body"))
		return false
	}
	return true
}

// principal returns the caller established by the gate. Routes without a
// gate never call it.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func (a *Adapter) identity(w http.ResponseWriter) (transport.IdentityService, bool) {
	if a.svc.Identity == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("no identity providers are configured"))
		return nil, false
	}
	return a.svc.Identity, true
}

// issue mints a session for user and writes the issuance response.
func (a *Adapter) issue(w http.ResponseWriter, r *http.Request, user *api.User, reason string, status int) {
	issued, err := a.svc.Sessions.CreateFor(r.Context(), user.ID, device.FromRequest(r), reason)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, status, issued.Response())
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// handleRegister handles POST /v1/auth/register.
func (a *Adapter) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !a.decodeBody(w, r, &req, false) {
		return
	}
	user, err := a.svc.Sessions.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	a.issue(w, r, user, session.ReasonRegister, http.StatusCreated)
}

// handleLogin handles POST /v1/auth/login.
func (a *Adapter) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !a.decodeBody(w, r, &req, false) {
		return
	}
	if req.Email == "" || req.Password == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("", "email and password are required"))
		return
	}
	user, err := a.svc.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	a.issue(w, r, user, session.ReasonLogin, http.StatusOK)
}

// handleRefresh handles POST /v1/auth/refresh. The old token comes from
// the body or, failing that, the Authorization header.
func (a *Adapter) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if !a.decodeBody(w, r, &req, true) {
		return
	}
	token := req.SessionToken
	if token == "" {
		token, _ = bearer.Token(r)
	}
	if token == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("sessionToken", "sessionToken is required"))
		return
	}

	issued, err := a.svc.Sessions.Refresh(r.Context(), token, device.FromRequest(r))
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, issued.Response())
}

// handleLogout handles POST /v1/auth/logout. Browser sessions are owned
// by the issuing web application, so there is nothing to delete here.
func (a *Adapter) handleLogout(w http.ResponseWriter, r *http.Request) {
	if principal(r).Source == auth.SourceBearer {
		token, _ := bearer.Token(r)
		if err := a.svc.Sessions.Delete(r.Context(), token); err != nil {
			transport.WriteError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type revokedResponse struct {
	Success bool `json:"success"`
	Revoked int  `json:"revoked"`
}

// handleLogoutAll handles POST /v1/auth/logout-all.
func (a *Adapter) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.Sessions.DeleteAllForUser(r.Context(), principal(r).User.ID)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: n})
}

type userResponse struct {
	Success bool         `json:"success"`
	User    api.UserView `json:"user"`
}

// handleMe handles GET /v1/auth/me.
func (a *Adapter) handleMe(w http.ResponseWriter, r *http.Request) {
	user := principal(r).User
	transport.WriteJSON(w, http.StatusOK, userResponse{Success: true, User: user.View()})
}

// handleUpdateMe handles PATCH /v1/auth/me.
func (a *Adapter) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateProfileRequest
	if !a.decodeBody(w, r, &req, false) {
		return
	}
	user, err := a.svc.Users.UpdateName(r.Context(), principal(r).User.ID, req.Name)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, userResponse{Success: true, User: user.View()})
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// handleListSessions handles GET /v1/auth/sessions.
func (a *Adapter) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	views, err := a.svc.Sessions.ListForUser(r.Context(), p.User.ID, p.SessionID)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if views == nil {
		views = []api.SessionView{}
	}
	transport.WriteJSON(w, http.StatusOK, api.ListResponse[api.SessionView]{Success: true, Data: views})
}

// handleDeleteSession handles DELETE /v1/auth/sessions/{id}. Sessions of
// other users answer 404, the same as unknown IDs.
func (a *Adapter) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed session ID"))
		return
	}
	if err := a.svc.Sessions.DeleteByID(r.Context(), principal(r).User.ID, id); err != nil {
		transport.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// OAuth and linked accounts
// ---------------------------------------------------------------------------

type authorizeResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	State   string `json:"state"`
}

// handleAuthorize handles GET /v1/auth/oauth/{provider}/authorize. The
// client keeps the returned state and compares it on the way back.
func (a *Adapter) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ids, ok := a.identity(w)
	if !ok {
		return
	}
	state := api.NewID()
	url, err := ids.AuthCodeURL(r.PathValue("provider"), state, r.URL.Query().Get("redirect_uri"))
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, authorizeResponse{Success: true, URL: url, State: state})
}

// decodeCode reads an OAuthCodeRequest and checks the code is present.
func (a *Adapter) decodeCode(w http.ResponseWriter, r *http.Request) (api.OAuthCodeRequest, bool) {
	var req api.OAuthCodeRequest
	if !a.decodeBody(w, r, &req, false) {
		return req, false
	}
	if req.Code == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("code", "code is required"))
		return req, false
	}
	return req, true
}

// handleCallback handles POST /v1/auth/oauth/{provider}/callback.
func (a *Adapter) handleCallback(w http.ResponseWriter, r *http.Request) {
	ids, ok := a.identity(w)
	if !ok {
		return
	}
	req, ok := a.decodeCode(w, r)
	if !ok {
		return
	}
	user, err := ids.SignIn(r.Context(), r.PathValue("provider"), req.Code, req.RedirectURI)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	a.issue(w, r, user, session.ReasonOAuth, http.StatusOK)
}

// handleListAccounts handles GET /v1/auth/accounts.
func (a *Adapter) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ids, ok := a.identity(w)
	if !ok {
		return
	}
	accounts, err := ids.GetLinkedAccounts(r.Context(), principal(r).User.ID)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []api.LinkedAccount{}
	}
	transport.WriteJSON(w, http.StatusOK, api.ListResponse[api.LinkedAccount]{Success: true, Data: accounts})
}

// handleLinkAccount handles POST /v1/auth/accounts/{provider}.
func (a *Adapter) handleLinkAccount(w http.ResponseWriter, r *http.Request) {
	ids, ok := a.identity(w)
	if !ok {
		return
	}
	req, ok := a.decodeCode(w, r)
	if !ok {
		return
	}
	provider := r.PathValue("provider")
	profile, err := ids.ExchangeAuthorizationCode(r.Context(), provider, req.Code, req.RedirectURI)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if err := ids.LinkAccount(r.Context(), principal(r).User.ID, provider, profile); err != nil {
		transport.WriteError(w, r, err)
		return
	}
	a.handleListAccounts(w, r)
}

// handleUnlinkAccount handles DELETE /v1/auth/accounts/{provider}.
func (a *Adapter) handleUnlinkAccount(w http.ResponseWriter, r *http.Request) {
	ids, ok := a.identity(w)
	if !ok {
		return
	}
	if err := ids.UnlinkAccount(r.Context(), principal(r).User.ID, r.PathValue("provider")); err != nil {
		transport.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Administration
// ---------------------------------------------------------------------------

// handleListUsers handles GET /v1/admin/users.
func (a *Adapter) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.Users.ListUsers(r.Context())
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if users == nil {
		users = []api.UserView{}
	}
	transport.WriteJSON(w, http.StatusOK, api.ListResponse[api.UserView]{Success: true, Data: users})
}

// handleGetUser handles GET /v1/admin/users/{id}.
func (a *Adapter) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed user ID"))
		return
	}
	user, err := a.svc.Users.GetUser(r.Context(), id)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, userResponse{Success: true, User: user.View()})
}

// handleSetRole handles PUT /v1/admin/users/{id}/role.
func (a *Adapter) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed user ID"))
		return
	}
	var req api.UpdateRoleRequest
	if !a.decodeBody(w, r, &req, false) {
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("role", err.Error()))
		return
	}
	user, err := a.svc.Users.SetRole(r.Context(), id, role)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, userResponse{Success: true, User: user.View()})
}

// handleDeactivate handles POST /v1/admin/users/{id}/deactivate.
func (a *Adapter) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed user ID"))
		return
	}
	if id == principal(r).User.ID {
		transport.WriteAPIError(w, api.NewForbiddenError("self_deactivation", "administrators cannot deactivate themselves"))
		return
	}
	n, err := a.svc.Users.Deactivate(r.Context(), id)
	if err != nil {
		transport.WriteError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, revokedResponse{Success: true, Revoked: n})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealthz handles GET /healthz. It reports liveness only.
func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadyz handles GET /readyz by pinging every backing store.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	for _, hc := range a.svc.Health {
		if err := hc.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			transport.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	transport.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Ensure the concrete services satisfy the adapter's interfaces.
var (
	_ transport.IdentityService = (*oauth.Linker)(nil)
	_ transport.SessionService  = (*session.Manager)(nil)
	_ transport.UserDirectory   = (*session.Manager)(nil)
)
