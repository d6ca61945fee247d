package transport

import (
	"context"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/oauth"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/session"
)

// SessionService manages session tokens and password credentials.
// *session.Manager implements it.
type SessionService interface {
	CreateFor(ctx context.Context, userID string, info device.Info, reason string) (*session.Issued, error)
	Refresh(ctx context.Context, oldToken string, info device.Info) (*session.Issued, error)
	Delete(ctx context.Context, token string) error
	DeleteByID(ctx context.Context, userID, sessionID string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID, currentSessionID string) ([]api.SessionView, error)
	Register(ctx context.Context, email, password, name string) (*api.User, error)
	Login(ctx context.Context, email, password string) (*api.User, error)
}

// IdentityService exchanges provider codes and manages linked accounts.
// *oauth.Linker implements it.
type IdentityService interface {
	Providers() []string
	AuthCodeURL(provider, state, redirectURI string) (string, error)
	SignIn(ctx context.Context, provider, code, redirectURI string) (*api.User, error)
	ExchangeAuthorizationCode(ctx context.Context, provider, code, redirectURI string) (*oauth.Profile, error)
	LinkAccount(ctx context.Context, userID, provider string, profile *oauth.Profile) error
	GetLinkedAccounts(ctx context.Context, userID string) ([]api.LinkedAccount, error)
	UnlinkAccount(ctx context.Context, userID, provider string) error
}

// UserDirectory reads and administers users. *session.Manager implements it.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*api.User, error)
	UpdateName(ctx context.Context, userID, name string) (*api.User, error)
	ListUsers(ctx context.Context) ([]api.UserView, error)
	SetRole(ctx context.Context, userID string, role rbac.Role) (*api.User, error)
	Deactivate(ctx context.Context, userID string) (int, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
