package storage

import (
	"context"
	"time"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/rbac"
)

// UserStore persists user records. Emails are compared case-insensitively;
// callers pass them already normalized to lower case.
type UserStore interface {
	// CreateUser inserts a new user. Returns ErrConflict if the email is taken.
	CreateUser(ctx context.Context, u *api.User) error

	GetUser(ctx context.Context, id string) (*api.User, error)
	GetUserByEmail(ctx context.Context, email string) (*api.User, error)

	// ListUsers returns all users in creation order.
	ListUsers(ctx context.Context) ([]*api.User, error)

	UpdateUserRole(ctx context.Context, id string, role rbac.Role) error
	UpdateUserName(ctx context.Context, id, name string) error
	SetUserActive(ctx context.Context, id string, active bool) error
}

// SessionStore persists bearer sessions keyed by token digest. Every read
// treats a session whose expiry is not after now as absent.
type SessionStore interface {
	// CreateSession inserts a session. Returns ErrConflict on a digest collision.
	CreateSession(ctx context.Context, s *api.Session) error

	// GetSessionByHash returns the live session with the given digest.
	GetSessionByHash(ctx context.Context, tokenHash string, now time.Time) (*api.Session, error)

	// RotateSession atomically deletes the live session identified by
	// oldHash and inserts next, which must belong to the same user. If the
	// old session is already gone (including because a concurrent rotation
	// won), it returns ErrNotFound and writes nothing.
	RotateSession(ctx context.Context, oldHash string, next *api.Session, now time.Time) error

	// DeleteSessionByHash removes a session. Deleting an absent session is
	// not an error.
	DeleteSessionByHash(ctx context.Context, tokenHash string) error

	// DeleteSessionByID removes the session only if it belongs to userID.
	// Returns ErrNotFound otherwise.
	DeleteSessionByID(ctx context.Context, userID, sessionID string) error

	// DeleteUserSessions removes every session of userID and returns how
	// many were removed.
	DeleteUserSessions(ctx context.Context, userID string) (int, error)

	// ListUserSessions returns live sessions of userID in creation order.
	ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*api.Session, error)

	// DeleteExpiredSessions physically removes expired sessions.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// AccountStore persists provider identities linked to users.
type AccountStore interface {
	GetAccount(ctx context.Context, provider, providerAccountID string) (*api.OAuthAccount, error)

	// ListAccounts returns the user's accounts ordered by link time.
	ListAccounts(ctx context.Context, userID string) ([]*api.OAuthAccount, error)

	// CreateAccount links an account. Returns ErrConflict if the provider
	// identity is linked already or the user already has an account for
	// that provider.
	CreateAccount(ctx context.Context, a *api.OAuthAccount) error

	// UpdateAccountProfile refreshes the cached profile fields.
	UpdateAccountProfile(ctx context.Context, a *api.OAuthAccount) error

	// CreateUserWithAccount inserts a user and its first linked account in
	// one transaction. Neither is visible without the other.
	CreateUserWithAccount(ctx context.Context, u *api.User, a *api.OAuthAccount) error

	// DeleteAccountIfNotLast unlinks the user's account for provider unless
	// that would leave the user with neither a password nor another linked
	// account. Returns ErrNotFound if no such account exists and
	// ErrLastAuthMethod if the unlink is refused.
	DeleteAccountIfNotLast(ctx context.Context, userID, provider string) error
}

// Store is a full backend.
type Store interface {
	UserStore
	SessionStore
	AccountStore

	HealthCheck(ctx context.Context) error
	Close() error
}
