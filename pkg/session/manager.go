package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/debug"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/observability"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/storage"
)

// Sentinel errors returned by the Manager.
var (
	// ErrInvalidSession covers every reason a token does not resolve to an
	// active user: unknown, expired, revoked, consumed by a refresh,
	// malformed, or owned by a deactivated user.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrInvalidCredentials is returned by Login for any mismatch.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned by Register when the email is in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidEmail is returned by Register for a malformed address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrWeakPassword is returned by Register for an unacceptable password.
	ErrWeakPassword = errors.New("password does not meet requirements")

	// ErrInvalidName is returned by UpdateName for an empty or overlong name.
	ErrInvalidName = errors.New("invalid display name")
)

// MaxNameLength bounds display names, in runes.
const MaxNameLength = 200

// Defaults applied by NewManager to unset Config fields.
const (
	DefaultTTL        = 30 * 24 * time.Hour
	DefaultTokenBytes = 32
	MinTokenBytes     = 16
)

// Issuance reasons recorded in metrics.
const (
	ReasonLogin    = "login"
	ReasonRegister = "register"
	ReasonOAuth    = "oauth"
	ReasonRefresh  = "refresh"
)

// Config controls token issuance.
type Config struct {
	// TTL is the lifetime of a new session.
	TTL time.Duration

	// DeviceTTL overrides TTL per device type.
	DeviceTTL map[device.Type]time.Duration

	// TokenBytes is the number of random bytes per token.
	TokenBytes int

	// BcryptCost is the cost for new password hashes.
	BcryptCost int
}

// Issued is a freshly minted session. Token is the plaintext credential
// and is never available again after this value is discarded.
type Issued struct {
	Token   string
	Session *api.Session
	User    *api.User
}

// Response returns the issuance wire shape.
func (i *Issued) Response() api.SessionIssued {
	return api.SessionIssued{
		SessionToken: i.Token,
		ExpiresAt:    i.Session.ExpiresAt,
		User:         i.User.View(),
	}
}

// Manager is the session token manager.
type Manager struct {
	users    storage.UserStore
	sessions storage.SessionStore
	cfg      Config
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. Users and sessions may live in different
// backends.
func NewManager(users storage.UserStore, sessions storage.SessionStore, cfg Config, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TokenBytes == 0 {
		cfg.TokenBytes = DefaultTokenBytes
	}
	if cfg.TokenBytes < MinTokenBytes {
		cfg.TokenBytes = MinTokenBytes
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	m := &Manager{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) ttlFor(t device.Type) time.Duration {
	if d, ok := m.cfg.DeviceTTL[t]; ok && d > 0 {
		return d
	}
	return m.cfg.TTL
}

// newSession builds an unsaved session and its plaintext token.
func (m *Manager) newSession(userID string, info device.Info) (string, *api.Session, error) {
	token, err := newToken(m.cfg.TokenBytes)
	if err != nil {
		return "", nil, err
	}
	now := m.now()
	return token, &api.Session{
		ID:         api.NewID(),
		TokenHash:  HashToken(token),
		TokenHint:  hint(token),
		UserID:     userID,
		DeviceType: info.Type,
		DeviceName: info.Name,
		UserAgent:  info.UserAgent,
		IPAddress:  info.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttlFor(info.Type)),
	}, nil
}

// Create mints a session for userID. The user must exist and be active.
func (m *Manager) Create(ctx context.Context, userID string, info device.Info) (*Issued, error) {
	return m.create(ctx, userID, info, ReasonLogin)
}

// CreateFor mints a session and records why it was issued.
func (m *Manager) CreateFor(ctx context.Context, userID string, info device.Info, reason string) (*Issued, error) {
	return m.create(ctx, userID, info, reason)
}

func (m *Manager) create(ctx context.Context, userID string, info device.Info, reason string) (*Issued, error) {
	user, err := m.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	token, sess, err := m.newSession(userID, info)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	observability.SessionsIssuedTotal.WithLabelValues(string(sess.DeviceType), reason).Inc()
	debug.Log(debug.Sessions, "session issued",
		"user_id", userID, "session_id", sess.ID, "device_type", sess.DeviceType, "reason", reason)

	return &Issued{Token: token, Session: sess, User: user}, nil
}

// activeUser loads userID and rejects unknown or deactivated users.
func (m *Manager) activeUser(ctx context.Context, userID string) (*api.User, error) {
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.Active {
		return nil, ErrInvalidSession
	}
	return user, nil
}

// Validate resolves a token to its user and session without changing
// any state.
func (m *Manager) Validate(ctx context.Context, token string) (*api.User, *api.Session, error) {
	if token == "" || len(token) > maxTokenLen {
		return nil, nil, ErrInvalidSession
	}

	sess, err := m.sessions.GetSessionByHash(ctx, HashToken(token), m.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, fmt.Errorf("looking up session: %w", err)
	}

	user, err := m.activeUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

// Refresh consumes oldToken and issues a replacement bound to the same
// user. A zero-valued info keeps the device description of the old
// session. When several callers refresh the same token concurrently
// exactly one receives a new session; the others get ErrInvalidSession.
func (m *Manager) Refresh(ctx context.Context, oldToken string, info device.Info) (*Issued, error) {
	user, old, err := m.Validate(ctx, oldToken)
	if err != nil {
		observability.SessionRefreshTotal.WithLabelValues(refreshResult(err)).Inc()
		return nil, err
	}

	if info == (device.Info{}) {
		info = device.Info{
			Type:      old.DeviceType,
			Name:      old.DeviceName,
			UserAgent: old.UserAgent,
			IPAddress: old.IPAddress,
		}
	}

	token, next, err := m.newSession(user.ID, info)
	if err != nil {
		observability.SessionRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := m.sessions.RotateSession(ctx, old.TokenHash, next, m.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = ErrInvalidSession
		} else {
			err = fmt.Errorf("rotating session: %w", err)
		}
		observability.SessionRefreshTotal.WithLabelValues(refreshResult(err)).Inc()
		return nil, err
	}

	observability.SessionRefreshTotal.WithLabelValues("ok").Inc()
	observability.SessionsIssuedTotal.WithLabelValues(string(next.DeviceType), ReasonRefresh).Inc()
	debug.Log(debug.Sessions, "session rotated",
		"user_id", user.ID, "old_session_id", old.ID, "session_id", next.ID)

	return &Issued{Token: token, Session: next, User: user}, nil
}

func refreshResult(err error) string {
	if errors.Is(err, ErrInvalidSession) {
		return "invalid"
	}
	return "error"
}

// Delete revokes the session identified by token. Revoking an unknown
// token succeeds.
func (m *Manager) Delete(ctx context.Context, token string) error {
	if token == "" || len(token) > maxTokenLen {
		return nil
	}
	if err := m.sessions.DeleteSessionByHash(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	observability.SessionsRevokedTotal.WithLabelValues("logout").Inc()
	return nil
}

// DeleteByID revokes one of the user's sessions. It returns
// storage.ErrNotFound if the session does not exist or belongs to
// someone else.
func (m *Manager) DeleteByID(ctx context.Context, userID, sessionID string) error {
	if err := m.sessions.DeleteSessionByID(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	observability.SessionsRevokedTotal.WithLabelValues("revoke").Inc()
	return nil
}

// DeleteAllForUser revokes every session of userID and returns how many
// were removed.
func (m *Manager) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := m.sessions.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	observability.SessionsRevokedTotal.WithLabelValues("logout_all").Add(float64(n))
	slog.Info("revoked all sessions", "user_id", userID, "count", n)
	return n, nil
}

// ListForUser returns the user's live sessions in creation order.
// currentSessionID marks the caller's own session and may be empty.
func (m *Manager) ListForUser(ctx context.Context, userID, currentSessionID string) ([]api.SessionView, error) {
	sessions, err := m.sessions.ListUserSessions(ctx, userID, m.now())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	views := make([]api.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View(currentSessionID))
	}
	return views, nil
}

// Sweep physically removes expired sessions. Expired sessions are
// already invisible to every read, so this only reclaims storage.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.sessions.DeleteExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	observability.SessionsSweptTotal.Add(float64(n))
	return n, nil
}

// Register creates a password user with the USER role.
func (m *Manager) Register(ctx context.Context, email, password, name string) (*api.User, error) {
	email = api.NormalizeEmail(email)
	if !api.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password, m.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := m.now()
	user := &api.User{
		ID:           api.NewID(),
		Email:        email,
		Name:         name,
		Role:         rbac.RoleUser,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	slog.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login checks a password credential and returns the user. Every failure
// is reported as ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, email, password string) (*api.User, error) {
	user, err := m.users.GetUserByEmail(ctx, api.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading user: %w", err)
		}
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if !user.HasPassword() {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if !CheckPassword(user.PasswordHash, password) || !user.Active {
		debug.Log(debug.Sessions, "login rejected", "user_id", user.ID, "active", user.Active)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
