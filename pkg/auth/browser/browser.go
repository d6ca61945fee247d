// Package browser provides an authenticator for the session cookie set by
// the browser-facing login flow.
//
// The cookie holds an HS256-signed JWT issued by the browser session
// provider. The configured user claim (default "sub") names the user; the
// optional "sid" claim names the browser session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/auth"
	"github.com/rhuss/authcore/pkg/storage"
)

// DefaultCookieName is the cookie read when none is configured.
const DefaultCookieName = "authcore_session"

// Config holds the browser session authenticator configuration.
type Config struct {
	// CookieName is the session cookie name. Default: DefaultCookieName.
	CookieName string

	// Secret is the HS256 key shared with the browser session provider.
	Secret []byte

	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string

	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string

	// UserClaim is the claim that identifies the user. Default: "sub".
	UserClaim string

	// MatchEmail resolves UserClaim as an email address instead of a user ID.
	MatchEmail bool

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
}

// UserLookup resolves users. storage.UserStore implements it.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*api.User, error)
	GetUserByEmail(ctx context.Context, email string) (*api.User, error)
}

// Authenticator validates the browser session cookie.
type Authenticator struct {
	config Config
	users  UserLookup
	parser *jwtlib.Parser
}

// New creates a browser session authenticator.
func New(cfg Config, users UserLookup) (*Authenticator, error) {
	cfg.applyDefaults()
	if len(cfg.Secret) == 0 {
		return nil, errors.New("browser session secret is required")
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		config: cfg,
		users:  users,
		parser: jwtlib.NewParser(opts...),
	}, nil
}

// CookieName returns the cookie this authenticator reads.
func (a *Authenticator) CookieName() string {
	return a.config.CookieName
}

// Authenticate reads the session cookie and resolves its user.
//
// Decision outcomes:
//   - Abstain: no session cookie
//   - No: cookie present but invalid, or its user is unknown or inactive
//   - Yes: valid cookie for an active user
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	cookie, err := r.Cookie(a.config.CookieName)
	if err != nil || cookie.Value == "" {
		return auth.AuthResult{Decision: auth.Abstain, Source: auth.SourceBrowser}
	}

	claims := jwtlib.MapClaims{}
	_, err = a.parser.ParseWithClaims(cookie.Value, claims, func(*jwtlib.Token) (interface{}, error) {
		return a.config.Secret, nil
	})
	if err != nil {
		slog.Debug("browser session validation failed", "error", err)
		return auth.Reject(auth.SourceBrowser, fmt.Errorf("%w: invalid session cookie: %w", auth.ErrUnauthenticated, err))
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.Reject(auth.SourceBrowser, fmt.Errorf("%w: session cookie missing %q claim", auth.ErrUnauthenticated, a.config.UserClaim))
	}

	var user *api.User
	if a.config.MatchEmail {
		user, err = a.users.GetUserByEmail(ctx, api.NormalizeEmail(subject))
	} else {
		user, err = a.users.GetUser(ctx, subject)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Reject(auth.SourceBrowser, fmt.Errorf("%w: unknown session user", auth.ErrUnauthenticated))
		}
		return auth.Reject(auth.SourceBrowser, fmt.Errorf("loading session user: %w", err))
	}
	if !user.Active {
		return auth.Reject(auth.SourceBrowser, fmt.Errorf("%w: user inactive", auth.ErrUnauthenticated))
	}

	return auth.Accept(auth.SourceBrowser, user, claimString(claims, "sid"))
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
