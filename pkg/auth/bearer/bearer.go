// Package bearer provides an authenticator that resolves
// "Authorization: Bearer <token>" headers to sessions issued by the
// session manager.
package bearer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/auth"
	"github.com/rhuss/authcore/pkg/session"
)

// Validator resolves a plaintext session token. *session.Manager
// implements it.
type Validator interface {
	Validate(ctx context.Context, token string) (*api.User, *api.Session, error)
}

// Authenticator validates bearer session tokens.
type Authenticator struct {
	sessions Validator
}

// New creates a bearer authenticator backed by v.
func New(v Validator) *Authenticator {
	return &Authenticator{sessions: v}
}

// Token extracts the bearer token from r. The boolean reports whether a
// Bearer credential was offered at all; the token may still be empty.
func Token(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	if !found {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// Authenticate extracts the bearer token and validates it.
// Returns Yes if valid, No if a bearer token is present but invalid,
// Abstain if no Authorization header or not a Bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	token, ok := Token(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain, Source: auth.SourceBearer}
	}
	if token == "" {
		return auth.Reject(auth.SourceBearer, fmt.Errorf("%w: empty bearer token", auth.ErrUnauthenticated))
	}

	user, sess, err := a.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return auth.Reject(auth.SourceBearer, fmt.Errorf("%w: %w", auth.ErrUnauthenticated, err))
		}
		return auth.Reject(auth.SourceBearer, fmt.Errorf("validating bearer token: %w", err))
	}

	return auth.Accept(auth.SourceBearer, user, sess.ID)
}
