package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/rhuss/authcore/pkg/api"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the principal is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Source names the credential a principal was resolved from.
type Source string

const (
	SourceBearer  Source = "bearer"
	SourceBrowser Source = "browser"
	SourceNone    Source = "none"
)

// Principal is the resolved caller of a request.
type Principal struct {
	User   api.User
	Source Source

	// SessionID is the session the credential belongs to. Browser
	// principals carry it only when the cookie names one.
	SessionID string
}

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision  AuthDecision
	Source    Source
	Principal *Principal // populated only when Decision == Yes
	Err       error      // populated only when Decision == No
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Reject builds a No result for source. Credential failures should wrap
// ErrUnauthenticated; any other error is treated as an internal failure.
func Reject(source Source, err error) AuthResult {
	return AuthResult{Decision: No, Source: source, Err: err}
}

// Accept builds a Yes result for the given user.
func Accept(source Source, user *api.User, sessionID string) AuthResult {
	return AuthResult{
		Decision:  Yes,
		Source:    source,
		Principal: &Principal{User: *user, Source: source, SessionID: sessionID},
	}
}

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator
}

// NewChain creates a chain from the given authenticators.
func NewChain(authenticators ...Authenticator) *AuthChain {
	return &AuthChain{Authenticators: authenticators}
}

// Authenticate runs the chain. Stops on the first Yes or No.
// If all abstain, the request is unauthenticated.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	return AuthResult{
		Decision: No,
		Source:   SourceNone,
		Err:      ErrUnauthenticated,
	}
}
