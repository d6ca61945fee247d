package oauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Profile is the identity a provider returned for an authorization code.
type Profile struct {
	// AccountID is the provider's stable subject identifier.
	AccountID     string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// Provider exchanges authorization codes for profiles.
type Provider interface {
	// Name is the provider key used in routes and stored accounts.
	Name() string

	// AuthCodeURL returns the URL the client sends the user to.
	AuthCodeURL(state, redirectURI string) (string, error)

	// Exchange trades an authorization code for the user's profile.
	Exchange(ctx context.Context, code, redirectURI string) (*Profile, error)
}

var (
	// ErrExchangeFailed is wrapped by every *ExchangeError.
	ErrExchangeFailed = errors.New("identity provider exchange failed")

	// ErrUnknownProvider is returned for a provider that is not configured.
	ErrUnknownProvider = errors.New("unknown identity provider")

	// ErrRedirectNotAllowed is returned for a redirect URI outside the
	// provider's allow-list.
	ErrRedirectNotAllowed = errors.New("redirect uri not allowed")
)

// Exchange stages reported in ExchangeError.
const (
	StageToken   = "token"
	StageProfile = "profile"
	StageIDToken = "id_token"
	StageEmails  = "emails"
)

// ExchangeError describes a failed round trip to a provider. The message
// never contains the provider's response body.
type ExchangeError struct {
	Provider string
	Stage    string
	// Status is the upstream HTTP status, or 0 if none was received.
	Status int
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s request failed with status %d", e.Provider, e.Stage, e.Status)
	}
	return fmt.Sprintf("%s: %s request failed", e.Provider, e.Stage)
}

// Unwrap exposes ErrExchangeFailed and the underlying cause.
func (e *ExchangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExchangeFailed}
	}
	return []error{ErrExchangeFailed, e.Err}
}

// redirectPolicy validates client-supplied redirect URIs. An empty URI
// selects the default.
type redirectPolicy struct {
	defaultURI string
	allowed    []string
}

func (p redirectPolicy) resolve(uri string) (string, error) {
	if uri == "" {
		if p.defaultURI == "" {
			return "", fmt.Errorf("%w: no redirect uri configured", ErrRedirectNotAllowed)
		}
		return p.defaultURI, nil
	}
	if uri == p.defaultURI || slices.Contains(p.allowed, uri) {
		return uri, nil
	}
	return "", ErrRedirectNotAllowed
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns a registry of the given providers. A later provider
// with the same name replaces an earlier one.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
