package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures an OIDCProvider.
type OIDCConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string

	RedirectURL         string
	AllowedRedirectURLs []string

	HTTPClient *http.Client
}

// OIDCProvider exchanges codes with an OpenID Connect issuer and takes the
// profile from the verified ID token.
type OIDCProvider struct {
	name       string
	conf       oauth2.Config
	verifier   *oidc.IDTokenVerifier
	redirects  redirectPolicy
	httpClient *http.Client
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider discovers the issuer's endpoints and signing keys.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCProvider{
		name: cfg.Name,
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		redirects:  redirectPolicy{defaultURI: cfg.RedirectURL, allowed: cfg.AllowedRedirectURLs},
		httpClient: cfg.HTTPClient,
	}, nil
}

// Name returns the provider key.
func (p *OIDCProvider) Name() string { return p.name }

// AuthCodeURL returns the issuer's authorization URL.
func (p *OIDCProvider) AuthCodeURL(state, redirectURI string) (string, error) {
	uri, err := p.redirects.resolve(redirectURI)
	if err != nil {
		return "", err
	}
	conf := p.conf
	conf.RedirectURL = uri
	return conf.AuthCodeURL(state), nil
}

// Exchange trades code for tokens and verifies the ID token.
func (p *OIDCProvider) Exchange(ctx context.Context, code, redirectURI string) (*Profile, error) {
	uri, err := p.redirects.resolve(redirectURI)
	if err != nil {
		return nil, err
	}
	if p.httpClient != nil {
		ctx = oidc.ClientContext(ctx, p.httpClient)
	}

	conf := p.conf
	conf.RedirectURL = uri
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, tokenError(p.name, err)
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, &ExchangeError{Provider: p.name, Stage: StageIDToken, Err: errors.New("token response has no id_token")}
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, &ExchangeError{Provider: p.name, Stage: StageIDToken, Err: err}
	}

	var claims struct {
		Email         string   `json:"email"`
		EmailVerified flexBool `json:"email_verified"`
		Name          string   `json:"name"`
		Picture       string   `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, &ExchangeError{Provider: p.name, Stage: StageIDToken, Err: err}
	}

	return &Profile{
		AccountID:     idToken.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		Name:          claims.Name,
		AvatarURL:     claims.Picture,
	}, nil
}
