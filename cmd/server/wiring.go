package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rhuss/authcore/pkg/auth"
	"github.com/rhuss/authcore/pkg/auth/bearer"
	"github.com/rhuss/authcore/pkg/auth/browser"
	"github.com/rhuss/authcore/pkg/config"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/oauth"
	"github.com/rhuss/authcore/pkg/rbac"
	"github.com/rhuss/authcore/pkg/session"
	"github.com/rhuss/authcore/pkg/storage"
	"github.com/rhuss/authcore/pkg/storage/memory"
	"github.com/rhuss/authcore/pkg/storage/postgres"
	"github.com/rhuss/authcore/pkg/storage/redis"
	"github.com/rhuss/authcore/pkg/transport"
)

// stores holds the opened backends. Sessions may live in Redis while
// users and accounts stay in the primary store.
type stores struct {
	users          storage.UserStore
	sessions       storage.SessionStore
	accounts       oauth.Store
	sessionBackend string
	health         []transport.HealthChecker
	closers        []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	var primary storage.Store
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		primary = pg
	default:
		slog.Warn("using in-memory storage; all users and sessions are lost on restart")
		primary = memory.New()
	}

	s := &stores{
		users:          primary,
		sessions:       primary,
		accounts:       primary,
		sessionBackend: cfg.Storage.Type,
		health:         []transport.HealthChecker{primary},
		closers:        []func() error{primary.Close},
	}

	if cfg.Storage.Sessions.Backend == config.StorageRedis {
		rc := cfg.Storage.Sessions.Redis
		rs, err := redis.New(ctx, redis.Config{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening redis: %w", err)
		}
		s.sessions = rs
		s.sessionBackend = config.StorageRedis
		s.health = append(s.health, rs)
		s.closers = append(s.closers, rs.Close)
	}

	return s, nil
}

func sessionConfig(cfg config.SessionConfig) session.Config {
	perDevice := make(map[device.Type]time.Duration, len(cfg.DeviceTTL))
	for name, ttl := range cfg.DeviceTTL {
		perDevice[device.ParseType(name)] = ttl
	}
	return session.Config{
		TTL:        cfg.TTL,
		DeviceTTL:  perDevice,
		TokenBytes: cfg.TokenBytes,
		BcryptCost: cfg.BcryptCost,
	}
}

// buildLinker returns nil when no providers are configured.
func buildLinker(ctx context.Context, cfg config.OAuthConfig, store oauth.Store) (*oauth.Linker, error) {
	if len(cfg.Providers) == 0 {
		return nil, nil
	}

	providers := make([]oauth.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := buildProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("oauth provider %q: %w", pc.Name, err)
		}
		providers = append(providers, p)
		slog.Info("identity provider configured", "name", pc.Name, "type", pc.ProviderType())
	}
	return oauth.NewLinker(store, oauth.NewRegistry(providers...)), nil
}

func buildProvider(ctx context.Context, pc config.ProviderConfig) (oauth.Provider, error) {
	switch pc.ProviderType() {
	case config.ProviderOIDC:
		return oauth.NewOIDCProvider(ctx, oauth.OIDCConfig{
			Name:                pc.Name,
			Issuer:              pc.Issuer,
			ClientID:            pc.ClientID,
			ClientSecret:        pc.ClientSecret,
			Scopes:              pc.Scopes,
			RedirectURL:         pc.RedirectURL,
			AllowedRedirectURLs: pc.AllowedRedirectURLs,
		})
	case config.ProviderGoogle, config.ProviderGitHub:
		return oauth.NewOAuth2Provider(oauth.OAuth2Config{
			Name:                pc.Name,
			ClientID:            pc.ClientID,
			ClientSecret:        pc.ClientSecret,
			Scopes:              pc.Scopes,
			AuthURL:             pc.AuthURL,
			TokenURL:            pc.TokenURL,
			UserInfoURL:         pc.UserInfoURL,
			EmailsURL:           pc.EmailsURL,
			RedirectURL:         pc.RedirectURL,
			AllowedRedirectURLs: pc.AllowedRedirectURLs,
		})
	default:
		return nil, errors.New("unsupported provider type " + pc.ProviderType())
	}
}

// modePrecedence is the order authenticators run in. A request carrying a
// bearer token is decided by the bearer authenticator before any cookie is
// looked at.
var modePrecedence = []string{config.ModeBearer, config.ModeBrowser}

// buildGate assembles the authenticator chain for the configured modes.
// The order of cfg.Modes does not matter; see modePrecedence.
func buildGate(cfg config.AuthConfig, manager *session.Manager, users storage.UserStore) (*auth.Gate, error) {
	for _, mode := range cfg.Modes {
		if !slices.Contains(modePrecedence, mode) {
			return nil, fmt.Errorf("unknown auth mode %q", mode)
		}
	}

	var authenticators []auth.Authenticator
	for _, mode := range modePrecedence {
		if !slices.Contains(cfg.Modes, mode) {
			continue
		}
		switch mode {
		case config.ModeBearer:
			authenticators = append(authenticators, bearer.New(manager))
		case config.ModeBrowser:
			b, err := browser.New(browser.Config{
				CookieName: cfg.Browser.CookieName,
				Secret:     []byte(cfg.Browser.Secret),
				Issuer:     cfg.Browser.Issuer,
				Audience:   cfg.Browser.Audience,
				UserClaim:  cfg.Browser.UserClaim,
				MatchEmail: cfg.Browser.MatchEmail,
				Leeway:     cfg.Browser.Leeway,
			}, users)
			if err != nil {
				return nil, fmt.Errorf("browser authenticator: %w", err)
			}
			authenticators = append(authenticators, b)
		}
	}
	return auth.NewGate(auth.NewChain(authenticators...), rbac.DefaultPolicy()), nil
}

func buildLimiter(cfg config.RateLimitConfig) *auth.RateLimiter {
	rl := auth.NewRateLimiter(auth.RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		CleanupInterval:   cfg.CleanupInterval,
	})
	if !rl.Enabled() {
		slog.Warn("rate limiting of credential endpoints is disabled")
	}
	return rl
}
