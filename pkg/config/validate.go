package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/authcore/pkg/device"
)

// minBrowserSecretLen is the shortest accepted HS256 key.
const minBrowserSecretLen = 32

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateOAuth()...)

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_minute must be >= 0, got %d", c.RateLimit.RequestsPerMinute))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be >= 0, got %d", c.RateLimit.Burst))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Type {
	case StorageMemory, StoragePostgres:
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == StoragePostgres {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Storage.Sessions.Backend {
	case "", c.Storage.Type:
		// valid: sessions share the main store
	case StorageRedis:
		if c.Storage.Sessions.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("storage.sessions.redis.addr is required when storage.sessions.backend is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.sessions.backend must be empty, %q, or \"redis\", got %q", c.Storage.Type, c.Storage.Sessions.Backend))
	}

	return errs
}

func (c *Config) validateSession() []error {
	var errs []error
	s := c.Session

	if s.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be > 0, got %s", s.TTL))
	}
	for name, ttl := range s.DeviceTTL {
		if device.ParseType(name) != device.Type(name) {
			errs = append(errs, fmt.Errorf("session.device_ttl: unknown device type %q", name))
		}
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("session.device_ttl.%s must be > 0, got %s", name, ttl))
		}
	}
	if s.TokenBytes < 16 {
		errs = append(errs, fmt.Errorf("session.token_bytes must be >= 16, got %d", s.TokenBytes))
	}
	if s.BcryptCost < bcrypt.MinCost || s.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("session.bcrypt_cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, s.BcryptCost))
	}
	if s.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval must be >= 0, got %s", s.SweepInterval))
	}

	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error

	if len(c.Auth.Modes) == 0 {
		errs = append(errs, fmt.Errorf("auth.modes must list at least one of \"bearer\", \"browser\""))
	}
	seen := make(map[string]bool, len(c.Auth.Modes))
	for _, mode := range c.Auth.Modes {
		switch mode {
		case ModeBearer, ModeBrowser:
			// valid
		default:
			errs = append(errs, fmt.Errorf("auth.modes: unknown mode %q", mode))
		}
		if seen[mode] {
			errs = append(errs, fmt.Errorf("auth.modes: duplicate mode %q", mode))
		}
		seen[mode] = true
	}

	if slices.Contains(c.Auth.Modes, ModeBrowser) {
		b := c.Auth.Browser
		if b.Secret == "" && b.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.browser.secret or auth.browser.secret_file is required when auth.modes contains \"browser\""))
		} else if b.Secret != "" && len(b.Secret) < minBrowserSecretLen {
			errs = append(errs, fmt.Errorf("auth.browser.secret must be at least %d bytes", minBrowserSecretLen))
		}
		if b.CookieName == "" {
			errs = append(errs, fmt.Errorf("auth.browser.cookie_name is required"))
		}
	}

	return errs
}

func (c *Config) validateOAuth() []error {
	var errs []error
	names := make(map[string]bool, len(c.OAuth.Providers))

	for i, p := range c.OAuth.Providers {
		field := fmt.Sprintf("oauth.providers[%d]", i)

		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else if names[p.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate provider %q", field, p.Name))
		}
		names[p.Name] = true

		switch p.ProviderType() {
		case ProviderGoogle, ProviderGitHub:
			// valid
		case ProviderOIDC:
			if p.Issuer == "" {
				errs = append(errs, fmt.Errorf("%s.issuer is required for type \"oidc\"", field))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.type must be \"google\", \"github\", or \"oidc\", got %q", field, p.ProviderType()))
		}

		if p.ClientID == "" && p.ClientIDFile == "" {
			errs = append(errs, fmt.Errorf("%s.client_id or %s.client_id_file is required", field, field))
		}
		if p.ClientSecret == "" && p.ClientSecretFile == "" {
			errs = append(errs, fmt.Errorf("%s.client_secret or %s.client_secret_file is required", field, field))
		}

		if !absoluteURL(p.RedirectURL) {
			errs = append(errs, fmt.Errorf("%s.redirect_url must be an absolute URL, got %q", field, p.RedirectURL))
		}
		for j, u := range p.AllowedRedirectURLs {
			if !absoluteURL(u) {
				errs = append(errs, fmt.Errorf("%s.allowed_redirect_urls[%d] must be an absolute URL, got %q", field, j, u))
			}
		}
	}

	return errs
}

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
