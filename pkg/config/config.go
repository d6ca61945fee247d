// Package config provides unified configuration for the authcore server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (AUTHCORE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Authentication modes.
const (
	ModeBearer  = "bearer"
	ModeBrowser = "browser"
)

// OAuth provider types.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
	ProviderOIDC   = "oidc"
)

// Config holds all configuration for the authcore server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Session       SessionConfig       `yaml:"session"`
	Auth          AuthConfig          `yaml:"auth"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 15s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// StorageConfig selects the credential store. Users and linked accounts
// always live in Type; sessions may be moved to Redis.
type StorageConfig struct {
	Type     string               `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig       `yaml:"postgres"`
	Sessions SessionStorageConfig `yaml:"sessions"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// SessionStorageConfig optionally moves sessions to a separate backend.
type SessionStorageConfig struct {
	Backend string      `yaml:"backend"` // "" (same as storage.type) or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the session backend.
type RedisConfig struct {
	Addr         string `yaml:"addr"` // default: "localhost:6379"
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix"` // default: "authcore:"
}

// SessionConfig controls token issuance and cleanup.
type SessionConfig struct {
	TTL           time.Duration            `yaml:"ttl"`            // default: 720h
	DeviceTTL     map[string]time.Duration `yaml:"device_ttl"`     // per device type override
	TokenBytes    int                      `yaml:"token_bytes"`    // default: 32, minimum 16
	BcryptCost    int                      `yaml:"bcrypt_cost"`    // default: 10
	SweepInterval time.Duration            `yaml:"sweep_interval"` // default: 1h, 0 disables
}

// AuthConfig holds request authentication settings.
type AuthConfig struct {
	// Modes lists the enabled credential types. Bearer always runs before
	// browser, whatever order is given here.
	Modes []string `yaml:"modes"` // default: ["bearer"]

	Browser BrowserConfig `yaml:"browser"`

	// AdminEmails are promoted to ADMIN at startup if they exist.
	AdminEmails []string `yaml:"admin_emails"`
}

// BrowserConfig describes the externally issued browser session cookie.
type BrowserConfig struct {
	CookieName string        `yaml:"cookie_name"` // default: "authcore_session"
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	UserClaim  string        `yaml:"user_claim"` // default: "sub"
	MatchEmail bool          `yaml:"match_email"`
	Leeway     time.Duration `yaml:"leeway"`
}

// OAuthConfig holds the configured identity providers.
type OAuthConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes a single OAuth identity provider.
type ProviderConfig struct {
	Name             string   `yaml:"name" json:"name"`
	Type             string   `yaml:"type" json:"type"` // "google", "github", or "oidc"; default: Name
	ClientID         string   `yaml:"client_id" json:"client_id"`
	ClientIDFile     string   `yaml:"client_id_file" json:"client_id_file"`
	ClientSecret     string   `yaml:"client_secret" json:"client_secret"`
	ClientSecretFile string   `yaml:"client_secret_file" json:"client_secret_file"`
	Scopes           []string `yaml:"scopes" json:"scopes"`

	// Issuer is required for type "oidc".
	Issuer string `yaml:"issuer" json:"issuer"`

	// Endpoint overrides for the google and github presets.
	AuthURL     string `yaml:"auth_url" json:"auth_url"`
	TokenURL    string `yaml:"token_url" json:"token_url"`
	UserInfoURL string `yaml:"userinfo_url" json:"userinfo_url"`
	EmailsURL   string `yaml:"emails_url" json:"emails_url"`

	RedirectURL         string   `yaml:"redirect_url" json:"redirect_url"`
	AllowedRedirectURLs []string `yaml:"allowed_redirect_urls" json:"allowed_redirect_urls"`
}

// ProviderType returns Type, falling back to Name.
func (p ProviderConfig) ProviderType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// RateLimitConfig limits credential endpoints per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"` // default: 30, 0 disables
	Burst             int           `yaml:"burst"`               // default: requests_per_minute
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`    // default: 5m
}

// LoggingConfig holds log output settings. AUTHCORE_LOG_LEVEL and
// AUTHCORE_DEBUG take precedence at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
	Format string `yaml:"format"` // "text" (default) or "json"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
			Sessions: SessionStorageConfig{
				Redis: RedisConfig{
					Addr:   "localhost:6379",
					Prefix: "authcore:",
				},
			},
		},
		Session: SessionConfig{
			TTL:           30 * 24 * time.Hour,
			TokenBytes:    32,
			BcryptCost:    10,
			SweepInterval: time.Hour,
		},
		Auth: AuthConfig{
			Modes: []string{ModeBearer},
			Browser: BrowserConfig{
				CookieName: "authcore_session",
				UserClaim:  "sub",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			CleanupInterval:   5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
