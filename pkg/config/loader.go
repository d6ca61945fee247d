package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, AUTHCORE_CONFIG env, ./config.yaml, /etc/authcore/config.yaml)
//  3. AUTHCORE_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. AUTHCORE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/authcore/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("AUTHCORE_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/authcore/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps AUTHCORE_* environment variables to config fields.
// Malformed numeric or duration values are logged and ignored.
func applyEnvOverrides(cfg *Config) {
	envString("AUTHCORE_STORAGE", &cfg.Storage.Type)
	envString("AUTHCORE_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	envString("AUTHCORE_SESSION_BACKEND", &cfg.Storage.Sessions.Backend)
	envString("AUTHCORE_REDIS_ADDR", &cfg.Storage.Sessions.Redis.Addr)
	envString("AUTHCORE_REDIS_PASSWORD", &cfg.Storage.Sessions.Redis.Password)
	envString("AUTHCORE_BROWSER_SECRET", &cfg.Auth.Browser.Secret)
	envString("AUTHCORE_BROWSER_COOKIE", &cfg.Auth.Browser.CookieName)
	envString("AUTHCORE_LOG_LEVEL", &cfg.Logging.Level)
	envString("AUTHCORE_DEBUG", &cfg.Logging.Debug)
	envString("AUTHCORE_LOG_FORMAT", &cfg.Logging.Format)

	envInt("AUTHCORE_PORT", &cfg.Server.Port)
	envInt("AUTHCORE_REDIS_DB", &cfg.Storage.Sessions.Redis.DB)
	envInt("AUTHCORE_RATE_LIMIT_RPM", &cfg.RateLimit.RequestsPerMinute)
	envInt("AUTHCORE_BCRYPT_COST", &cfg.Session.BcryptCost)

	envDuration("AUTHCORE_SESSION_TTL", &cfg.Session.TTL)
	envDuration("AUTHCORE_SWEEP_INTERVAL", &cfg.Session.SweepInterval)

	if v := os.Getenv("AUTHCORE_MIGRATE_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.Postgres.MigrateOnStart = b
		} else {
			slog.Warn("ignoring malformed environment variable", "name", "AUTHCORE_MIGRATE_ON_START")
		}
	}

	if v := os.Getenv("AUTHCORE_AUTH_MODES"); v != "" {
		cfg.Auth.Modes = splitList(v)
	}
	if v := os.Getenv("AUTHCORE_ADMIN_EMAILS"); v != "" {
		cfg.Auth.AdminEmails = splitList(v)
	}

	// AUTHCORE_OAUTH_PROVIDERS: JSON array of provider configs.
	if v := os.Getenv("AUTHCORE_OAUTH_PROVIDERS"); v != "" {
		providers, err := parseProvidersJSON(v)
		if err != nil {
			slog.Warn("ignoring malformed environment variable", "name", "AUTHCORE_OAUTH_PROVIDERS", "error", err)
		} else if len(providers) > 0 {
			cfg.OAuth.Providers = providers
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed environment variable", "name", name)
		return
	}
	*dst = n
}

func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed environment variable", "name", name)
		return
	}
	*dst = d
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseProvidersJSON parses a JSON array of OAuth provider configurations.
func parseProvidersJSON(jsonStr string) ([]ProviderConfig, error) {
	var providers []ProviderConfig
	if err := json.Unmarshal([]byte(jsonStr), &providers); err != nil {
		return nil, fmt.Errorf("parsing OAuth providers JSON: %w", err)
	}
	return providers, nil
}

// fileRef pairs a _file field with the value field it fills.
type fileRef struct {
	name string
	file string
	dst  *string
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []fileRef{
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"storage.sessions.redis.password_file", cfg.Storage.Sessions.Redis.PasswordFile, &cfg.Storage.Sessions.Redis.Password},
		{"auth.browser.secret_file", cfg.Auth.Browser.SecretFile, &cfg.Auth.Browser.Secret},
	}
	for i := range cfg.OAuth.Providers {
		p := &cfg.OAuth.Providers[i]
		refs = append(refs,
			fileRef{fmt.Sprintf("oauth.providers[%d].client_id_file", i), p.ClientIDFile, &p.ClientID},
			fileRef{fmt.Sprintf("oauth.providers[%d].client_secret_file", i), p.ClientSecretFile, &p.ClientSecret},
		)
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.dst = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
