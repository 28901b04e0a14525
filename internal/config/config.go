// ABOUTME: Configuration loading and parsing for shopware-app-server
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and validation

package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the minimum length of auth.jwt_secret in bytes.
const MinJWTSecretLength = 32

// MinEncryptionKeyLength is the minimum decoded length of database.encryption_key.
const MinEncryptionKeyLength = 32

// Config represents the complete shopware-app-server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	AppServer AppServerConfig `yaml:"appserver" toml:"appserver"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Apps      []AppConfig     `yaml:"apps" toml:"apps"`
	Events    EventsConfig    `yaml:"events" toml:"events"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr              string        `yaml:"http_addr" toml:"http_addr"`
	ReadHeaderTimeout     time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout       time.Duration `yaml:"-" toml:"-"`
	RegistrationRateLimit float64       `yaml:"registration_rate_limit" toml:"registration_rate_limit"`
	CORSAllowedOrigins    []string      `yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For/X-Real-IP.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" toml:"trust_proxy_headers"`

	// Raw string values for unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the shop record store
type DatabaseConfig struct {
	Driver        string `yaml:"driver" toml:"driver"`
	Path          string `yaml:"path" toml:"path"`
	DSN           string `yaml:"dsn" toml:"dsn"`
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

// AppServerConfig holds the registration and token behaviour
type AppServerConfig struct {
	SSLOnly                                *bool         `yaml:"ssl_only" toml:"ssl_only"`
	MapLocalhostIPToLocalhostDomainName    bool          `yaml:"map_localhost_ip_to_localhost_domain_name" toml:"map_localhost_ip_to_localhost_domain_name"`
	EnforceReRegistrationWithShopSignature bool          `yaml:"enforce_re_registration_with_shop_signature" toml:"enforce_re_registration_with_shop_signature"`
	LogOutboundRequests                    bool          `yaml:"log_outbound_requests" toml:"log_outbound_requests"`
	AppTokenTTL                            time.Duration `yaml:"-" toml:"-"`
	EventDedupeTTL                         time.Duration `yaml:"-" toml:"-"`

	AppTokenTTLRaw    string `yaml:"app_token_ttl" toml:"app_token_ttl"`
	EventDedupeTTLRaw string `yaml:"event_dedupe_ttl" toml:"event_dedupe_ttl"`
}

// IsSSLOnly reports ssl_only, which defaults to true.
func (c AppServerConfig) IsSSLOnly() bool {
	return c.SSLOnly == nil || *c.SSLOnly
}

// AuthConfig holds operator API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// AppConfig declares one app served under its own subdomain
type AppConfig struct {
	Key     string `yaml:"key" toml:"key"`
	Name    string `yaml:"name" toml:"name"`
	Secret  string `yaml:"secret" toml:"secret"`
	Version string `yaml:"version" toml:"version"`
}

// EventsConfig configures webhook forwarding
type EventsConfig struct {
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	Stream        string `yaml:"stream" toml:"stream"`
	MaxLen        int64  `yaml:"max_len" toml:"max_len"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" toml:"level"`
	Format       string `yaml:"format" toml:"format"`
	HTTPRequests bool   `yaml:"http_requests" toml:"http_requests"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.CORSAllowedOrigins == nil {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.AppServer.AppTokenTTL == 0 {
		c.AppServer.AppTokenTTL = time.Hour
	}
	if c.AppServer.EventDedupeTTL == 0 {
		c.AppServer.EventDedupeTTL = 10 * time.Minute
	}
	for i := range c.Apps {
		if c.Apps[i].Name == "" {
			c.Apps[i].Name = c.Apps[i].Key
		}
	}
	if c.Events.Stream == "" {
		c.Events.Stream = "shopware-events"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.RegistrationRateLimit < 0 {
		return fmt.Errorf("server.registration_rate_limit must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.EncryptionKey != "" {
		if _, err := c.Database.DecodeEncryptionKey(); err != nil {
			return err
		}
	}

	if len(c.Apps) == 0 {
		return fmt.Errorf("at least one app must be configured")
	}
	seen := make(map[string]bool, len(c.Apps))
	for i, app := range c.Apps {
		if app.Key == "" {
			return fmt.Errorf("apps[%d].key is required", i)
		}
		if strings.Contains(app.Key, ".") {
			return fmt.Errorf("apps[%d].key %q must not contain dots", i, app.Key)
		}
		if seen[app.Key] {
			return fmt.Errorf("apps[%d].key %q is configured twice", i, app.Key)
		}
		seen[app.Key] = true
		if app.Secret == "" {
			return fmt.Errorf("apps[%d].secret is required", i)
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// DecodeEncryptionKey returns the base64-decoded at-rest encryption key.
func (d DatabaseConfig) DecodeEncryptionKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(d.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("database.encryption_key must be base64: %w", err)
	}
	if len(key) < MinEncryptionKeyLength {
		return nil, fmt.Errorf("database.encryption_key must decode to at least %d bytes", MinEncryptionKeyLength)
	}
	return key, nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_header_timeout", cfg.Server.ReadHeaderTimeoutRaw, &cfg.Server.ReadHeaderTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"appserver.app_token_ttl", cfg.AppServer.AppTokenTTLRaw, &cfg.AppServer.AppTokenTTL},
		{"appserver.event_dedupe_ttl", cfg.AppServer.EventDedupeTTLRaw, &cfg.AppServer.EventDedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns the config path: SHOPWARE_APP_SERVER_CONFIG, else
// $XDG_CONFIG_HOME/shopware-app-server/config.yaml, else ~/.config/...
func DefaultPath() string {
	if p := os.Getenv("SHOPWARE_APP_SERVER_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "shopware-app-server", "config.yaml")
}
