package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for relayforge-engine.
// Configuration comes from config.yaml with environment variable overrides.
// Secrets (PGPASSWORD, REDIS_PASSWORD, CREDENTIALS_MASTER_KEY) must only come
// from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3550"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL, the system of record)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional; backs durable rate-limit records)
	Redis RedisConfig `yaml:"redis"`

	// Vault behavior tuning
	Vault VaultConfig `yaml:"vault"`

	// Security monitor thresholds
	Security SecurityConfig `yaml:"security"`

	// Master secret for credential encryption. Per-blob keys are derived from
	// it; it never encrypts data directly. The server fails to start without
	// it outside local/test environments.
	CredentialsMasterKey string `yaml:"-" env:"CREDENTIALS_MASTER_KEY"` // Secret - not in YAML
}

// AuthConfig holds caller-authentication configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr.
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"relayforge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"relayforge_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis and
// the monitor falls back to in-memory rate-limit records.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// VaultConfig tunes the connection vault and broker.
type VaultConfig struct {
	// CacheTTLMinutes bounds how long a decrypted bundle may sit in memory,
	// measured from insertion.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" env:"VAULT_CACHE_TTL_MINUTES" env-default:"5"`
	// ProbeTimeoutSeconds bounds each connection test call.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" env:"VAULT_PROBE_TIMEOUT_SECONDS" env-default:"10"`
	// InvokeTimeoutSeconds bounds each integration invocation.
	InvokeTimeoutSeconds int `yaml:"invoke_timeout_seconds" env:"VAULT_INVOKE_TIMEOUT_SECONDS" env-default:"60"`
	// LogRetentionDays is how long connection log rows are kept before the
	// retention sweep removes them.
	LogRetentionDays int `yaml:"log_retention_days" env:"VAULT_LOG_RETENTION_DAYS" env-default:"90"`
}

// SecurityConfig holds the monitor's sliding-window thresholds.
type SecurityConfig struct {
	// FailedTestThreshold failed probes within a rolling hour auto-suspends
	// the connection.
	FailedTestThreshold int `yaml:"failed_test_threshold" env:"SECURITY_FAILED_TEST_THRESHOLD" env-default:"5"`
	// MassCreationThreshold creations within a rolling minute rate-limits the user.
	MassCreationThreshold int `yaml:"mass_creation_threshold" env:"SECURITY_MASS_CREATION_THRESHOLD" env-default:"10"`
	// RevokedUsageThreshold cumulative attempts against a revoked or
	// suspended connection raises a high-severity alert.
	RevokedUsageThreshold int `yaml:"revoked_usage_threshold" env:"SECURITY_REVOKED_USAGE_THRESHOLD" env-default:"5"`
	// CreationBlockMinutes is how long the mass-creation rate limit lasts.
	CreationBlockMinutes int `yaml:"creation_block_minutes" env:"SECURITY_CREATION_BLOCK_MINUTES" env-default:"15"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if cfg.CredentialsMasterKey == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("CREDENTIALS_MASTER_KEY must be set in %s environment", cfg.Env)
	}

	return cfg, nil
}

// IsDevelopment reports whether the process runs in a non-persistent
// developer or test mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "local" || c.Env == "test"
}

// CacheTTL returns the credential cache TTL as a duration.
func (c *VaultConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// ProbeTimeout returns the probe timeout as a duration.
func (c *VaultConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// InvokeTimeout returns the integration invocation timeout as a duration.
func (c *VaultConfig) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutSeconds) * time.Second
}

// CreationBlock returns the mass-creation rate-limit window as a duration.
func (c *SecurityConfig) CreationBlock() time.Duration {
	return time.Duration(c.CreationBlockMinutes) * time.Minute
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// parseJWKSEndpoints parses "issuer1=url1,issuer2=url2" into a map.
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}
	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}
