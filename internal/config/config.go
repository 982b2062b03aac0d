// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Error body styles.
const (
	ErrorStyleStructured = "structured"
	ErrorStyleLegacy     = "legacy"
)

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
	CSRF     CSRFConfig
	Gate     GateConfig
	Upstream UpstreamConfig
	Audit    AuditConfig
	Policy   PolicyConfig
	Errors   ErrorsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Env      string
	LogLevel string
}

// IsDevelopment returns true if the app is running in development mode.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development" || a.Env == "dev"
}

// IsProduction returns true if the app is running in production mode.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production" || a.Env == "prod"
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Address returns the server address in host:port format.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Address returns the Redis address in host:port format.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled        bool
	Backend        string        // "memory" (per process) or "redis" (shared)
	SweepInterval  time.Duration // 0 means the longest policy window
	TrustProxy     bool
	TrustedProxies []string // peers allowed to set forwarding headers; empty means any
}

// CSRFConfig holds double-submit cookie configuration.
type CSRFConfig struct {
	Enabled bool
	// SecureCookie forces the Secure attribute; production always sets it.
	SecureCookie bool
}

// GateConfig holds the site-wide password gate configuration.
type GateConfig struct {
	Password   string
	CookieName string
	LoginPath  string
	CookieTTL  time.Duration
}

// Enabled returns true if a site password is configured.
func (g GateConfig) Enabled() bool {
	return g.Password != ""
}

// UpstreamConfig holds the application the gateway forwards to.
type UpstreamConfig struct {
	URL string
}

// AuditConfig holds rejection audit configuration.
type AuditConfig struct {
	Enabled       bool
	FlushInterval time.Duration
	BatchSize     int
}

// PolicyConfig points at an optional YAML policy file.
type PolicyConfig struct {
	File  string
	Watch bool
}

// ErrorsConfig selects the JSON shape of admission error bodies.
type ErrorsConfig struct {
	Style string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// App config
	cfg.App.Env = getEnvOrDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Server config
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", "0.0.0.0")
	if cfg.Server.Port, err = getEnvAsInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	if cfg.Server.ReadTimeout, err = getEnvAsDuration("SERVER_READ_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	if cfg.Server.WriteTimeout, err = getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	if cfg.Server.ShutdownTimeout, err = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
	}

	// Database config
	cfg.Database.Host = getEnvOrDefault("DB_HOST", "")
	if cfg.Database.Port, err = getEnvAsInt("DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Database.User = getEnvOrDefault("DB_USER", "edgegate")
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", "")
	cfg.Database.DBName = getEnvOrDefault("DB_NAME", "edgegate")
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	if cfg.Database.MaxOpenConns, err = getEnvAsInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	if cfg.Database.MaxIdleConns, err = getEnvAsInt("DB_MAX_IDLE_CONNS", 2); err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}
	if cfg.Database.ConnMaxLifetime, err = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	// Redis config
	cfg.Redis.Host = getEnvOrDefault("REDIS_HOST", "")
	if cfg.Redis.Port, err = getEnvAsInt("REDIS_PORT", 6379); err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = getEnvAsInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.Redis.PoolSize, err = getEnvAsInt("REDIS_POOL_SIZE", 10); err != nil {
		return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
	}

	// Rate limit config
	if cfg.Rate.Enabled, err = getEnvAsBool("RATE_LIMIT_ENABLED", true); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_ENABLED: %w", err)
	}
	cfg.Rate.Backend = strings.ToLower(getEnvOrDefault("RATE_LIMIT_BACKEND", BackendMemory))
	if cfg.Rate.SweepInterval, err = getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", 0); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SWEEP_INTERVAL: %w", err)
	}
	if cfg.Rate.TrustProxy, err = getEnvAsBool("RATE_LIMIT_TRUST_PROXY", true); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_TRUST_PROXY: %w", err)
	}
	cfg.Rate.TrustedProxies = getEnvAsList("RATE_LIMIT_TRUSTED_PROXIES")

	// CSRF config
	if cfg.CSRF.Enabled, err = getEnvAsBool("CSRF_ENABLED", true); err != nil {
		return nil, fmt.Errorf("invalid CSRF_ENABLED: %w", err)
	}
	if cfg.CSRF.SecureCookie, err = getEnvAsBool("CSRF_SECURE_COOKIE", false); err != nil {
		return nil, fmt.Errorf("invalid CSRF_SECURE_COOKIE: %w", err)
	}

	// Gate config
	cfg.Gate.Password = os.Getenv("SITE_PASSWORD")
	cfg.Gate.CookieName = getEnvOrDefault("SITE_ACCESS_COOKIE", "site-access")
	cfg.Gate.LoginPath = getEnvOrDefault("SITE_ACCESS_PATH", "/site-access")
	if cfg.Gate.CookieTTL, err = getEnvAsDuration("SITE_ACCESS_TTL", 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("invalid SITE_ACCESS_TTL: %w", err)
	}

	// Upstream config
	cfg.Upstream.URL = getEnvOrDefault("UPSTREAM_URL", "")

	// Audit config
	if cfg.Audit.Enabled, err = getEnvAsBool("AUDIT_ENABLED", true); err != nil {
		return nil, fmt.Errorf("invalid AUDIT_ENABLED: %w", err)
	}
	if cfg.Audit.FlushInterval, err = getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("invalid AUDIT_FLUSH_INTERVAL: %w", err)
	}
	if cfg.Audit.BatchSize, err = getEnvAsInt("AUDIT_BATCH_SIZE", 500); err != nil {
		return nil, fmt.Errorf("invalid AUDIT_BATCH_SIZE: %w", err)
	}

	// Policy config
	cfg.Policy.File = getEnvOrDefault("POLICY_FILE", "")
	if cfg.Policy.Watch, err = getEnvAsBool("POLICY_WATCH", false); err != nil {
		return nil, fmt.Errorf("invalid POLICY_WATCH: %w", err)
	}

	// Errors config
	cfg.Errors.Style = strings.ToLower(getEnvOrDefault("ERROR_BODY_STYLE", ErrorStyleStructured))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Rate.Backend {
	case BackendMemory:
	case BackendRedis:
		if !c.RedisEnabled() {
			return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_HOST")
		}
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q: must be %q or %q", c.Rate.Backend, BackendMemory, BackendRedis)
	}

	switch c.Errors.Style {
	case ErrorStyleStructured, ErrorStyleLegacy:
	default:
		return fmt.Errorf("invalid ERROR_BODY_STYLE %q: must be %q or %q", c.Errors.Style, ErrorStyleStructured, ErrorStyleLegacy)
	}

	if c.Policy.Watch && c.Policy.File == "" {
		return fmt.Errorf("POLICY_WATCH requires POLICY_FILE")
	}

	return nil
}

// SecureCookies returns true if cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return c.App.IsProduction() || c.CSRF.SecureCookie
}

// DatabaseEnabled returns true if database configuration is provided.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != "" && c.Database.Password != ""
}

// RedisEnabled returns true if Redis configuration is provided.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// getEnvAsBool returns the environment variable as a boolean.
func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}

// getEnvAsDuration returns the environment variable as a duration.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
