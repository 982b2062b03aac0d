package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv sets an environment variable for the duration of a test.
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, existed := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if existed {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

// clearEnv clears an environment variable for the duration of a test.
func clearEnv(t *testing.T, key string) {
	t.Helper()
	old, existed := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if existed {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	// Clear all relevant env vars to test defaults
	envVars := []string{
		"SERVER_HOST", "SERVER_PORT", "SERVER_READ_TIMEOUT",
		"SERVER_WRITE_TIMEOUT", "SERVER_SHUTDOWN_TIMEOUT",
		"APP_ENV", "LOG_LEVEL",
		"REDIS_HOST", "RATE_LIMIT_ENABLED", "RATE_LIMIT_BACKEND",
		"RATE_LIMIT_SWEEP_INTERVAL", "CSRF_ENABLED", "SITE_PASSWORD",
		"SITE_ACCESS_PATH", "POLICY_FILE", "POLICY_WATCH", "ERROR_BODY_STYLE",
		"UPSTREAM_URL", "AUDIT_FLUSH_INTERVAL",
	}
	for _, v := range envVars {
		clearEnv(t, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	// App defaults
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)

	// Admission defaults
	assert.True(t, cfg.Rate.Enabled)
	assert.Equal(t, BackendMemory, cfg.Rate.Backend)
	assert.Zero(t, cfg.Rate.SweepInterval)
	assert.True(t, cfg.CSRF.Enabled)
	assert.False(t, cfg.Gate.Enabled())
	assert.Equal(t, "/site-access", cfg.Gate.LoginPath)
	assert.Equal(t, "site-access", cfg.Gate.CookieName)
	assert.Equal(t, ErrorStyleStructured, cfg.Errors.Style)
	assert.Equal(t, 30*time.Second, cfg.Audit.FlushInterval)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_ServerConfig(t *testing.T) {
	setEnv(t, "SERVER_HOST", "127.0.0.1")
	setEnv(t, "SERVER_PORT", "3000")
	setEnv(t, "SERVER_READ_TIMEOUT", "10s")
	setEnv(t, "SERVER_WRITE_TIMEOUT", "20s")
	setEnv(t, "SERVER_SHUTDOWN_TIMEOUT", "60s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_AppConfig(t *testing.T) {
	setEnv(t, "APP_ENV", "production")
	setEnv(t, "LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "error", cfg.App.LogLevel)
}

func TestLoad_InvalidPort(t *testing.T) {
	setEnv(t, "SERVER_PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	setEnv(t, "SERVER_READ_TIMEOUT", "invalid")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_READ_TIMEOUT")
}

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected bool
	}{
		{"development", "development", true},
		{"dev", "dev", true},
		{"production", "production", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{App: AppConfig{Env: tt.env}}
			assert.Equal(t, tt.expected, cfg.App.IsDevelopment())
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		expected bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{App: AppConfig{Env: tt.env}}
			assert.Equal(t, tt.expected, cfg.App.IsProduction())
		})
	}
}

func TestLoad_RateLimitConfig(t *testing.T) {
	setEnv(t, "RATE_LIMIT_ENABLED", "false")
	setEnv(t, "RATE_LIMIT_SWEEP_INTERVAL", "2m")
	setEnv(t, "RATE_LIMIT_TRUST_PROXY", "false")
	setEnv(t, "RATE_LIMIT_TRUSTED_PROXIES", " 10.0.0.1, ,10.0.0.2 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Rate.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Rate.SweepInterval)
	assert.False(t, cfg.Rate.TrustProxy)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Rate.TrustedProxies)
}

func TestLoad_RedisBackendRequiresHost(t *testing.T) {
	clearEnv(t, "REDIS_HOST")
	setEnv(t, "RATE_LIMIT_BACKEND", "redis")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_HOST")
}

func TestLoad_RedisBackend(t *testing.T) {
	setEnv(t, "REDIS_HOST", "cache.internal")
	setEnv(t, "RATE_LIMIT_BACKEND", "Redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Rate.Backend)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Address())
}

func TestLoad_InvalidBackend(t *testing.T) {
	setEnv(t, "RATE_LIMIT_BACKEND", "memcached")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_BACKEND")
}

func TestLoad_InvalidBool(t *testing.T) {
	setEnv(t, "CSRF_ENABLED", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSRF_ENABLED")
}

func TestLoad_GateConfig(t *testing.T) {
	setEnv(t, "SITE_PASSWORD", "rsvp-2026")
	setEnv(t, "SITE_ACCESS_PATH", "/enter")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Gate.Enabled())
	assert.Equal(t, "rsvp-2026", cfg.Gate.Password)
	assert.Equal(t, "/enter", cfg.Gate.LoginPath)
}

func TestLoad_ErrorStyle(t *testing.T) {
	setEnv(t, "ERROR_BODY_STYLE", "legacy")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ErrorStyleLegacy, cfg.Errors.Style)

	setEnv(t, "ERROR_BODY_STYLE", "xml")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_BODY_STYLE")
}

func TestLoad_PolicyWatchRequiresFile(t *testing.T) {
	clearEnv(t, "POLICY_FILE")
	setEnv(t, "POLICY_WATCH", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLICY_FILE")
}

func TestConfig_SecureCookies(t *testing.T) {
	assert.True(t, (&Config{App: AppConfig{Env: "production"}}).SecureCookies())
	assert.False(t, (&Config{App: AppConfig{Env: "development"}}).SecureCookies())
	assert.True(t, (&Config{App: AppConfig{Env: "development"}, CSRF: CSRFConfig{SecureCookie: true}}).SecureCookies())
}

func TestConfig_DatabaseEnabled(t *testing.T) {
	assert.False(t, (&Config{}).DatabaseEnabled())
	assert.True(t, (&Config{Database: DatabaseConfig{Host: "db", Password: "secret"}}).DatabaseEnabled())
}
