package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "entitlements", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.Billing.Currencies)
	assert.Equal(t, "users", cfg.Billing.CounterTables["users"])
	assert.Equal(t, "@every 1h", cfg.Scheduler.TransitionSpec)
	assert.Zero(t, cfg.Billing.MinStepInterval, "derived from the transition schedule")
	assert.Equal(t, 10*time.Second, cfg.Cache.LocalTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  read_timeout: 20s
scheduler:
  transition_spec: "@every 30m"
billing:
  currencies: [usd]
  counter_tables:
    classrooms: classrooms
log:
  level: debug
`), 0o600))

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("BILLING_COUNTER_TABLES", "users=users, schools=schools")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "@every 30m", cfg.Scheduler.TransitionSpec)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"USD"}, cfg.Billing.Currencies, "currencies are normalized")
	assert.Equal(t, map[string]string{"users": "users", "schools": "schools"}, cfg.Billing.CounterTables)
	// Untouched sections keep defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
	t.Setenv(ConfigFileEnv, path)
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "AUTH_JWT_SECRET"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "LOG_LEVEL"},
		{"no currencies", func(c *Config) { c.Billing.Currencies = nil }, "BILLING_CURRENCIES"},
		{"bad currency", func(c *Config) { c.Billing.Currencies = []string{"DOLLAR"} }, "invalid currency"},
		{"counter table injection", func(c *Config) {
			c.Billing.CounterTables = map[string]string{"users": "users; DROP TABLE plans"}
		}, "invalid counter table"},
		{"zero batch", func(c *Config) { c.Billing.SweepBatchSize = 0 }, "BATCH_SIZE"},
		{"distributed limiter without redis", func(c *Config) {
			c.RateLimit.Distributed = true
			c.Redis.Enabled = false
		}, "requires redis"},
		{"tracing sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "TRACING_SAMPLE_RATE"},
		{"production needs secret", func(c *Config) {
			c.App.Env = EnvProduction
			c.Database.SSLMode = "require"
		}, "AUTH_JWT_SECRET is required"},
		{"production needs ssl", func(c *Config) {
			c.App.Env = EnvProduction
			c.Auth.JWTSecret = strings.Repeat("x", 64)
		}, "database SSL"},
		{"production redis tls", func(c *Config) {
			c.App.Env = EnvProduction
			c.Auth.JWTSecret = strings.Repeat("x", 64)
			c.Database.SSLMode = "require"
			c.Redis.Password = "secret"
		}, "redis TLS"},
		{"production without redis", func(c *Config) {
			c.App.Env = EnvProduction
			c.Auth.JWTSecret = strings.Repeat("x", 64)
			c.Database.SSLMode = "require"
			c.Redis.Enabled = false
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAddrHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Contains(t, cfg.Database.DSN(), "dbname=entitlements")
}
