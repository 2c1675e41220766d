package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment constants
const (
	EnvProduction = "production"
)

// ConfigFileEnv names the environment variable holding an optional YAML file.
// Values from the file replace defaults; environment variables replace both.
const ConfigFileEnv = "ENTITLEMENTS_CONFIG_FILE"

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Billing   BillingConfig   `yaml:"billing"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name    string `yaml:"name"`
	Env     string `yaml:"env"`
	Debug   bool   `yaml:"debug"`
	Version string `yaml:"version"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"` // Per-request handler timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// MigrationsDir holds the SQL files applied by AutoMigrate and the admin CLI.
	MigrationsDir string `yaml:"migrations_dir"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// RedisConfig holds Redis configuration.
// Without Redis the snapshot cache is process-local, billing jobs run in
// process, and rate limiting is per instance.
type RedisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	MinIdleConns  int           `yaml:"min_idle_conns"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	TLSEnabled    bool          `yaml:"tls_enabled"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	MaxRetries    int           `yaml:"max_retries"`
	MinRetryDelay time.Duration `yaml:"min_retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Sampling configuration for high-traffic production environments
	SamplingEnabled   bool    `yaml:"sampling_enabled"`
	SamplingThreshold int     `yaml:"sampling_threshold"`  // First N identical logs per second
	SamplingRate      float64 `yaml:"sampling_rate"`       // Sample rate after threshold, 0.0-1.0
	ErrorSamplingRate float64 `yaml:"error_sampling_rate"` // Sample rate for errors, 0.0-1.0

	SkipHealthLogs     bool `yaml:"skip_health_logs"`
	SlowRequestSeconds int  `yaml:"slow_request_seconds"`
}

// WorkerConfig holds the background job worker configuration.
type WorkerConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"concurrency"`
	// UniqueFor blocks duplicate billing tasks enqueued by other replicas.
	UniqueFor time.Duration `yaml:"unique_for"`
}

// SchedulerConfig holds the cron specs of the billing jobs (UTC).
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TransitionSpec string `yaml:"transition_spec"`
	SnapshotSpec   string `yaml:"snapshot_spec"`
}

// AuthConfig holds admin token configuration.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// CacheConfig holds the entitlement snapshot cache configuration.
type CacheConfig struct {
	LocalSize int           `yaml:"local_size"` // Zero disables the in-process tier
	LocalTTL  time.Duration `yaml:"local_ttl"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP HTTP endpoint, host:port
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// Distributed switches to a Redis sliding window of Burst requests per Window.
	Distributed bool          `yaml:"distributed"`
	Window      time.Duration `yaml:"window"`
}

// BillingConfig holds billing lifecycle configuration.
type BillingConfig struct {
	Currencies []string `yaml:"currencies"`

	SweepBatchSize      int           `yaml:"sweep_batch_size"`
	SweepConcurrency    int           `yaml:"sweep_concurrency"`
	// MinStepInterval of zero is derived from Scheduler.TransitionSpec.
	MinStepInterval     time.Duration `yaml:"min_step_interval"`
	SnapshotConcurrency int           `yaml:"snapshot_concurrency"`

	// CounterTables maps a resource key to the tenant-owned table counted for it.
	CounterTables map[string]string `yaml:"counter_tables"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:  "entitlements",
			Env:   "development",
			Debug: false,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "entitlements",
			Password:        "secret",
			Name:            "entitlements",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			MigrationsDir:   "migrations",
		},
		Redis: RedisConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          6379,
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			MaxRetries:    3,
			MinRetryDelay: 100 * time.Millisecond,
			MaxRetryDelay: 3 * time.Second,
		},
		Log: LogConfig{
			Level:              "info",
			Format:             "json",
			SamplingThreshold:  100,
			SamplingRate:       0.1,
			ErrorSamplingRate:  1.0,
			SkipHealthLogs:     true,
			SlowRequestSeconds: 5,
		},
		Worker: WorkerConfig{
			Enabled:     true,
			Concurrency: 2,
			UniqueFor:   30 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			TransitionSpec: "@every 1h",
			SnapshotSpec:   "0 2 * * *",
		},
		Auth: AuthConfig{
			JWTIssuer:     "entitlements",
			TokenDuration: time.Hour,
		},
		Cache: CacheConfig{
			LocalSize: 10000,
			LocalTTL:  10 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRate:  1.0,
			ServiceName: "entitlements",
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			RequestsPerSec:  100,
			Burst:           200,
			CleanupInterval: time.Minute,
			Window:          time.Minute,
		},
		Billing: BillingConfig{
			Currencies:          []string{"USD", "EUR"},
			SweepBatchSize:      1000,
			SweepConcurrency:    4,
			SnapshotConcurrency: 4,
			CounterTables: map[string]string{
				"users":   "users",
				"schools": "schools",
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// environment variables, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Keys absent from the file keep their current values.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Debug = getEnvBool("APP_DEBUG", c.App.Debug)
	c.App.Version = getEnv("APP_VERSION", c.App.Version)

	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.RequestTimeout = getEnvDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodySize = getEnvInt64("SERVER_MAX_BODY_SIZE", c.Server.MaxBodySize)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.MigrationsDir = getEnv("DB_MIGRATIONS_DIR", c.Database.MigrationsDir)
	c.Database.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", c.Redis.MinIdleConns)
	c.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)
	c.Redis.TLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.Redis.TLSEnabled)
	c.Redis.TLSSkipVerify = getEnvBool("REDIS_TLS_SKIP_VERIFY", c.Redis.TLSSkipVerify)
	c.Redis.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.MinRetryDelay = getEnvDuration("REDIS_MIN_RETRY_DELAY", c.Redis.MinRetryDelay)
	c.Redis.MaxRetryDelay = getEnvDuration("REDIS_MAX_RETRY_DELAY", c.Redis.MaxRetryDelay)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.SamplingEnabled = getEnvBool("LOG_SAMPLING_ENABLED", c.Log.SamplingEnabled)
	c.Log.SamplingThreshold = getEnvInt("LOG_SAMPLING_THRESHOLD", c.Log.SamplingThreshold)
	c.Log.SamplingRate = getEnvFloat("LOG_SAMPLING_RATE", c.Log.SamplingRate)
	c.Log.ErrorSamplingRate = getEnvFloat("LOG_ERROR_SAMPLING_RATE", c.Log.ErrorSamplingRate)
	c.Log.SkipHealthLogs = getEnvBool("LOG_SKIP_HEALTH", c.Log.SkipHealthLogs)
	c.Log.SlowRequestSeconds = getEnvInt("LOG_SLOW_REQUEST_SECONDS", c.Log.SlowRequestSeconds)

	c.Worker.Enabled = getEnvBool("WORKER_ENABLED", c.Worker.Enabled)
	c.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.UniqueFor = getEnvDuration("WORKER_UNIQUE_FOR", c.Worker.UniqueFor)

	c.Scheduler.Enabled = getEnvBool("SCHEDULER_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.TransitionSpec = getEnv("SCHEDULER_TRANSITION_SPEC", c.Scheduler.TransitionSpec)
	c.Scheduler.SnapshotSpec = getEnv("SCHEDULER_SNAPSHOT_SPEC", c.Scheduler.SnapshotSpec)

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTIssuer = getEnv("AUTH_JWT_ISSUER", c.Auth.JWTIssuer)
	c.Auth.TokenDuration = getEnvDuration("AUTH_TOKEN_DURATION", c.Auth.TokenDuration)

	c.Cache.LocalSize = getEnvInt("CACHE_LOCAL_SIZE", c.Cache.LocalSize)
	c.Cache.LocalTTL = getEnvDuration("CACHE_LOCAL_TTL", c.Cache.LocalTTL)

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("TRACING_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getEnvBool("TRACING_INSECURE", c.Tracing.Insecure)
	c.Tracing.SampleRate = getEnvFloat("TRACING_SAMPLE_RATE", c.Tracing.SampleRate)
	c.Tracing.ServiceName = getEnv("TRACING_SERVICE_NAME", c.Tracing.ServiceName)

	c.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerSec = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RequestsPerSec)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.CleanupInterval = getEnvDuration("RATE_LIMIT_CLEANUP", c.RateLimit.CleanupInterval)
	c.RateLimit.Distributed = getEnvBool("RATE_LIMIT_DISTRIBUTED", c.RateLimit.Distributed)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Billing.Currencies = getEnvSlice("BILLING_CURRENCIES", c.Billing.Currencies)
	c.Billing.SweepBatchSize = getEnvInt("BILLING_SWEEP_BATCH_SIZE", c.Billing.SweepBatchSize)
	c.Billing.SweepConcurrency = getEnvInt("BILLING_SWEEP_CONCURRENCY", c.Billing.SweepConcurrency)
	c.Billing.MinStepInterval = getEnvDuration("BILLING_MIN_STEP_INTERVAL", c.Billing.MinStepInterval)
	c.Billing.SnapshotConcurrency = getEnvInt("BILLING_SNAPSHOT_CONCURRENCY", c.Billing.SnapshotConcurrency)
	c.Billing.CounterTables = getEnvMap("BILLING_COUNTER_TABLES", c.Billing.CounterTables)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

// validateBasic validates basic configuration regardless of environment.
func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("AUTH_JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.TokenDuration <= 0 {
		return errors.New("AUTH_TOKEN_DURATION must be positive")
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateBilling(); err != nil {
		return err
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return errors.New("TRACING_ENDPOINT is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0.0 || c.Tracing.SampleRate > 1.0 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.Tracing.SampleRate)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSec <= 0 || c.RateLimit.Burst <= 0 {
			return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
		}
		if c.RateLimit.Distributed && !c.Redis.Enabled {
			return errors.New("distributed rate limiting requires redis")
		}
	}
	if c.Cache.LocalSize < 0 {
		return fmt.Errorf("CACHE_LOCAL_SIZE must be non-negative, got %d", c.Cache.LocalSize)
	}
	return nil
}

// validateLog validates logging configuration.
func (c *Config) validateLog() error {
	validLevels := map[string]bool{
		"debug": true, "DEBUG": true,
		"info": true, "INFO": true,
		"warn": true, "WARN": true,
		"error": true, "ERROR": true,
	}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validFormats := map[string]bool{
		"json": true, "JSON": true,
		"text": true, "TEXT": true,
		"": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}

	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Log.ErrorSamplingRate < 0.0 || c.Log.ErrorSamplingRate > 1.0 {
		return fmt.Errorf("LOG_ERROR_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.ErrorSamplingRate)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	if c.Log.SlowRequestSeconds < 0 {
		return fmt.Errorf("LOG_SLOW_REQUEST_SECONDS must be non-negative, got %d", c.Log.SlowRequestSeconds)
	}
	return nil
}

var (
	currencyPattern   = regexp.MustCompile(`^[A-Z]{3}$`)
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// validateBilling validates billing configuration.
func (c *Config) validateBilling() error {
	if len(c.Billing.Currencies) == 0 {
		return errors.New("BILLING_CURRENCIES must list at least one currency")
	}
	for i, cur := range c.Billing.Currencies {
		cur = strings.ToUpper(strings.TrimSpace(cur))
		if !currencyPattern.MatchString(cur) {
			return fmt.Errorf("invalid currency %q in BILLING_CURRENCIES", c.Billing.Currencies[i])
		}
		c.Billing.Currencies[i] = cur
	}
	if c.Billing.SweepBatchSize < 1 {
		return fmt.Errorf("BILLING_SWEEP_BATCH_SIZE must be at least 1, got %d", c.Billing.SweepBatchSize)
	}
	if c.Billing.SweepConcurrency < 1 || c.Billing.SnapshotConcurrency < 1 {
		return errors.New("billing concurrency settings must be at least 1")
	}
	if c.Billing.MinStepInterval < 0 {
		return errors.New("BILLING_MIN_STEP_INTERVAL must be non-negative")
	}
	// Table names are interpolated into SQL, so only plain identifiers pass.
	for key, table := range c.Billing.CounterTables {
		if !identifierPattern.MatchString(key) || !identifierPattern.MatchString(table) {
			return fmt.Errorf("invalid counter table mapping %q -> %q", key, table)
		}
	}
	return nil
}

// validateProduction validates production-specific configuration.
func (c *Config) validateProduction() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required in production")
	}
	if len(c.Auth.JWTSecret) < 64 {
		return errors.New("AUTH_JWT_SECRET must be at least 64 characters in production")
	}
	if c.Database.SSLMode == "disable" {
		return errors.New("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if !c.RateLimit.Enabled {
		return errors.New("rate limiting must be enabled in production")
	}
	if c.App.Debug {
		return errors.New("debug mode must be disabled in production")
	}
	if c.Log.Level == "debug" {
		return errors.New("log level should not be 'debug' in production")
	}
	if c.Redis.Enabled {
		return c.validateProductionRedis()
	}
	return nil
}

// validateProductionRedis validates Redis configuration for production.
func (c *Config) validateProductionRedis() error {
	if c.Redis.Password == "" {
		return errors.New("redis password must be set in production")
	}
	if !c.Redis.TLSEnabled {
		return errors.New("redis TLS must be enabled in production")
	}
	if c.Redis.TLSSkipVerify {
		return errors.New("redis TLS skip verify must be false in production")
	}
	if c.Redis.DialTimeout < time.Second {
		return fmt.Errorf("redis dial timeout too short: %v (min 1s)", c.Redis.DialTimeout)
	}
	if c.Redis.MaxRetries < 1 || c.Redis.MaxRetries > 10 {
		return fmt.Errorf("redis max retries must be between 1 and 10, got %d", c.Redis.MaxRetries)
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if result := splitAndTrim(value, ","); len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// getEnvMap parses "key=value,key=value".
func getEnvMap(key string, defaultValue map[string]string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result := make(map[string]string)
	for _, pair := range splitAndTrim(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
