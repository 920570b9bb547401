// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Record source backends
const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceRemote   = "remote"
)

// Config holds all server configuration
type Config struct {
	Server     ServerConfig
	Source     SourceConfig
	Redis      RedisConfig
	Engine     EngineConfig
	Resilience ResilienceConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	LogLevel   string
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	DebugMode       bool
}

// SourceConfig selects and configures the student record backend
type SourceConfig struct {
	Kind        string // sqlite, postgres or remote
	DataDir     string
	PostgresURL string
	RemoteURL   string
	RemoteToken string
	Timeout     time.Duration
	Seed        bool // populate an empty SQLite database with demo records
}

// RedisConfig holds the optional shared Redis backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds trajectory engine settings
type EngineConfig struct {
	Policy         string
	CalibrationDir string
	CatalogDir     string
	CacheTTL       time.Duration
	ComputeTimeout time.Duration // 0 leaves computations unbounded
	Lookback       time.Duration
	DefaultBudget  *float64
}

// ResilienceConfig tunes the record source wrapper
type ResilienceConfig struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
	HealthInterval   time.Duration
}

// RateLimitConfig holds request limits
type RateLimitConfig struct {
	IPPerMinute     int
	RefreshPerHour  int
	BurstMultiplier int
}

// SecurityConfig holds CORS and header settings
type SecurityConfig struct {
	AllowedOrigins []string
	TrustedProxies []string
	EnableHSTS     bool
}

// Load reads configuration from the environment and validates it
func Load() (*Config, error) {
	dataDir := getEnvOrDefault("DATA_DIR", "./data")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("PORT", "8080"),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			DebugMode:       getEnvBool("DEBUG", false),
		},
		Source: SourceConfig{
			Kind:        strings.ToLower(getEnvOrDefault("RECORD_SOURCE", SourceSQLite)),
			DataDir:     dataDir,
			PostgresURL: os.Getenv("POSTGRES_URL"),
			RemoteURL:   os.Getenv("REMOTE_RECORDS_URL"),
			RemoteToken: os.Getenv("REMOTE_RECORDS_TOKEN"),
			Timeout:     getEnvDuration("REMOTE_RECORDS_TIMEOUT", 10*time.Second),
			Seed:        getEnvBool("SEED", false),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			Policy:         getEnvOrDefault("POLICY", "default"),
			CalibrationDir: getEnvOrDefault("CALIBRATION_DIR", dataDir+"/calibration"),
			CatalogDir:     getEnvOrDefault("CATALOG_DIR", dataDir+"/catalogs"),
			CacheTTL:       getEnvDuration("CACHE_TTL", 15*time.Minute),
			ComputeTimeout: getEnvDuration("COMPUTE_TIMEOUT", 0),
			Lookback:       getEnvDuration("LOOKBACK", 90*24*time.Hour),
			DefaultBudget:  getEnvFloatPtr("DEFAULT_BUDGET"),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      getEnvInt("SOURCE_MAX_ATTEMPTS", 3),
			InitialDelay:     getEnvDuration("SOURCE_RETRY_DELAY", 100*time.Millisecond),
			MaxDelay:         getEnvDuration("SOURCE_RETRY_MAX_DELAY", 5*time.Second),
			FailureThreshold: getEnvInt("SOURCE_CB_THRESHOLD", 5),
			OpenTimeout:      getEnvDuration("SOURCE_CB_TIMEOUT", 30*time.Second),
			HealthInterval:   getEnvDuration("SOURCE_HEALTH_INTERVAL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			IPPerMinute:     getEnvInt("RATE_LIMIT_IP_PER_MIN", 120),
			RefreshPerHour:  getEnvInt("RATE_LIMIT_REFRESH_PER_HOUR", 20),
			BurstMultiplier: getEnvInt("RATE_LIMIT_BURST_MULTIPLIER", 2),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:1420", "http://localhost:5173"}),
			TrustedProxies: getEnvSlice("TRUSTED_PROXIES", []string{"127.0.0.1", "::1"}),
			EnableHSTS:     getEnvBool("ENABLE_HSTS", false),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at runtime
func (c *Config) Validate() error {
	var errs []string

	switch c.Source.Kind {
	case SourceSQLite:
		if c.Source.DataDir == "" {
			errs = append(errs, "DATA_DIR is required for the sqlite source")
		}
	case SourcePostgres:
		if c.Source.PostgresURL == "" {
			errs = append(errs, "POSTGRES_URL is required for the postgres source")
		}
	case SourceRemote:
		if c.Source.RemoteURL == "" {
			errs = append(errs, "REMOTE_RECORDS_URL is required for the remote source")
		}
	default:
		errs = append(errs, fmt.Sprintf("RECORD_SOURCE %q must be one of sqlite, postgres, remote", c.Source.Kind))
	}

	if c.Engine.Policy == "" {
		errs = append(errs, "POLICY must not be empty")
	}
	if c.Engine.ComputeTimeout < 0 {
		errs = append(errs, "COMPUTE_TIMEOUT must not be negative")
	}
	if c.Engine.Lookback < 24*time.Hour {
		errs = append(errs, "LOOKBACK must be at least 24h")
	}
	if b := c.Engine.DefaultBudget; b != nil && *b < 0 {
		errs = append(errs, "DEFAULT_BUDGET must be non-negative")
	}
	if c.Resilience.MaxAttempts < 1 {
		errs = append(errs, "SOURCE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Resilience.FailureThreshold < 1 {
		errs = append(errs, "SOURCE_CB_THRESHOLD must be at least 1")
	}
	if c.RateLimit.IPPerMinute < 0 || c.RateLimit.RefreshPerHour < 0 {
		errs = append(errs, "rate limits must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvFloatPtr returns nil when the variable is unset or malformed
func getEnvFloatPtr(key string) *float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return nil
	}
	return &f
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
