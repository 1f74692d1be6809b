package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"steamkit/adapters/redis"
	"steamkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"STEAMKIT_ENV"`
	Profile     string      `json:"profile" env:"STEAMKIT_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Platform runtime
	Platform PlatformConfig `json:"platform"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics and monitoring
	Metrics MetricsConfig `json:"metrics"`

	// Analytics aggregation and export
	Analytics AnalyticsConfig `json:"analytics"`

	// Security configuration
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"STEAMKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"STEAMKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"STEAMKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"STEAMKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"STEAMKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"STEAMKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"STEAMKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"STEAMKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"STEAMKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     SQLConfig    `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// SQLConfig wraps the sqlx adapter settings with env overrides.
type SQLConfig struct {
	Driver  string      `json:"driver" env:"STEAMKIT_STORAGE_SQL_DRIVER"`
	DSN     string      `json:"dsn" env:"STEAMKIT_STORAGE_SQL_DSN"`
	Migrate bool        `json:"migrate" env:"STEAMKIT_STORAGE_SQL_MIGRATE"`
	Pool    sqlx.Config `json:"pool,omitempty"`
}

// Adapter returns the sqlx configuration with Driver and DSN applied.
func (s SQLConfig) Adapter() sqlx.Config {
	c := s.Pool
	c.Driver = sqlx.Driver(s.Driver)
	c.DSN = s.DSN
	return c
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"STEAMKIT_STORAGE_FILE_PATH"`
}

// PlatformConfig tunes the engine runtime.
type PlatformConfig struct {
	Workers      int           `json:"workers" env:"STEAMKIT_PLATFORM_WORKERS"`
	DispatchMode string        `json:"dispatch_mode" env:"STEAMKIT_PLATFORM_DISPATCH_MODE"`
	QueueSize    int           `json:"queue_size" env:"STEAMKIT_PLATFORM_QUEUE_SIZE"`
	TicketSecret string        `json:"ticket_secret,omitempty" env:"STEAMKIT_PLATFORM_TICKET_SECRET"`
	TicketTTL    time.Duration `json:"ticket_ttl" env:"STEAMKIT_PLATFORM_TICKET_TTL"`
	SchemaFile   string        `json:"schema_file,omitempty" env:"STEAMKIT_PLATFORM_SCHEMA_FILE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"STEAMKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"STEAMKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"STEAMKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"STEAMKIT_LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" env:"STEAMKIT_METRICS_ENABLED"`
	Address       string `json:"address" env:"STEAMKIT_METRICS_ADDR"`
	Path          string `json:"path" env:"STEAMKIT_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" env:"STEAMKIT_METRICS_COLLECT_SYSTEM"`
}

// AnalyticsConfig controls callback analytics and webhooks.
type AnalyticsConfig struct {
	Enabled             bool          `json:"enabled" env:"STEAMKIT_ANALYTICS_ENABLED"`
	AggregationInterval time.Duration `json:"aggregation_interval" env:"STEAMKIT_ANALYTICS_AGGREGATION_INTERVAL"`
	ExportInterval      time.Duration `json:"export_interval" env:"STEAMKIT_ANALYTICS_EXPORT_INTERVAL"`
	ExportEndpoint      string        `json:"export_endpoint,omitempty" env:"STEAMKIT_ANALYTICS_EXPORT_ENDPOINT"`
	ExportAPIKey        string        `json:"export_api_key,omitempty" env:"STEAMKIT_ANALYTICS_EXPORT_API_KEY"`
	Webhooks            []string      `json:"webhooks,omitempty" env:"STEAMKIT_ANALYTICS_WEBHOOKS"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"STEAMKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"STEAMKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"STEAMKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"STEAMKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"STEAMKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// loadDotEnv reads a .env file from the working directory when one exists.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	return nil
}

// Load loads configuration from .env and environment variables and validates it
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	// A named profile replaces the defaults before env overrides apply
	if name := os.Getenv("STEAMKIT_PROFILE"); name != "" {
		profile, err := LoadProfile(name)
		if err != nil {
			return nil, err
		}
		cfg = profile
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	sqlDefaults := sqlx.DefaultConfig()
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL: SQLConfig{
				Driver: string(sqlDefaults.Driver),
				DSN:    sqlDefaults.DSN,
				Pool:   sqlDefaults,
			},
			File: FileConfig{
				Path: "./data/steamkit.json",
			},
		},
		Platform: PlatformConfig{
			Workers:      8,
			DispatchMode: "async",
			QueueSize:    1024,
			TicketTTL:    10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Analytics: AnalyticsConfig{
			Enabled:             true,
			AggregationInterval: time.Hour,
			ExportInterval:      6 * time.Hour,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Platform.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("platform config: %v", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("metrics config: %v", err))
	}

	if err := c.Analytics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("analytics config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.SQL.Pool.DSN != "" {
		cfg.Storage.SQL.Pool.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Platform.TicketSecret != "" {
		cfg.Platform.TicketSecret = "[REDACTED]"
	}
	if cfg.Analytics.ExportAPIKey != "" {
		cfg.Analytics.ExportAPIKey = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
