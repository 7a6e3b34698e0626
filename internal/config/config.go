// Package config provides configuration loading and management for the tracking server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables read by the server.
const EnvPrefix = "SHIPWATCH"

const (
	// DefaultCacheTTL is the default lifetime of a manifest cache entry.
	DefaultCacheTTL = 30 * time.Minute

	// DefaultCourierTimeout is the default per-request timeout for courier API calls.
	DefaultCourierTimeout = 30 * time.Second

	// DefaultCourierMaxAttempts is the default number of attempts for transient courier failures.
	DefaultCourierMaxAttempts = 3

	// DefaultCourierBaseDelay is the default base delay for retry backoff.
	DefaultCourierBaseDelay = time.Second

	// DefaultPendingOpsLimit bounds the recent sync operation buffer.
	DefaultPendingOpsLimit = 256

	// DefaultNotifyQueueSize bounds the subscriber notification queue.
	DefaultNotifyQueueSize = 1024

	// DefaultFailureRateThreshold is the courier failure rate above which the
	// health check reports degraded.
	DefaultFailureRateThreshold = 0.5
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ServiceName is the name/identifier for this tracking server instance.
	// Defaults to "shipwatch" if not specified.
	ServiceName string `yaml:"serviceName,omitempty"`

	Courier  CourierConfig   `yaml:"courier"`
	Cache    CacheConfig     `yaml:"cache,omitempty"`
	Sync     SyncConfig      `yaml:"sync,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// CourierConfig defines the external courier API client settings.
type CourierConfig struct {
	// Endpoint is the courier tracking API URL.
	Endpoint string `yaml:"endpoint"`

	// Customer is the customer identifier sent with every request and mixed
	// into the request signature.
	Customer string `yaml:"customer"`

	// Key is the signing key. Prefer KeyFile in production.
	Key string `yaml:"key,omitempty"`

	// KeyFile is the path to a file containing the signing key.
	KeyFile string `yaml:"keyFile,omitempty"`

	// Timeout is the per-request timeout (e.g. "30s").
	Timeout string `yaml:"timeout,omitempty"`

	// MaxAttempts is the number of attempts for transient failures.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// BaseDelay is the base retry delay (e.g. "1s"), doubled on each attempt.
	BaseDelay string `yaml:"baseDelay,omitempty"`
}

// CacheConfig defines manifest cache settings.
type CacheConfig struct {
	// TTL is the entry lifetime (e.g. "30m").
	TTL string `yaml:"ttl,omitempty"`
}

// SyncConfig defines sync coordinator settings.
type SyncConfig struct {
	// Preload eagerly repopulates the cache after create/update mutations.
	Preload bool `yaml:"preload,omitempty"`

	// PendingOpsLimit bounds the recent sync operation buffer.
	PendingOpsLimit int `yaml:"pendingOpsLimit,omitempty"`

	// NotifyQueueSize bounds the subscriber notification queue.
	NotifyQueueSize int `yaml:"notifyQueueSize,omitempty"`

	// ExpectSubscribers makes the health check report degraded when no
	// subscribers are registered.
	ExpectSubscribers bool `yaml:"expectSubscribers,omitempty"`

	// FailureRateThreshold is the courier failure rate above which the health
	// check reports degraded. Zero means the default.
	FailureRateThreshold float64 `yaml:"failureRateThreshold,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of connections in the pool
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from SHIPWATCH_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvPrefix + "_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable",
		EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetKey returns the courier signing key, reading KeyFile first and falling
// back to the inline Key and then the SHIPWATCH_COURIER_KEY environment variable.
func (c *CourierConfig) GetKey() (string, error) {
	if c.KeyFile != "" {
		cleanPath := filepath.Clean(c.KeyFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read courier key from file %s: %w", c.KeyFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if c.Key != "" {
		return c.Key, nil
	}

	if envKey := os.Getenv(EnvPrefix + "_COURIER_KEY"); envKey != "" {
		return envKey, nil
	}

	return "", fmt.Errorf(
		"no courier signing key configured: set key, keyFile or %s_COURIER_KEY environment variable",
		EnvPrefix,
	)
}

// GetTimeout returns the per-request timeout, using the default when unset.
func (c *CourierConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, DefaultCourierTimeout)
}

// GetBaseDelay returns the retry base delay, using the default when unset.
func (c *CourierConfig) GetBaseDelay() time.Duration {
	return parseDurationOr(c.BaseDelay, DefaultCourierBaseDelay)
}

// GetMaxAttempts returns the total number of request attempts, using the default when unset.
func (c *CourierConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultCourierMaxAttempts
	}
	return c.MaxAttempts
}

// GetTTL returns the cache entry lifetime, using the default when unset.
func (c *CacheConfig) GetTTL() time.Duration {
	return parseDurationOr(c.TTL, DefaultCacheTTL)
}

// GetPendingOpsLimit returns the pending operation buffer size, using the default when unset.
func (s *SyncConfig) GetPendingOpsLimit() int {
	if s.PendingOpsLimit <= 0 {
		return DefaultPendingOpsLimit
	}
	return s.PendingOpsLimit
}

// GetNotifyQueueSize returns the notification queue bound, using the default when unset.
func (s *SyncConfig) GetNotifyQueueSize() int {
	if s.NotifyQueueSize <= 0 {
		return DefaultNotifyQueueSize
	}
	return s.NotifyQueueSize
}

// GetFailureRateThreshold returns the courier failure rate threshold for
// health checks, using the default when unset.
func (s *SyncConfig) GetFailureRateThreshold() float64 {
	if s.FailureRateThreshold <= 0 {
		return DefaultFailureRateThreshold
	}
	return s.FailureRateThreshold
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetServiceName returns the service name, using "shipwatch" if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return "shipwatch"
	}
	return c.ServiceName
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.validateCourier(); err != nil {
		return err
	}

	if err := validateDuration(c.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	if err := validateDuration(c.Courier.Timeout, "courier.timeout"); err != nil {
		return err
	}
	if err := validateDuration(c.Courier.BaseDelay, "courier.baseDelay"); err != nil {
		return err
	}

	if c.Database != nil {
		if err := c.validateDatabase(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateCourier() error {
	if c.Courier.Endpoint == "" {
		return fmt.Errorf("courier.endpoint is required")
	}
	parsed, err := url.Parse(c.Courier.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("courier.endpoint must be a valid URL: %s", c.Courier.Endpoint)
	}
	if c.Courier.Customer == "" {
		return fmt.Errorf("courier.customer is required")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return nil
}

func validateDuration(s, field string) error {
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30m', '1h'): %w", field, err)
	}
	return nil
}
