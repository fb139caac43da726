// Package config provides configuration loading for iris workers.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the environment variable prefix; nesting uses `__`
// (IRIS__SOURCE__HOST maps to source.host).
const envPrefix = "IRIS__"

// Config holds all configuration for an iris reader worker.
type Config struct {
	// Environment is the deployment environment (development, staging, production)
	Environment string `koanf:"environment"`

	// Source is the change-captured PostgreSQL database
	Source SourceConfig `koanf:"source"`

	// Reader holds partition reader settings
	Reader ReaderConfig `koanf:"reader"`

	// Database is the metadata and destination database
	Database DatabaseConfig `koanf:"database"`

	// Checkpoint holds checkpoint persistence settings
	Checkpoint CheckpointConfig `koanf:"checkpoint"`

	// Sink holds record delivery settings
	Sink SinkConfig `koanf:"sink"`

	// DeadLetter holds dead-letter queue settings
	DeadLetter DeadLetterConfig `koanf:"deadletter"`

	// Health holds health endpoint settings
	Health HealthConfig `koanf:"health"`

	// Metrics holds metrics endpoint settings
	Metrics MetricsConfig `koanf:"metrics"`
}

// SourceConfig holds the source PostgreSQL database configuration.
type SourceConfig struct {
	// Host is the source database host
	Host string `koanf:"host"`

	// Port is the source database port
	Port int `koanf:"port"`

	// Database is the source database name
	Database string `koanf:"database"`

	// User is the source database user
	User string `koanf:"user"`

	// Password is the source database password
	Password string `koanf:"password"`

	// SSLMode is the SSL mode for the source connection
	SSLMode string `koanf:"sslmode"`

	// SlotName is the name of the replication slot
	SlotName string `koanf:"slot_name"`

	// PublicationName is the name of the publication to subscribe to
	PublicationName string `koanf:"publication_name"`

	// Tables is the list of tables to capture (empty means all tables in
	// the publication)
	Tables []string `koanf:"tables"`
}

// URL returns the source database connection URL.
func (s SourceConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Database, s.SSLMode,
	)
}

// ReaderConfig holds partition reader settings.
type ReaderConfig struct {
	// Slots is the number of concurrent partition reads per worker
	Slots int `koanf:"slots"`

	// ScratchDir is the parent directory for engine scratch areas (empty
	// means the system temp directory)
	ScratchDir string `koanf:"scratch_dir"`

	// Heartbeat is the engine heartbeat interval
	Heartbeat time.Duration `koanf:"heartbeat"`

	// RunTimeout bounds one partition read (zero means unbounded)
	RunTimeout time.Duration `koanf:"run_timeout"`

	// AdmissionRetryInterval is how long to wait before retrying when all
	// execution slots are in use
	AdmissionRetryInterval time.Duration `koanf:"admission_retry_interval"`
}

// DatabaseConfig holds the metadata and destination database configuration.
type DatabaseConfig struct {
	// Host is the database host
	Host string `koanf:"host"`

	// Port is the database port
	Port int `koanf:"port"`

	// Name is the database name
	Name string `koanf:"name"`

	// User is the database user
	User string `koanf:"user"`

	// Password is the database password
	Password string `koanf:"password"`

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full)
	SSLMode string `koanf:"sslmode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `koanf:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `koanf:"max_idle_conns"`
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// CheckpointConfig holds checkpoint persistence settings.
type CheckpointConfig struct {
	// Enabled enables checkpoint persistence
	Enabled bool `koanf:"enabled"`
}

// SinkConfig holds record delivery settings.
type SinkConfig struct {
	// MaxBatchRecords caps the number of records per flush
	MaxBatchRecords int `koanf:"max_batch_records"`

	// Retry holds flush retry policy
	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig holds retry policy configuration.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retry attempts
	MaxAttempts int `koanf:"max_attempts"`

	// InitialInterval is the initial backoff interval
	InitialInterval time.Duration `koanf:"initial_interval"`

	// MaxInterval is the maximum backoff interval
	MaxInterval time.Duration `koanf:"max_interval"`

	// Multiplier is the backoff multiplier
	Multiplier float64 `koanf:"multiplier"`
}

// DeadLetterConfig holds dead-letter queue configuration.
type DeadLetterConfig struct {
	// Enabled enables the dead-letter queue
	Enabled bool `koanf:"enabled"`

	// Retention is how long to keep dead-letter entries
	Retention time.Duration `koanf:"retention"`

	// CleanupInterval is how often expired entries are swept
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// HealthConfig holds health endpoint configuration.
type HealthConfig struct {
	// Enabled enables health check endpoints
	Enabled bool `koanf:"enabled"`

	// ListenAddr is the address for health check endpoints
	ListenAddr string `koanf:"listen_addr"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection
	Enabled bool `koanf:"enabled"`

	// ListenAddr is the address for the metrics endpoint
	ListenAddr string `koanf:"listen_addr"`
}

// Load merges YAML (if present) with environment variables and applies
// defaults. A missing file is not an error; env-only configuration is fine.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Environment == "" {
		c.Environment = "development"
	}

	if c.Source.Host == "" {
		c.Source.Host = "localhost"
	}
	if c.Source.Port == 0 {
		c.Source.Port = 5432
	}
	if c.Source.SSLMode == "" {
		c.Source.SSLMode = "disable"
	}
	if c.Source.SlotName == "" {
		c.Source.SlotName = "iris_cdc"
	}
	if c.Source.PublicationName == "" {
		c.Source.PublicationName = "iris_pub"
	}

	if c.Reader.Slots == 0 {
		c.Reader.Slots = 4
	}
	if c.Reader.Heartbeat == 0 {
		c.Reader.Heartbeat = 10 * time.Second
	}
	if c.Reader.AdmissionRetryInterval == 0 {
		c.Reader.AdmissionRetryInterval = 5 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "iris"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Sink.MaxBatchRecords == 0 {
		c.Sink.MaxBatchRecords = 1000
	}
	if c.Sink.Retry.MaxAttempts == 0 {
		c.Sink.Retry.MaxAttempts = 3
	}
	if c.Sink.Retry.InitialInterval == 0 {
		c.Sink.Retry.InitialInterval = time.Second
	}
	if c.Sink.Retry.MaxInterval == 0 {
		c.Sink.Retry.MaxInterval = 30 * time.Second
	}
	if c.Sink.Retry.Multiplier == 0 {
		c.Sink.Retry.Multiplier = 2.0
	}

	if c.DeadLetter.Retention == 0 {
		c.DeadLetter.Retention = 168 * time.Hour // 7 days
	}
	if c.DeadLetter.CleanupInterval == 0 {
		c.DeadLetter.CleanupInterval = time.Hour
	}

	if c.Health.ListenAddr == "" {
		c.Health.ListenAddr = ":8081"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Source.Database == "" {
		return errors.New("source.database is required")
	}
	if c.Source.User == "" {
		return errors.New("source.user is required")
	}
	if c.Reader.Slots < 1 {
		return fmt.Errorf("reader.slots must be positive, got %d", c.Reader.Slots)
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	return nil
}
