// Package config provides the configuration system for metasync.
// A single Config structure covers every component, organized into sections:
//   - Server: HTTP listener and job timeouts
//   - Meta: Graph API endpoint, token and pagination behaviour
//   - Warehouse: destination driver and location
//   - Sync: default accounts, tables, write mode and the sync timezone
//   - Retry: backoff policy for transient API failures
//   - Extract: per-account concurrency
//   - Logging and Observability
//
// Values are resolved in order: built-in defaults, optional YAML file,
// METASYNC_ environment variables.
//
//	cfg, err := config.Load("metasync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"time"

	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Meta          MetaConfig          `yaml:"meta" mapstructure:"meta"`
	Warehouse     WarehouseConfig     `yaml:"warehouse" mapstructure:"warehouse"`
	Sync          SyncConfig          `yaml:"sync" mapstructure:"sync"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Extract       ExtractConfig       `yaml:"extract" mapstructure:"extract"`
	Logging       logger.Config       `yaml:"logging" mapstructure:"logging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ServerConfig controls the HTTP job endpoints.
type ServerConfig struct {
	Addr              string        `yaml:"addr" mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// JobTimeout bounds a single load or update run
	JobTimeout time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
}

// MetaConfig describes how to reach the Graph API.
type MetaConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	APIVersion     string        `yaml:"api_version" mapstructure:"api_version"`
	AccessToken    string        `yaml:"access_token" mapstructure:"access_token"`
	PageSize       int           `yaml:"page_size" mapstructure:"page_size"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	// InterPageDelay is the minimum spacing between page requests of one fetch
	InterPageDelay time.Duration `yaml:"inter_page_delay" mapstructure:"inter_page_delay"`
	// EmptyPageRetries is how many times a page with no data but a next
	// cursor is re-requested before it is accepted
	EmptyPageRetries int `yaml:"empty_page_retries" mapstructure:"empty_page_retries"`
	// BreakerThreshold is the number of consecutive failed requests that
	// opens the circuit breaker
	BreakerThreshold uint32        `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" mapstructure:"breaker_timeout"`
}

// WarehouseConfig selects and locates the destination.
type WarehouseConfig struct {
	// Driver is one of bigquery, duckdb, sqlite, postgres
	Driver          string `yaml:"driver" mapstructure:"driver"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Dataset         string `yaml:"dataset" mapstructure:"dataset"`
	Location        string `yaml:"location" mapstructure:"location"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// DSN is used by the SQL drivers
	DSN string `yaml:"dsn" mapstructure:"dsn"`
	// StagingBucket, when set, makes BigQuery loads go through gzipped
	// objects in this GCS bucket instead of a direct upload
	StagingBucket string `yaml:"staging_bucket" mapstructure:"staging_bucket"`
	StagingPrefix string `yaml:"staging_prefix" mapstructure:"staging_prefix"`
}

// SyncConfig holds job defaults.
type SyncConfig struct {
	AccountIDs []string `yaml:"account_ids" mapstructure:"account_ids"`
	Tables     []string `yaml:"tables" mapstructure:"tables"`
	WriteMode  string   `yaml:"write_mode" mapstructure:"write_mode"`
	// TimezoneOffset is the fixed UTC offset used to compute "yesterday"
	TimezoneOffset time.Duration `yaml:"timezone_offset" mapstructure:"timezone_offset"`
}

// RetryConfig is the backoff policy for Graph API requests.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter      bool          `yaml:"jitter" mapstructure:"jitter"`
}

// ExtractConfig controls per-account fan-out.
type ExtractConfig struct {
	// MaxConcurrency caps concurrent accounts; 0 means one goroutine per account
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	Metrics     bool   `yaml:"metrics" mapstructure:"metrics"`
	Tracing     bool   `yaml:"tracing" mapstructure:"tracing"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			JobTimeout:        30 * time.Minute,
		},
		Meta: MetaConfig{
			BaseURL:          "https://graph.facebook.com",
			APIVersion:       "v22.0",
			PageSize:         100,
			RequestTimeout:   60 * time.Second,
			InterPageDelay:   200 * time.Millisecond,
			EmptyPageRetries: 3,
			BreakerThreshold: 20,
			BreakerTimeout:   60 * time.Second,
		},
		Warehouse: WarehouseConfig{
			Driver:        "bigquery",
			Location:      "US",
			StagingPrefix: "metasync",
		},
		Sync: SyncConfig{
			Tables:         []string{"campaigns", "adsets", "ads", "insights_ads"},
			WriteMode:      "append",
			TimezoneOffset: -3 * time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
			Multiplier:  2.0,
		},
		Logging: logger.Config{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
		Observability: ObservabilityConfig{
			ServiceName: "metasync",
			Metrics:     true,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Sync.WriteMode {
	case "append", "truncate":
	default:
		return syncerrors.New(syncerrors.ErrorTypeConfig, "write_mode must be append or truncate").
			WithDetail("write_mode", c.Sync.WriteMode)
	}
	if c.Meta.PageSize <= 0 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "meta.page_size must be positive")
	}
	if c.Meta.EmptyPageRetries < 0 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "meta.empty_page_retries cannot be negative")
	}
	if c.Meta.InterPageDelay < 0 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "meta.inter_page_delay cannot be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "retry delays cannot be negative")
	}
	if c.Retry.Multiplier < 1 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "retry.multiplier must be at least 1")
	}
	if c.Extract.MaxConcurrency < 0 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "extract.max_concurrency cannot be negative")
	}
	if c.Sync.TimezoneOffset < -14*time.Hour || c.Sync.TimezoneOffset > 14*time.Hour {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "sync.timezone_offset out of range").
			WithDetail("timezone_offset", c.Sync.TimezoneOffset.String())
	}
	if c.Warehouse.Driver == "" {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "warehouse.driver is required")
	}
	return nil
}

// Location returns the fixed-offset zone used for sync date arithmetic.
func (s SyncConfig) Location() *time.Location {
	return time.FixedZone("sync", int(s.TimezoneOffset/time.Second))
}

// GraphURL returns the versioned Graph API root.
func (m MetaConfig) GraphURL() string {
	return m.BaseURL + "/" + m.APIVersion
}
