// Package config loads the workflow engine's configuration from a YAML
// file with environment-variable overrides, the way the rest of this
// corpus configures its services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the durable store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory", "sqlite", or "mysql"
	DSN     string `yaml:"dsn"`
}

// RetryConfig controls the default retry policy new workflows use when a
// step doesn't name one of its own.
type RetryConfig struct {
	DefaultPolicy string `yaml:"default_policy"`
}

// BreakerConfig holds circuit breaker threshold settings. engine.New does
// not read them: breakers take their thresholds from the breaker
// package's built-in defaults.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	InactivityReset  time.Duration `yaml:"inactivity_reset"`
}

// DLQConfig controls the dead-letter queue scheduler. MaxRetryAttempts is
// checked by Validate but not applied: dlq.Queue uses its own fixed cap of
// 10 retries.
type DLQConfig struct {
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	MaxRetryAttempts  int           `yaml:"max_retry_attempts"`
}

// AlertConfig controls the alert dispatcher's suppression and channels.
type AlertConfig struct {
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	RateLimitPerS  float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	RingCapacity   int           `yaml:"ring_capacity"`
	WebhookURL     string        `yaml:"webhook_url"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// Config is the top-level engine configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Retry         RetryConfig         `yaml:"retry"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	DLQ           DLQConfig           `yaml:"dlq"`
	Alert         AlertConfig         `yaml:"alert"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// New returns a Config populated with defaults sized for local
// development: an in-memory store, conservative breaker thresholds, and
// a 5-minute DLQ scheduler tick.
func New() *Config {
	return &Config{
		Store: StoreConfig{Backend: "memory"},
		Retry: RetryConfig{DefaultPolicy: "conservative"},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
			InactivityReset:  5 * time.Minute,
		},
		DLQ: DLQConfig{
			SchedulerInterval: 5 * time.Minute,
			MaxRetryAttempts:  10,
		},
		Alert: AlertConfig{
			DedupeWindow:   5 * time.Minute,
			RateLimitPerS:  10,
			RateLimitBurst: 20,
			RingCapacity:   1000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			ServiceName:    "workflow-engine",
		},
	}
}

// Load reads configuration from path (if it exists; a missing file is not
// an error, defaults apply) and then applies environment variable
// overrides on top.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets a small, explicit set of environment variables
// override file/default values, for the settings operators most commonly
// need to change per-deployment without editing a checked-in file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_STORE_BACKEND")); v != "" {
		cfg.Store.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_STORE_DSN")); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_RETRY_DEFAULT_POLICY")); v != "" {
		cfg.Retry.DefaultPolicy = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_ALERT_WEBHOOK_URL")); v != "" {
		cfg.Alert.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_OTLP_ENDPOINT")); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKFLOW_METRICS_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observability.MetricsEnabled = b
		}
	}
}

// Validate reports a descriptive error for configuration that can't run:
// an unknown store backend, or a disk-backed store with no DSN.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite", "mysql":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("config: store backend %q requires a dsn", c.Store.Backend)
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.DLQ.MaxRetryAttempts < 0 {
		return fmt.Errorf("config: dlq.max_retry_attempts must be >= 0, got %d", c.DLQ.MaxRetryAttempts)
	}
	return nil
}
