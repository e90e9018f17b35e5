// Package config loads catalogd's daemon configuration from a YAML file
// with environment-variable overrides, mirroring the teacher's layered
// Load/loadFromEnv pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/catalog/pkg/catalog/telemetry"
)

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	DSN     string `yaml:"dsn"`
}

// SchedulerConfig configures the workflow scheduler's tick loop.
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	MaxWindows      int           `yaml:"maxWindows"`
	AdvisoryLocks   *bool         `yaml:"advisoryLocks,omitempty"`
	LockTTL         time.Duration `yaml:"lockTtl"`
}

// ExecutorConfig configures the workflow executor's run loop.
type ExecutorConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// TriggerConfig configures the event trigger processor.
type TriggerConfig struct {
	// EventTypes lists the inbound event types the daemon subscribes
	// the trigger processor to; the event bus dispatches by exact type
	// match, so every type a registered trigger watches must appear
	// here.
	EventTypes []string `yaml:"eventTypes"`
}

// ListenConfig configures the HTTP control-plane listener.
type ListenConfig struct {
	Addr       string `yaml:"addr"`
	SocketPath string `yaml:"socketPath"`
}

// ObservabilityConfig configures telemetry.Setup.
type ObservabilityConfig struct {
	Enabled        bool                        `yaml:"enabled"`
	ServiceName    string                      `yaml:"serviceName"`
	ServiceVersion string                      `yaml:"serviceVersion"`
	Sampling       telemetry.SamplingConfig    `yaml:"sampling"`
	Exporters      []telemetry.ExporterConfig  `yaml:"exporters"`
}

// BundleConfig configures bundle artifact storage and the local cache.
type BundleConfig struct {
	CacheDir   string `yaml:"cacheDir"`
	MaxEntries int    `yaml:"maxEntries"`
	LocalRoot  string `yaml:"localRoot"`
	S3Bucket   string `yaml:"s3Bucket"`
	S3Region   string `yaml:"s3Region"`
	S3Endpoint string `yaml:"s3Endpoint"`
}

// Config is catalogd's top-level daemon configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Trigger       TriggerConfig       `yaml:"trigger"`
	Listen        ListenConfig        `yaml:"listen"`
	Observability ObservabilityConfig `yaml:"observability"`
	Bundle        BundleConfig        `yaml:"bundle"`
	// Services maps a registered service slug to its base URL, for
	// service-typed workflow steps. The CRUD surface behind registering
	// these is out of scope; this is a static, config-driven directory.
	Services     map[string]string `yaml:"services"`
	DrainTimeout time.Duration     `yaml:"drainTimeout"`
}

// Default returns a Config with in-memory storage and telemetry
// disabled — suitable for local development or a single CLI-driven run.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Backend: "memory"},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   time.Second,
			MaxWindows: 10,
			LockTTL:    30 * time.Second,
		},
		Executor: ExecutorConfig{Concurrency: 4},
		Listen:   ListenConfig{Addr: "127.0.0.1:8090"},
		Bundle: BundleConfig{
			MaxEntries: 32,
		},
		Observability: ObservabilityConfig{
			Enabled:        false,
			ServiceName:    "catalogd",
			ServiceVersion: "dev",
			Sampling:       telemetry.SamplingConfig{Rate: 1.0, AlwaysSampleErrors: true},
		},
		DrainTimeout: 30 * time.Second,
	}
}

// Load reads configuration from configPath (if non-empty and present),
// applies environment variable overrides, and returns the merged
// result. An empty configPath yields defaults plus env overrides only.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	cfg.loadFromEnv()
	return cfg, nil
}

// loadFromEnv overrides cfg fields from CATALOGD_* environment
// variables, taking precedence over the file-based configuration.
func (cfg *Config) loadFromEnv() {
	if v := os.Getenv("CATALOGD_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("CATALOGD_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("CATALOGD_LISTEN_ADDR"); v != "" {
		cfg.Listen.Addr = v
	}
	if v := os.Getenv("CATALOGD_LISTEN_SOCKET"); v != "" {
		cfg.Listen.SocketPath = v
	}
	if v := os.Getenv("CATALOGD_OBSERVABILITY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Observability.Enabled = b
		}
	}
	if v := os.Getenv("CATALOGD_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = b
		}
	}
	if v := os.Getenv("WORKFLOW_SCHEDULER_ADVISORY_LOCKS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.AdvisoryLocks = &b
		}
	}
}
