// Package config provides unified configuration loading for the loom
// service: defaults, a YAML file, and environment-variable overrides,
// in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete loom service configuration.
type Config struct {
	// Server holds HTTP server settings.
	Server ServerConfig `yaml:"server"`

	// Foundry holds the agent-invocation collaborator connection handle.
	// The orchestration core never inspects these values.
	Foundry FoundryConfig `yaml:"foundry"`

	// Store holds run persistence settings.
	Store StoreConfig `yaml:"store"`

	// Workflow holds orchestration defaults.
	Workflow WorkflowConfig `yaml:"workflow"`

	// Log holds logging settings.
	Log LogConfig `yaml:"log"`

	// Telemetry holds tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FoundryConfig is the opaque connection/deployment handle for the
// model transport.
type FoundryConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Deployment string        `yaml:"deployment"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	// Type selects the backend: memory, file, redis, or sqlite.
	Type string `yaml:"type"`

	// BaseDir is the directory for file-based storage.
	BaseDir string `yaml:"base_dir"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// Redis settings (only used when Type is "redis").
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis run store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WorkflowConfig configures orchestration defaults.
type WorkflowConfig struct {
	// DefaultRounds is the round count used when a round-robin start
	// request omits one.
	DefaultRounds int `yaml:"default_rounds"`

	// MaxConcurrentRuns bounds runs executing at the same time.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// TurnTimeout bounds each agent invocation.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// RetryOnce enables a single retry of retryable invocation failures.
	RetryOnce bool `yaml:"retry_once"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Foundry: FoundryConfig{
			Deployment: "gpt-4o",
			Timeout:    60 * time.Second,
		},
		Store: StoreConfig{
			Type:    "memory",
			BaseDir: "data/runs",
			Path:    "data/loom.db",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "loom:",
			},
		},
		Workflow: WorkflowConfig{
			DefaultRounds:     3,
			MaxConcurrentRuns: 32,
			TurnTimeout:       2 * time.Minute,
			RetryOnce:         true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "loom",
		},
	}
}

// Validate checks required fields. The Foundry endpoint must be set and
// must not be an unfilled placeholder.
func (c *Config) Validate() error {
	if c.Foundry.Endpoint == "" || strings.Contains(c.Foundry.Endpoint, "<your-") {
		return fmt.Errorf("foundry.endpoint is not configured")
	}
	if c.Foundry.Deployment == "" {
		return fmt.Errorf("foundry.deployment is not configured")
	}
	if c.Workflow.DefaultRounds < 1 {
		return fmt.Errorf("workflow.default_rounds must be >= 1, got %d", c.Workflow.DefaultRounds)
	}
	if c.Workflow.MaxConcurrentRuns < 1 {
		return fmt.Errorf("workflow.max_concurrent_runs must be >= 1, got %d", c.Workflow.MaxConcurrentRuns)
	}
	switch c.Store.Type {
	case "memory", "file", "redis", "sqlite":
	default:
		return fmt.Errorf("store.type must be one of memory/file/redis/sqlite, got %q", c.Store.Type)
	}
	return nil
}
