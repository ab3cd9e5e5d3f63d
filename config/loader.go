package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with the precedence:
// defaults -> YAML file -> environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LOOM").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{envPrefix: "LOOM"}
}

// WithConfigPath sets the YAML config file path. Optional; when the file
// does not exist, defaults plus env overrides are used.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix (default "LOOM").
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	l.applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides config fields from environment variables.
func (l *Loader) applyEnv(cfg *Config) {
	l.envString("FOUNDRY_ENDPOINT", &cfg.Foundry.Endpoint)
	l.envString("FOUNDRY_DEPLOYMENT", &cfg.Foundry.Deployment)
	l.envString("FOUNDRY_API_KEY", &cfg.Foundry.APIKey)
	l.envDuration("FOUNDRY_TIMEOUT", &cfg.Foundry.Timeout)

	l.envInt("SERVER_HTTP_PORT", &cfg.Server.HTTPPort)
	l.envInt("SERVER_METRICS_PORT", &cfg.Server.MetricsPort)

	l.envString("STORE_TYPE", &cfg.Store.Type)
	l.envString("STORE_BASE_DIR", &cfg.Store.BaseDir)
	l.envString("STORE_PATH", &cfg.Store.Path)
	l.envString("STORE_REDIS_ADDR", &cfg.Store.Redis.Addr)
	l.envString("STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	l.envInt("STORE_REDIS_DB", &cfg.Store.Redis.DB)

	l.envInt("WORKFLOW_DEFAULT_ROUNDS", &cfg.Workflow.DefaultRounds)
	l.envInt("WORKFLOW_MAX_CONCURRENT_RUNS", &cfg.Workflow.MaxConcurrentRuns)
	l.envDuration("WORKFLOW_TURN_TIMEOUT", &cfg.Workflow.TurnTimeout)
	l.envBool("WORKFLOW_RETRY_ONCE", &cfg.Workflow.RetryOnce)

	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envString("LOG_FORMAT", &cfg.Log.Format)

	l.envBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	l.envString("TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	l.envString("TELEMETRY_SERVICE_NAME", &cfg.Telemetry.ServiceName)
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envPrefix + "_" + key)
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := l.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := l.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (l *Loader) envDuration(key string, dst *time.Duration) {
	if v, ok := l.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
