package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "foreman.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FOREMAN_PORT")
	setString(&cfg.Server.CORSOrigin, "FOREMAN_CORS_ORIGIN")

	setString(&cfg.Tracker.BaseURL, "FOREMAN_TRACKER_URL")
	setString(&cfg.Tracker.APIKey, "FOREMAN_TRACKER_API_KEY")
	setDuration(&cfg.Tracker.Timeout, "FOREMAN_TRACKER_TIMEOUT")
	setDuration(&cfg.Tracker.CacheTTL, "FOREMAN_TRACKER_CACHE_TTL")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FOREMAN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FOREMAN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FOREMAN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FOREMAN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FOREMAN_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "FOREMAN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FOREMAN_LOG_SERVICE")

	setString(&cfg.Git.RepoPath, "FOREMAN_REPO_PATH")
	setInt(&cfg.Git.MaxConcurrent, "FOREMAN_GIT_MAX_CONCURRENT")

	setInt64(&cfg.Cache.MaxSizeMB, "FOREMAN_CACHE_SIZE_MB")

	setString(&cfg.Agent.Provider, "FOREMAN_AGENT_PROVIDER")
	setString(&cfg.Agent.Model, "FOREMAN_AGENT_MODEL")
	setInt(&cfg.Agent.MaxTokens, "FOREMAN_AGENT_MAX_TOKENS")
	setString(&cfg.Agent.APIKeyEnvVar, "FOREMAN_AGENT_API_KEY_ENVVAR")

	setInt(&cfg.Orchestrator.MaxAgents, "FOREMAN_MAX_AGENTS")
	setDuration(&cfg.Orchestrator.TaskAgentTimeout, "FOREMAN_TASK_AGENT_TIMEOUT")
	setDuration(&cfg.Orchestrator.DirectAgentTimeout, "FOREMAN_DIRECT_AGENT_TIMEOUT")
	setBool(&cfg.Orchestrator.TaskLevelAgents, "FOREMAN_TASK_LEVEL_AGENTS")
	setString(&cfg.Orchestrator.BranchPrefix, "FOREMAN_BRANCH_PREFIX")

	setBool(&cfg.Telemetry.Enabled, "FOREMAN_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "FOREMAN_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Tracker.BaseURL == "" {
		return errors.New("tracker.base_url is required")
	}
	if cfg.Orchestrator.MaxAgents < 1 {
		return errors.New("orchestrator.max_agents must be >= 1")
	}
	if cfg.Orchestrator.TaskAgentTimeout <= 0 {
		return errors.New("orchestrator.task_agent_timeout must be positive")
	}
	if cfg.Git.MaxConcurrent < 1 {
		return errors.New("git.max_concurrent must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
