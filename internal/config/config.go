// Package config provides hierarchical configuration loading for Foreman.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Foreman engine.
type Config struct {
	Server       Server       `yaml:"server"`
	Tracker      Tracker      `yaml:"tracker"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	Logging      Logging      `yaml:"logging"`
	Git          Git          `yaml:"git"`
	Cache        Cache        `yaml:"cache"`
	Agent        Agent        `yaml:"agent"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Telemetry    Telemetry    `yaml:"telemetry"`
}

// Orchestrator holds execution-engine configuration.
type Orchestrator struct {
	MaxAgents          int           `yaml:"max_agents"`           // Max concurrent agent sessions (default: 4)
	TaskAgentTimeout   time.Duration `yaml:"task_agent_timeout"`   // Per-agent timeout for pool-managed task work (default: 10m)
	DirectAgentTimeout time.Duration `yaml:"direct_agent_timeout"` // Timeout for direct single-agent execution (default: 25m)
	TaskLevelAgents    bool          `yaml:"task_level_agents"`    // Decompose features into per-task agents (default: true)
	BranchPrefix       string        `yaml:"branch_prefix"`        // Prefix for generated work branches
}

// Agent holds agent session provider configuration.
type Agent struct {
	Provider     string `yaml:"provider"`       // Session provider name (default: "anthropic")
	Model        string `yaml:"model"`          // Model identifier passed to the provider
	MaxTokens    int    `yaml:"max_tokens"`     // Max tokens per turn (default: 8192)
	APIKeyEnvVar string `yaml:"api_key_envvar"` // Env var holding the provider API key
}

// Tracker holds tracking-service client configuration.
type Tracker struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // TTL for cached read responses
}

// Git holds version-control configuration.
type Git struct {
	RepoPath      string `yaml:"repo_path"`      // Working repository (default: ".")
	MaxConcurrent int    `yaml:"max_concurrent"` // Max concurrent git CLI operations (default: 4)
}

// Cache holds in-process cache configuration.
type Cache struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the run-history store connection configuration.
// The store is optional; an empty DSN disables run persistence.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the telemetry queue configuration. An empty URL disables it.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Tracker: Tracker{
			BaseURL:  "http://localhost:3100/api",
			Timeout:  30 * time.Second,
			CacheTTL: time.Minute,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{},
		Logging: Logging{
			Level:   "info",
			Service: "foreman",
		},
		Git: Git{
			RepoPath:      ".",
			MaxConcurrent: 4,
		},
		Cache: Cache{
			MaxSizeMB: 64,
		},
		Agent: Agent{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-20250514",
			MaxTokens:    8192,
			APIKeyEnvVar: "ANTHROPIC_API_KEY",
		},
		Orchestrator: Orchestrator{
			MaxAgents:          4,
			TaskAgentTimeout:   10 * time.Minute,
			DirectAgentTimeout: 25 * time.Minute,
			TaskLevelAgents:    true,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4317",
		},
	}
}
