// Package config provides configuration loading and validation for the
// request-processing worker.
//
// Configuration is split between a YAML file for tunables (queue sizing,
// timeouts, workspace root, TTLs) and the environment for secrets (GitHub
// token, blob-signing key). Secrets never live in the file so that the file
// can be committed alongside a deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the file omits a value.
const (
	DefaultMaxAttempts     = 3
	DefaultWorkers         = 4
	DefaultQueueBuffer     = 256
	DefaultCloneTimeout    = 5 * time.Minute
	DefaultAgentTimeout    = 45 * time.Minute
	DefaultPushTimeout     = 2 * time.Minute
	DefaultSessionTTL      = 7 * 24 * time.Hour
	DefaultSweepSchedule   = "0 * * * *" // hourly
	DefaultMetricsAddr     = ":9090"
	DefaultPromptBudget    = 24000
	DefaultWorkspaceRoot   = "/tmp/clarity-workspaces"
	DefaultDBPath          = "clarity.db"
	DefaultAgentType       = "claude"
	DefaultBlobRefLifetime = 15 * time.Minute
)

// Config is the worker configuration. Load returns it by value-equivalent
// pointer; callers must not mutate it after startup.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Queue     QueueConfig     `yaml:"queue"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Agent     AgentConfig     `yaml:"agent"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Secrets, populated from the environment by Load.
	GitHubToken string `yaml:"-"`
	BlobSignKey string `yaml:"-"`
}

// QueueConfig controls delivery and retry behavior.
type QueueConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	Workers     int `yaml:"workers"`
	Buffer      int `yaml:"buffer"`
}

// WorkspaceConfig controls the git orchestration layer.
type WorkspaceConfig struct {
	Root         string        `yaml:"root"`
	CloneTimeout time.Duration `yaml:"clone_timeout"`
	PushTimeout  time.Duration `yaml:"push_timeout"`
}

// AgentConfig controls the coding-agent capability.
type AgentConfig struct {
	DefaultType  string        `yaml:"default_type"`
	Timeout      time.Duration `yaml:"timeout"`
	PromptBudget int           `yaml:"prompt_budget"` // tokens of history replayed per turn
}

// SessionConfig controls session persistence and sweeping.
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	SweepSchedule   string        `yaml:"sweep_schedule"` // cron expression
	BlobRefLifetime time.Duration `yaml:"blob_ref_lifetime"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns a config populated with all defaults and env secrets.
func Default() *Config {
	cfg := &Config{
		DBPath: DefaultDBPath,
		Queue: QueueConfig{
			MaxAttempts: DefaultMaxAttempts,
			Workers:     DefaultWorkers,
			Buffer:      DefaultQueueBuffer,
		},
		Workspace: WorkspaceConfig{
			Root:         DefaultWorkspaceRoot,
			CloneTimeout: DefaultCloneTimeout,
			PushTimeout:  DefaultPushTimeout,
		},
		Agent: AgentConfig{
			DefaultType:  DefaultAgentType,
			Timeout:      DefaultAgentTimeout,
			PromptBudget: DefaultPromptBudget,
		},
		Sessions: SessionConfig{
			TTL:             DefaultSessionTTL,
			SweepSchedule:   DefaultSweepSchedule,
			BlobRefLifetime: DefaultBlobRefLifetime,
		},
		Metrics: MetricsConfig{
			Addr:    DefaultMetricsAddr,
			Enabled: true,
		},
	}
	cfg.loadSecrets()
	return cfg
}

// Load reads the YAML file at path, applies defaults for omitted values,
// pulls secrets from the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.loadSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for zero values the YAML file cleared.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = DefaultMaxAttempts
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = DefaultWorkers
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = DefaultQueueBuffer
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = DefaultWorkspaceRoot
	}
	if c.Workspace.CloneTimeout <= 0 {
		c.Workspace.CloneTimeout = DefaultCloneTimeout
	}
	if c.Workspace.PushTimeout <= 0 {
		c.Workspace.PushTimeout = DefaultPushTimeout
	}
	if c.Agent.DefaultType == "" {
		c.Agent.DefaultType = DefaultAgentType
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = DefaultAgentTimeout
	}
	if c.Agent.PromptBudget <= 0 {
		c.Agent.PromptBudget = DefaultPromptBudget
	}
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}
	if c.Sessions.SweepSchedule == "" {
		c.Sessions.SweepSchedule = DefaultSweepSchedule
	}
	if c.Sessions.BlobRefLifetime <= 0 {
		c.Sessions.BlobRefLifetime = DefaultBlobRefLifetime
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

func (c *Config) loadSecrets() {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHubToken = token
	}
	if key := os.Getenv("CLARITY_BLOB_KEY"); key != "" {
		c.BlobSignKey = key
	}
}

// Validate rejects configurations the pipeline cannot run with. A missing
// GitHub token is a CONFIG-class error: fatal, never retried.
func (c *Config) Validate() error {
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be >= 1, got %d", c.Queue.Workers)
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if c.Workspace.CloneTimeout < time.Second {
		return fmt.Errorf("workspace.clone_timeout too small: %s", c.Workspace.CloneTimeout)
	}
	if c.Agent.Timeout < time.Second {
		return fmt.Errorf("agent.timeout too small: %s", c.Agent.Timeout)
	}
	if c.Sessions.TTL < time.Minute {
		return fmt.Errorf("sessions.ttl too small: %s", c.Sessions.TTL)
	}
	return nil
}
