// Package config handles jean configuration loading and defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for jean.
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Agents    AgentsConfig    `yaml:"agents"`
	Sync      SyncConfig      `yaml:"sync"`
	GitHub    GitHubConfig    `yaml:"github"`
}

// DaemonConfig defines jeand settings.
type DaemonConfig struct {
	Socket    string `yaml:"socket"`
	Database  string `yaml:"database"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// WorkspaceConfig defines where worktrees live on disk.
type WorkspaceConfig struct {
	// WorktreeDir is the dedicated directory new feature worktrees are
	// created under, one subdirectory per worktree.
	WorktreeDir string `yaml:"worktree_dir"`
}

// AgentsConfig defines per-agent defaults.
type AgentsConfig struct {
	Default  string `yaml:"default"` // claude | codex | mock
	Model    string `yaml:"model"`
	Mode     string `yaml:"mode"` // plan | build | yolo
	Thinking string `yaml:"thinking"`
}

// SyncConfig tunes the client-side reconciliation engine.
type SyncConfig struct {
	PollDeadline time.Duration `yaml:"poll_deadline"` // wait for a creation event before polling
	PollBackoff  time.Duration `yaml:"poll_backoff"`
	PollAttempts int           `yaml:"poll_attempts"`
	QueueLimit   int           `yaml:"queue_limit"` // outgoing messages per session
}

// GitHubConfig defines the GitHub App identity used to open PRs for
// published worktrees.
type GitHubConfig struct {
	Enabled        bool   `yaml:"enabled"`
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Daemon: DaemonConfig{
			Socket:   "/tmp/jeand.sock",
			Database: filepath.Join(homeDir, ".local/share/jean/jean.db"),
			LogFile:  filepath.Join(homeDir, ".local/share/jean/jeand.log"),
			LogLevel: "info",
		},
		Workspace: WorkspaceConfig{
			WorktreeDir: filepath.Join(homeDir, "jean/worktrees"),
		},
		Agents: AgentsConfig{
			Default:  "codex",
			Mode:     "plan",
			Thinking: "medium",
		},
		Sync: SyncConfig{
			PollDeadline: 1500 * time.Millisecond,
			PollBackoff:  time.Second,
			PollAttempts: 5,
			QueueLimit:   8,
		},
	}
}

// Load reads configuration from the default path, or returns defaults
// when no config file exists.
func Load() (*Config, error) {
	configPath := DefaultConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Daemon.SentryDSN = os.ExpandEnv(cfg.Daemon.SentryDSN)
	cfg.GitHub.PrivateKeyPath = os.ExpandEnv(cfg.GitHub.PrivateKeyPath)
	return cfg, nil
}

// DefaultConfigPath returns the configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("JEAN_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/jean/config.yaml")
}
