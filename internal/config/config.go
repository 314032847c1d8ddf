// Package config loads and validates engine configuration through viper.
// Defaults, a YAML config file, and CONDUCTOR_* environment variables are
// merged in that order.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete Conductor configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
}

// StorageConfig controls where plan state is persisted.
type StorageConfig struct {
	// Path is the SQLite database file. Empty means the default location
	// under the data directory. The literal value ":memory:" selects the
	// in-memory store.
	Path string `mapstructure:"path"`
}

// LoggingConfig controls structured logging behavior.
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty means the default location under
	// the data directory.
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// ApprovalConfig controls the human approval registry.
type ApprovalConfig struct {
	// TTLSeconds is how long an approval request stays actionable (default: 300)
	TTLSeconds int `mapstructure:"ttl_seconds"`
	// SweepIntervalSeconds is how often expired requests are swept (default: 30)
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// ExecutorConfig controls plan execution behavior.
type ExecutorConfig struct {
	// MaxConcurrentPlans caps simultaneous plan executions, 0 = no cap (default: 10)
	MaxConcurrentPlans int `mapstructure:"max_concurrent_plans"`
}

// SandboxConfig controls the code execution backend.
type SandboxConfig struct {
	// Mode selects the backend: "local", "docker", or "auto" (default: "auto")
	Mode string `mapstructure:"mode"`
	// ExecTimeoutSeconds bounds a single code execution (default: 120)
	ExecTimeoutSeconds int `mapstructure:"exec_timeout_seconds"`
	// WorkDir is the parent directory for execution workspaces.
	// Empty means a directory under the OS temp directory.
	WorkDir string `mapstructure:"work_dir"`
}

// TTL returns the approval TTL as a time.Duration.
func (a *ApprovalConfig) TTL() time.Duration {
	return time.Duration(a.TTLSeconds) * time.Second
}

// SweepInterval returns the sweep interval as a time.Duration.
func (a *ApprovalConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalSeconds) * time.Second
}

// ExecTimeout returns the sandbox execution timeout as a time.Duration.
func (s *SandboxConfig) ExecTimeout() time.Duration {
	return time.Duration(s.ExecTimeoutSeconds) * time.Second
}

// ResolveStoragePath returns the database path, substituting the default
// location under dataDir when unset.
func (s *StorageConfig) ResolveStoragePath(dataDir string) string {
	if s.Path != "" {
		return expandHome(s.Path)
	}
	return filepath.Join(dataDir, "conductor.db")
}

// ResolveLogFile returns the log file path, substituting the default
// location under dataDir when unset.
func (l *LoggingConfig) ResolveLogFile(dataDir string) string {
	if l.File != "" {
		return expandHome(l.File)
	}
	return filepath.Join(dataDir, "conductor.log")
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path: "", // Empty means <data dir>/conductor.db
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			File:       "", // Empty means <data dir>/conductor.log
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Approval: ApprovalConfig{
			TTLSeconds:           300, // 5 minutes
			SweepIntervalSeconds: 30,
		},
		Executor: ExecutorConfig{
			MaxConcurrentPlans: 10,
		},
		Sandbox: SandboxConfig{
			Mode:               "auto",
			ExecTimeoutSeconds: 120,
			WorkDir:            "",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	// Storage defaults
	viper.SetDefault("storage.path", defaults.Storage.Path)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Approval defaults
	viper.SetDefault("approval.ttl_seconds", defaults.Approval.TTLSeconds)
	viper.SetDefault("approval.sweep_interval_seconds", defaults.Approval.SweepIntervalSeconds)

	// Executor defaults
	viper.SetDefault("executor.max_concurrent_plans", defaults.Executor.MaxConcurrentPlans)

	// Sandbox defaults
	viper.SetDefault("sandbox.mode", defaults.Sandbox.Mode)
	viper.SetDefault("sandbox.exec_timeout_seconds", defaults.Sandbox.ExecTimeoutSeconds)
	viper.SetDefault("sandbox.work_dir", defaults.Sandbox.WorkDir)
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// loading fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".config", "conductor")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the path to the user's data directory, where the
// database and logs live by default.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".local", "share", "conductor")
}
