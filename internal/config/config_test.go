package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("Default() config is invalid: %v", ValidationErrors(errs))
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Approval.TTL() != 5*time.Minute {
		t.Errorf("default approval TTL = %v, want 5m", cfg.Approval.TTL())
	}
	if cfg.Executor.MaxConcurrentPlans != 10 {
		t.Errorf("default max concurrent plans = %d, want 10", cfg.Executor.MaxConcurrentPlans)
	}
	if cfg.Sandbox.Mode != "auto" {
		t.Errorf("default sandbox mode = %q, want auto", cfg.Sandbox.Mode)
	}
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Approval.TTLSeconds != 300 {
		t.Errorf("ttl_seconds = %d, want 300", cfg.Approval.TTLSeconds)
	}
	if cfg.Sandbox.ExecTimeout() != 2*time.Minute {
		t.Errorf("exec timeout = %v, want 2m", cfg.Sandbox.ExecTimeout())
	}
}

func TestLoadFromFile(t *testing.T) {
	resetViper(t)
	SetDefaults()

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
storage:
  path: /var/lib/conductor/plans.db
logging:
  level: debug
  compress: true
approval:
  ttl_seconds: 60
executor:
  max_concurrent_plans: 2
sandbox:
  mode: local
  exec_timeout_seconds: 30
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Path != "/var/lib/conductor/plans.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Compress {
		t.Errorf("logging = %+v, want debug + compress", cfg.Logging)
	}
	if cfg.Approval.TTL() != time.Minute {
		t.Errorf("ttl = %v, want 1m", cfg.Approval.TTL())
	}
	if cfg.Executor.MaxConcurrentPlans != 2 {
		t.Errorf("max concurrent plans = %d, want 2", cfg.Executor.MaxConcurrentPlans)
	}
	if cfg.Sandbox.Mode != "local" {
		t.Errorf("sandbox mode = %q, want local", cfg.Sandbox.Mode)
	}

	// File values that fail validation surface as load errors.
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	viper.SetConfigFile(bad)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want validation failure for bad level")
	}
}

func TestResolvePaths(t *testing.T) {
	var s StorageConfig
	if got := s.ResolveStoragePath("/data"); got != filepath.Join("/data", "conductor.db") {
		t.Errorf("ResolveStoragePath(empty) = %q", got)
	}
	s.Path = "/custom/plans.db"
	if got := s.ResolveStoragePath("/data"); got != "/custom/plans.db" {
		t.Errorf("ResolveStoragePath(explicit) = %q", got)
	}

	var l LoggingConfig
	if got := l.ResolveLogFile("/data"); got != filepath.Join("/data", "conductor.log") {
		t.Errorf("ResolveLogFile(empty) = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	s.Path = "~/conductor.db"
	if got := s.ResolveStoragePath("/data"); got != filepath.Join(home, "conductor.db") {
		t.Errorf("ResolveStoragePath(~) = %q, want home-expanded", got)
	}
}

func TestWatcherReloads(t *testing.T) {
	resetViper(t)
	SetDefaults()

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte("executor:\n  max_concurrent_plans: 3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(file, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(file, []byte("executor:\n  max_concurrent_plans: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Executor.MaxConcurrentPlans != 7 {
			t.Errorf("reloaded max_concurrent_plans = %d, want 7", cfg.Executor.MaxConcurrentPlans)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver reloaded config")
	}
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	resetViper(t)
	SetDefaults()

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(file, func(cfg *Config) { reloaded <- cfg }, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start()
	defer w.Stop()

	// An invalid level must not reach the callback.
	if err := os.WriteFile(file, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("callback received invalid config: %+v", cfg.Logging)
	case <-time.After(time.Second):
	}
}
