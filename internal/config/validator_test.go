package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return Default()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Logging.Level = "loud" },
			wantField: "logging.level",
		},
		{
			name:      "negative max size",
			mutate:    func(c *Config) { c.Logging.MaxSizeMB = -1 },
			wantField: "logging.max_size_mb",
		},
		{
			name:      "negative max backups",
			mutate:    func(c *Config) { c.Logging.MaxBackups = -1 },
			wantField: "logging.max_backups",
		},
		{
			name:      "zero approval ttl",
			mutate:    func(c *Config) { c.Approval.TTLSeconds = 0 },
			wantField: "approval.ttl_seconds",
		},
		{
			name:      "negative sweep interval",
			mutate:    func(c *Config) { c.Approval.SweepIntervalSeconds = -5 },
			wantField: "approval.sweep_interval_seconds",
		},
		{
			name:      "negative concurrency cap",
			mutate:    func(c *Config) { c.Executor.MaxConcurrentPlans = -1 },
			wantField: "executor.max_concurrent_plans",
		},
		{
			name:      "unknown sandbox mode",
			mutate:    func(c *Config) { c.Sandbox.Mode = "bare-metal" },
			wantField: "sandbox.mode",
		},
		{
			name:      "zero exec timeout",
			mutate:    func(c *Config) { c.Sandbox.ExecTimeoutSeconds = 0 },
			wantField: "sandbox.exec_timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()

			if tt.wantField == "" {
				if len(errs) > 0 {
					t.Errorf("Validate() = %v, want no errors", ValidationErrors(errs))
				}
				return
			}

			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want error on %s", ValidationErrors(errs), tt.wantField)
			}
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: -1, Message: "must be non-negative"},
		{Field: "c.d", Value: "x", Message: "bad"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("Error() = %q, want count prefix", msg)
	}
	if !strings.Contains(msg, "a.b") || !strings.Contains(msg, "c.d") {
		t.Errorf("Error() = %q, want both fields listed", msg)
	}

	single := ValidationErrors{errs[0]}
	if got := single.Error(); !strings.Contains(got, "a.b: must be non-negative") {
		t.Errorf("single Error() = %q", got)
	}
}
