package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jszach/conductor/internal/logging"
	"github.com/jszach/conductor/internal/policy"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "executor.max_concurrent_plans")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidSandboxModes returns the list of valid sandbox mode values.
func ValidSandboxModes() []string {
	return []string{
		policy.ModeLocal.String(),
		policy.ModeDocker.String(),
		policy.ModeAuto.String(),
	}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateApproval()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateSandbox()...)

	return errors
}

// validateLogging validates the LoggingConfig.
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateApproval validates the ApprovalConfig.
func (c *Config) validateApproval() []ValidationError {
	var errors []ValidationError

	if c.Approval.TTLSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "approval.ttl_seconds",
			Value:   c.Approval.TTLSeconds,
			Message: "must be positive",
		})
	}

	if c.Approval.SweepIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "approval.sweep_interval_seconds",
			Value:   c.Approval.SweepIntervalSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateExecutor validates the ExecutorConfig.
func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.MaxConcurrentPlans < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.max_concurrent_plans",
			Value:   c.Executor.MaxConcurrentPlans,
			Message: "must be non-negative (0 = no cap)",
		})
	}

	return errors
}

// validateSandbox validates the SandboxConfig.
func (c *Config) validateSandbox() []ValidationError {
	var errors []ValidationError

	if c.Sandbox.Mode != "" && !policy.Mode(c.Sandbox.Mode).IsValid() {
		errors = append(errors, ValidationError{
			Field:   "sandbox.mode",
			Value:   c.Sandbox.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSandboxModes(), ", ")),
		})
	}

	if c.Sandbox.ExecTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.exec_timeout_seconds",
			Value:   c.Sandbox.ExecTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}
