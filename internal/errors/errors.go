// Package errors provides centralized error definitions and error handling
// utilities for the Conductor engine. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - PlanError: errors related to plan lifecycle and control operations
//   - StepError: errors related to individual step execution
//   - ApprovalError: errors related to human-approval requests
//   - PolicyError: errors related to permission policy evaluation and updates
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewPlanError("cannot resume", errors.ErrNotPaused).WithPlanID("p1")
//
//	// Semantic error
//	err := errors.NewNotFoundError("plan", "p1")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrAlreadyRunning) { ... }
//
//	var planErr *errors.PlanError
//	if errors.As(err, &planErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Plan-related sentinel errors
var (
	// ErrPlanNotFound indicates that a plan could not be found.
	ErrPlanNotFound = New("plan not found")
	// ErrStepNotFound indicates that a plan step could not be found.
	ErrStepNotFound = New("step not found")
	// ErrAlreadyRunning indicates that a plan is already being executed.
	ErrAlreadyRunning = New("plan already running")
	// ErrNotPaused indicates that resume was called on a plan that is not paused.
	ErrNotPaused = New("plan is not paused")
	// ErrNotRunning indicates that a control operation requires a running plan.
	ErrNotRunning = New("plan is not running")
	// ErrNoCheckpoint indicates that rollback was requested without a checkpoint.
	ErrNoCheckpoint = New("plan has no checkpoint")
	// ErrPlanRunning indicates that an operation is invalid while the plan runs.
	ErrPlanRunning = New("plan is running")
	// ErrExecutionFailed indicates that a step handler returned an error.
	ErrExecutionFailed = New("step execution failed")
)

// Approval-related sentinel errors
var (
	// ErrApprovalNotFound indicates that an approval request could not be found.
	ErrApprovalNotFound = New("approval request not found")
	// ErrApprovalExpired indicates that an approval request's TTL elapsed.
	ErrApprovalExpired = New("approval request expired")
	// ErrPermissionDenied indicates that the permission gate denied a step.
	ErrPermissionDenied = New("permission denied")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrInvalidTransition indicates a disallowed status transition.
	ErrInvalidTransition = New("invalid status transition")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// PlanError represents errors related to plan lifecycle and control operations.
//
// Example:
//
//	err := errors.NewPlanError("cannot resume", errors.ErrNotPaused)
//	err = err.WithPlanID("p1")
//	fmt.Println(err) // "plan error [plan=p1]: cannot resume: plan is not paused"
type PlanError struct {
	baseError
	PlanID string
}

// NewPlanError creates a new PlanError.
func NewPlanError(message string, cause error) *PlanError {
	return &PlanError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPlanID adds a plan ID to the error context.
func (e *PlanError) WithPlanID(id string) *PlanError {
	e.PlanID = id
	return e
}

// WithSeverity sets the error severity.
func (e *PlanError) WithSeverity(s Severity) *PlanError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *PlanError) Error() string {
	prefix := "plan error"
	if e.PlanID != "" {
		prefix = fmt.Sprintf("plan error [plan=%s]", e.PlanID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PlanError) Is(target error) bool {
	if _, ok := target.(*PlanError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StepError represents errors related to individual step execution.
// A StepError recorded on a step propagates to the owning plan's failed status.
type StepError struct {
	baseError
	PlanID   string
	StepID   string
	StepType string
}

// NewStepError creates a new StepError.
func NewStepError(message string, cause error) *StepError {
	return &StepError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPlanID adds the owning plan ID to the error context.
func (e *StepError) WithPlanID(id string) *StepError {
	e.PlanID = id
	return e
}

// WithStepID adds a step ID to the error context.
func (e *StepError) WithStepID(id string) *StepError {
	e.StepID = id
	return e
}

// WithStepType adds the step's handler type to the error context.
func (e *StepError) WithStepType(t string) *StepError {
	e.StepType = t
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *StepError) WithRetryable(r bool) *StepError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *StepError) Error() string {
	var parts []string
	if e.PlanID != "" {
		parts = append(parts, fmt.Sprintf("plan=%s", e.PlanID))
	}
	if e.StepID != "" {
		parts = append(parts, fmt.Sprintf("step=%s", e.StepID))
	}
	if e.StepType != "" {
		parts = append(parts, fmt.Sprintf("type=%s", e.StepType))
	}

	prefix := "step error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("step error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *StepError) Is(target error) bool {
	if _, ok := target.(*StepError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ApprovalError represents errors related to human-approval requests.
type ApprovalError struct {
	baseError
	ApprovalID string
	Category   string
}

// NewApprovalError creates a new ApprovalError.
func NewApprovalError(message string, cause error) *ApprovalError {
	return &ApprovalError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithApprovalID adds an approval request ID to the error context.
func (e *ApprovalError) WithApprovalID(id string) *ApprovalError {
	e.ApprovalID = id
	return e
}

// WithCategory adds the risk category to the error context.
func (e *ApprovalError) WithCategory(c string) *ApprovalError {
	e.Category = c
	return e
}

// Error returns the formatted error message.
func (e *ApprovalError) Error() string {
	var parts []string
	if e.ApprovalID != "" {
		parts = append(parts, fmt.Sprintf("approval=%s", e.ApprovalID))
	}
	if e.Category != "" {
		parts = append(parts, fmt.Sprintf("category=%s", e.Category))
	}

	prefix := "approval error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("approval error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ApprovalError) Is(target error) bool {
	if _, ok := target.(*ApprovalError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PolicyError represents errors related to permission policy evaluation
// and policy updates.
type PolicyError struct {
	baseError
	UserID string
}

// NewPolicyError creates a new PolicyError.
func NewPolicyError(message string, cause error) *PolicyError {
	return &PolicyError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithUserID adds a user ID to the error context.
func (e *PolicyError) WithUserID(id string) *PolicyError {
	e.UserID = id
	return e
}

// Error returns the formatted error message.
func (e *PolicyError) Error() string {
	prefix := "policy error"
	if e.UserID != "" {
		prefix = fmt.Sprintf("policy error [user=%s]", e.UserID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PolicyError) Is(target error) bool {
	if _, ok := target.(*PolicyError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a resource could not be found.
type NotFoundError struct {
	baseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new NotFoundError for the given resource and ID.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found: %s", resource, id),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Resource: resource,
		ID:       id,
	}
}

// Is checks if this error matches the target. NotFoundError matches the
// resource-specific sentinels so callers can use errors.Is with either form.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	switch e.Resource {
	case "plan":
		if target == ErrPlanNotFound {
			return true
		}
	case "step":
		if target == ErrStepNotFound {
			return true
		}
	case "approval":
		if target == ErrApprovalNotFound {
			return true
		}
	}
	return e.baseError.Is(target)
}

// ValidationError indicates that input validation failed.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds the offending field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the offending value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classified is implemented by all errors in this package.
type classified interface {
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// IsRetryable returns true if the error (or any error in its chain)
// is marked as retryable.
func IsRetryable(err error) bool {
	for err != nil {
		if c, ok := err.(classified); ok {
			return c.IsRetryable()
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsUserFacing returns true if the error (or any error in its chain)
// is marked as safe to display to users.
func IsUserFacing(err error) bool {
	for err != nil {
		if c, ok := err.(classified); ok {
			return c.IsUserFacing()
		}
		err = errors.Unwrap(err)
	}
	return false
}

// SeverityOf returns the severity of the error, or SeverityError if the
// error carries no classification.
func SeverityOf(err error) Severity {
	for err != nil {
		if c, ok := err.(classified); ok {
			return c.Severity()
		}
		err = errors.Unwrap(err)
	}
	return SeverityError
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrApprovalNotFound)
}

// IsValidation returns true if the error indicates failed input validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrInvalidInput)
}
