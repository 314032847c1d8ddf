package errors

import (
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// PlanError Tests
// -----------------------------------------------------------------------------

func TestNewPlanError(t *testing.T) {
	cause := ErrNotPaused
	err := NewPlanError("cannot resume", cause)

	if err.message != "cannot resume" {
		t.Errorf("message = %q, want %q", err.message, "cannot resume")
	}
	if err.cause != cause {
		t.Errorf("cause = %v, want %v", err.cause, cause)
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
}

func TestPlanError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *PlanError
		want string
	}{
		{
			name: "basic error",
			err:  NewPlanError("test error", nil),
			want: "plan error: test error",
		},
		{
			name: "with cause",
			err:  NewPlanError("cannot resume", ErrNotPaused),
			want: "plan error: cannot resume: plan is not paused",
		},
		{
			name: "with plan id",
			err:  NewPlanError("cannot resume", ErrNotPaused).WithPlanID("p1"),
			want: "plan error [plan=p1]: cannot resume: plan is not paused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlanError_Is(t *testing.T) {
	err := NewPlanError("cannot start", ErrAlreadyRunning).WithPlanID("p1")

	if !Is(err, ErrAlreadyRunning) {
		t.Error("Is(err, ErrAlreadyRunning) = false, want true")
	}
	if Is(err, ErrNoCheckpoint) {
		t.Error("Is(err, ErrNoCheckpoint) = true, want false")
	}

	var planErr *PlanError
	if !As(err, &planErr) {
		t.Error("As(err, &planErr) = false, want true")
	}
	if planErr.PlanID != "p1" {
		t.Errorf("PlanID = %q, want %q", planErr.PlanID, "p1")
	}
}

// -----------------------------------------------------------------------------
// StepError Tests
// -----------------------------------------------------------------------------

func TestStepError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *StepError
		want string
	}{
		{
			name: "basic",
			err:  NewStepError("handler failed", nil),
			want: "step error: handler failed",
		},
		{
			name: "full context",
			err: NewStepError("handler failed", ErrExecutionFailed).
				WithPlanID("p1").WithStepID("s2").WithStepType("tool_call"),
			want: "step error [plan=p1, step=s2, type=tool_call]: handler failed: step execution failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStepError_Retryable(t *testing.T) {
	err := NewStepError("sandbox unavailable", nil).WithRetryable(true)
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}

	wrapped := fmt.Errorf("dispatch: %w", err)
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable(wrapped) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// ApprovalError Tests
// -----------------------------------------------------------------------------

func TestApprovalError_Error(t *testing.T) {
	err := NewApprovalError("request expired", ErrApprovalExpired).
		WithApprovalID("apr-1").
		WithCategory("execute_shell")

	want := "approval error [approval=apr-1, category=execute_shell]: request expired: approval request expired"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrApprovalExpired) {
		t.Error("Is(err, ErrApprovalExpired) = false, want true")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
}

// -----------------------------------------------------------------------------
// PolicyError Tests
// -----------------------------------------------------------------------------

func TestPolicyError_Error(t *testing.T) {
	err := NewPolicyError("master switch off", ErrPermissionDenied).WithUserID("u1")

	want := "policy error [user=u1]: master switch off: permission denied"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrPermissionDenied) {
		t.Error("Is(err, ErrPermissionDenied) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		resource string
		sentinel error
	}{
		{"plan", ErrPlanNotFound},
		{"step", ErrStepNotFound},
		{"approval", ErrApprovalNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			err := NewNotFoundError(tt.resource, "id-1")
			if !Is(err, tt.sentinel) {
				t.Errorf("Is(err, %v) = false, want true", tt.sentinel)
			}
			if !IsNotFound(err) {
				t.Error("IsNotFound() = false, want true")
			}
			want := fmt.Sprintf("%s not found: id-1", tt.resource)
			if got := err.Error(); got != want {
				t.Errorf("Error() = %q, want %q", got, want)
			}
		})
	}
}

func TestNotFoundError_UnknownResource(t *testing.T) {
	err := NewNotFoundError("widget", "w1")
	if Is(err, ErrPlanNotFound) {
		t.Error("widget NotFoundError should not match ErrPlanNotFound")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false, want true")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("no recognized fields in update").WithField("body")

	want := "validation error [field=body]: no recognized fields in update"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsValidation(err) {
		t.Error("IsValidation() = false, want true")
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("Is(err, ErrInvalidInput) = false, want true")
	}
	if IsNotFound(err) {
		t.Error("IsNotFound() = true, want false")
	}
}

// -----------------------------------------------------------------------------
// Classification Helper Tests
// -----------------------------------------------------------------------------

func TestSeverityOf(t *testing.T) {
	if got := SeverityOf(NewApprovalError("expired", nil)); got != SeverityWarning {
		t.Errorf("SeverityOf(approval) = %v, want %v", got, SeverityWarning)
	}
	if got := SeverityOf(New("plain")); got != SeverityError {
		t.Errorf("SeverityOf(plain) = %v, want %v", got, SeverityError)
	}
	if got := SeverityOf(nil); got != SeverityError {
		t.Errorf("SeverityOf(nil) = %v, want %v", got, SeverityError)
	}
}

func TestIsUserFacing(t *testing.T) {
	if !IsUserFacing(NewPlanError("oops", nil)) {
		t.Error("IsUserFacing(PlanError) = false, want true")
	}
	if IsUserFacing(New("internal detail")) {
		t.Error("IsUserFacing(plain) = true, want false")
	}
}
