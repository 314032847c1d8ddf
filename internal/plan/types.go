// Package plan defines the durable data model for the Conductor engine.
//
// A Plan is one autonomous multi-step task; its Steps execute strictly in
// order-number sequence; HistoryEvents form an append-only audit trail of
// everything the executor did to the plan. These are pure data types: all
// mutation happens through the executor and the persistence store.
package plan

import (
	"time"
)

// -----------------------------------------------------------------------------
// Plan Status
// -----------------------------------------------------------------------------

// Status represents the lifecycle state of a plan.
//
// Transitions are owned by the executor's state machine:
//
//	pending  --execute--> running
//	running  --all steps done--> completed
//	running  --step error--> failed
//	running  --pause--> paused
//	paused   --resume--> running
//	running|paused --abort--> aborted
//	failed   --rollback--> pending (via checkpoint restore)
type Status string

const (
	// StatusPending indicates the plan has been created but not yet executed,
	// or has been rolled back and is ready for a fresh execution.
	StatusPending Status = "pending"

	// StatusRunning indicates the executor is actively driving the plan's steps.
	StatusRunning Status = "running"

	// StatusPaused indicates execution is parked at a step boundary.
	// Suspended approval waits are preserved across a pause.
	StatusPaused Status = "paused"

	// StatusCompleted indicates every step reached a terminal status and the
	// plan finished successfully. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed indicates a step's handler returned an error. The plan can
	// be recovered with rollback followed by a fresh execute.
	StatusFailed Status = "failed"

	// StatusAborted indicates the plan was canceled by an explicit abort. Terminal.
	StatusAborted Status = "aborted"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// Failed plans are not terminal: they remain recoverable via rollback.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// IsValid returns true if this is a recognized plan status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Step Status
// -----------------------------------------------------------------------------

// StepStatus represents the lifecycle state of a single plan step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"

	// StepRunning indicates the step's handler is executing or the step is
	// suspended awaiting approval. A step may only be running while its
	// owning plan is running.
	StepRunning StepStatus = "running"

	// StepCompleted indicates the handler returned successfully.
	StepCompleted StepStatus = "completed"

	// StepFailed indicates the handler returned an error or the permission
	// gate denied the step.
	StepFailed StepStatus = "failed"

	// StepSkipped indicates the step was intentionally not executed.
	StepSkipped StepStatus = "skipped"
)

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state for a step.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// IsValid returns true if this is a recognized step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Step Types
// -----------------------------------------------------------------------------

// StepType discriminates which handler executes a step.
type StepType string

const (
	// TypeToolCall invokes a named tool with the step's input parameters.
	TypeToolCall StepType = "tool_call"

	// TypeCodeExecution runs code in the sandbox backend.
	TypeCodeExecution StepType = "code_execution"

	// TypeSubPlan executes another plan as a nested unit of work.
	TypeSubPlan StepType = "sub_plan"

	// TypeWait pauses for a configured duration before continuing.
	TypeWait StepType = "wait"

	// TypeMessage records an informational message produced by the agent.
	TypeMessage StepType = "message"
)

// String returns the string representation of the step type.
func (t StepType) String() string {
	return string(t)
}

// IsValid returns true if this is a recognized step type.
func (t StepType) IsValid() bool {
	switch t {
	case TypeToolCall, TypeCodeExecution, TypeSubPlan, TypeWait, TypeMessage:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Checkpoint
// -----------------------------------------------------------------------------

// Checkpoint is a snapshot of execution progress sufficient to resume or
// roll back to a known-good point. The executor records one automatically
// after every successful step; callers may overwrite it with custom data
// through the explicit checkpoint API.
type Checkpoint struct {
	// OrderNum is the order number of the last successfully completed step.
	OrderNum int `json:"order_num"`

	// Data holds handler-supplied continuation state, keyed by handler.
	Data map[string]any `json:"data,omitempty"`

	// CreatedAt is when this checkpoint was taken.
	CreatedAt time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Plan
// -----------------------------------------------------------------------------

// Plan is the durable record of one autonomous multi-step task.
type Plan struct {
	// ID uniquely identifies this plan. Immutable.
	ID string `json:"id"`

	// OwnerID identifies the user whose permission policy gates this plan's
	// risk-classified steps.
	OwnerID string `json:"owner_id"`

	// Name is a short, human-readable name for the plan.
	Name string `json:"name"`

	// Goal is free text describing the plan's intent, preserved from the
	// planning agent that created it.
	Goal string `json:"goal"`

	// Trigger records what initiated the plan, such as "manual" or the
	// name of a scheduling source. Optional.
	Trigger string `json:"trigger,omitempty"`

	// Status is the plan's position in the execution state machine.
	Status Status `json:"status"`

	// Checkpoint is the last recorded execution snapshot. Nil until at least
	// one step has completed successfully or a caller sets one explicitly.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	// Progress is the derived completion percentage (0-100).
	Progress int `json:"progress"`

	// CreatedAt is when the plan record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the plan record was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// Step
// -----------------------------------------------------------------------------

// Step is one ordered unit of work within a plan.
type Step struct {
	// ID uniquely identifies this step.
	ID string `json:"id"`

	// PlanID is the owning plan. A step cannot outlive its plan.
	PlanID string `json:"plan_id"`

	// OrderNum is the step's position in the plan's strict total order.
	// Unique per plan; steps execute in non-decreasing order number.
	OrderNum int `json:"order_num"`

	// Type discriminates which handler executes this step.
	Type StepType `json:"type"`

	// Name is a short, human-readable name for the step.
	Name string `json:"name"`

	// Status is the step's lifecycle state.
	Status StepStatus `json:"status"`

	// Input is the handler's input payload, opaque to the executor.
	Input map[string]any `json:"input,omitempty"`

	// Output is the handler's success payload, opaque to the executor.
	Output map[string]any `json:"output,omitempty"`

	// Error is the recorded failure message for failed steps.
	Error string `json:"error,omitempty"`

	// StartedAt is when the step began executing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the step reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// InputString returns the named input field as a string, or the fallback
// if the field is absent or not a string.
func (s *Step) InputString(key, fallback string) string {
	if s.Input == nil {
		return fallback
	}
	if v, ok := s.Input[key].(string); ok {
		return v
	}
	return fallback
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// HistoryEventType identifies the kind of lifecycle event recorded in a
// plan's audit trail.
type HistoryEventType string

const (
	EventStarted    HistoryEventType = "started"
	EventPaused     HistoryEventType = "paused"
	EventResumed    HistoryEventType = "resumed"
	EventCompleted  HistoryEventType = "completed"
	EventFailed     HistoryEventType = "failed"
	EventAborted    HistoryEventType = "aborted"
	EventRolledBack HistoryEventType = "rolled_back"
	EventCheckpoint HistoryEventType = "checkpoint"
)

// String returns the string representation of the event type.
func (e HistoryEventType) String() string {
	return string(e)
}

// HistoryEvent is one entry in a plan's append-only audit trail.
// History is never mutated or deleted; per-plan ordering by timestamp
// is monotonic.
type HistoryEvent struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// PlanID is the plan this event belongs to.
	PlanID string `json:"plan_id"`

	// Event identifies what happened.
	Event HistoryEventType `json:"event"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Data is an event-specific payload.
	Data map[string]any `json:"data,omitempty"`
}

// -----------------------------------------------------------------------------
// Progress
// -----------------------------------------------------------------------------

// ComputeProgress derives a plan's completion percentage from its step
// statuses: terminal-successful steps (completed or skipped) over total,
// scaled to 0-100. A plan with no steps reports zero progress.
func ComputeProgress(steps []Step) int {
	if len(steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range steps {
		if s.Status == StepCompleted || s.Status == StepSkipped {
			done++
		}
	}
	return done * 100 / len(steps)
}
