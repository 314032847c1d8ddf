package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "plan.started", "approval.requested")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Plan Lifecycle Events
// -----------------------------------------------------------------------------

// PlanStartedEvent is emitted when the executor begins driving a plan.
type PlanStartedEvent struct {
	baseEvent
	PlanID  string // Unique identifier for the plan
	OwnerID string // User who owns the plan
	Name    string // Human-readable plan name
}

// NewPlanStartedEvent creates a PlanStartedEvent.
func NewPlanStartedEvent(planID, ownerID, name string) PlanStartedEvent {
	return PlanStartedEvent{
		baseEvent: newBaseEvent("plan.started"),
		PlanID:    planID,
		OwnerID:   ownerID,
		Name:      name,
	}
}

// PlanFinishedEvent is emitted when a plan reaches a terminal or parked
// state: completed, failed, aborted, or paused.
type PlanFinishedEvent struct {
	baseEvent
	PlanID string // Unique identifier for the plan
	Status string // Final status (completed, failed, aborted, paused)
	Reason string // Failure or abort reason, if any
}

// NewPlanFinishedEvent creates a PlanFinishedEvent.
func NewPlanFinishedEvent(planID, status, reason string) PlanFinishedEvent {
	return PlanFinishedEvent{
		baseEvent: newBaseEvent("plan.finished"),
		PlanID:    planID,
		Status:    status,
		Reason:    reason,
	}
}

// PlanResumedEvent is emitted when a paused plan resumes execution.
type PlanResumedEvent struct {
	baseEvent
	PlanID   string // Unique identifier for the plan
	OrderNum int    // Step position execution resumes from
}

// NewPlanResumedEvent creates a PlanResumedEvent.
func NewPlanResumedEvent(planID string, orderNum int) PlanResumedEvent {
	return PlanResumedEvent{
		baseEvent: newBaseEvent("plan.resumed"),
		PlanID:    planID,
		OrderNum:  orderNum,
	}
}

// PlanRolledBackEvent is emitted when a failed plan is restored to its
// last checkpoint.
type PlanRolledBackEvent struct {
	baseEvent
	PlanID   string // Unique identifier for the plan
	OrderNum int    // Checkpoint position restored to
	Reset    int    // Number of steps reset to pending
}

// NewPlanRolledBackEvent creates a PlanRolledBackEvent.
func NewPlanRolledBackEvent(planID string, orderNum, reset int) PlanRolledBackEvent {
	return PlanRolledBackEvent{
		baseEvent: newBaseEvent("plan.rolled_back"),
		PlanID:    planID,
		OrderNum:  orderNum,
		Reset:     reset,
	}
}

// -----------------------------------------------------------------------------
// Step Events
// -----------------------------------------------------------------------------

// StepStartedEvent is emitted when a step begins execution.
type StepStartedEvent struct {
	baseEvent
	PlanID   string // Owning plan
	StepID   string // Unique identifier for the step
	OrderNum int    // Position within the plan
	StepType string // Handler type (tool_call, code_execution, ...)
}

// NewStepStartedEvent creates a StepStartedEvent.
func NewStepStartedEvent(planID, stepID string, orderNum int, stepType string) StepStartedEvent {
	return StepStartedEvent{
		baseEvent: newBaseEvent("step.started"),
		PlanID:    planID,
		StepID:    stepID,
		OrderNum:  orderNum,
		StepType:  stepType,
	}
}

// StepFinishedEvent is emitted when a step reaches a terminal status.
type StepFinishedEvent struct {
	baseEvent
	PlanID   string // Owning plan
	StepID   string // Unique identifier for the step
	OrderNum int    // Position within the plan
	Status   string // Terminal status (completed, failed, skipped)
	Error    string // Error message for failed steps
}

// NewStepFinishedEvent creates a StepFinishedEvent.
func NewStepFinishedEvent(planID, stepID string, orderNum int, status, errMsg string) StepFinishedEvent {
	return StepFinishedEvent{
		baseEvent: newBaseEvent("step.finished"),
		PlanID:    planID,
		StepID:    stepID,
		OrderNum:  orderNum,
		Status:    status,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Approval Events
// -----------------------------------------------------------------------------

// ApprovalRequestedEvent is emitted when the permission gate suspends a
// step pending human approval. External notification transports subscribe
// to this event to surface the request to a human.
type ApprovalRequestedEvent struct {
	baseEvent
	ApprovalID  string    // Opaque request identifier, used to resolve
	UserID      string    // User whose policy triggered the prompt
	PlanID      string    // Plan whose step is suspended, if any
	Category    string    // Risk category requiring sign-off
	Description string    // Human-readable description of the pending action
	ExpiresAt   time.Time // When the request expires if unresolved
}

// NewApprovalRequestedEvent creates an ApprovalRequestedEvent.
func NewApprovalRequestedEvent(approvalID, userID, planID, category, description string, expiresAt time.Time) ApprovalRequestedEvent {
	return ApprovalRequestedEvent{
		baseEvent:   newBaseEvent("approval.requested"),
		ApprovalID:  approvalID,
		UserID:      userID,
		PlanID:      planID,
		Category:    category,
		Description: description,
		ExpiresAt:   expiresAt,
	}
}

// ApprovalResolvedEvent is emitted when a pending approval is resolved by
// a human or released by expiry.
type ApprovalResolvedEvent struct {
	baseEvent
	ApprovalID string // Opaque request identifier
	Approved   bool   // Whether the human approved the action
	Expired    bool   // True when the TTL elapsed before resolution
}

// NewApprovalResolvedEvent creates an ApprovalResolvedEvent.
func NewApprovalResolvedEvent(approvalID string, approved, expired bool) ApprovalResolvedEvent {
	return ApprovalResolvedEvent{
		baseEvent:  newBaseEvent("approval.resolved"),
		ApprovalID: approvalID,
		Approved:   approved,
		Expired:    expired,
	}
}
