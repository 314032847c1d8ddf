// Package store provides the persistence boundary for plans, steps, and
// history. The Store interface abstracts the underlying storage mechanism;
// this package ships a SQLite-backed implementation for durable deployments
// and an in-memory implementation for tests and ephemeral engines.
//
// The executor's only write discipline is enforced here by callers, not the
// store: a plan's steps are never mutated before the plan's status has been
// transitioned to running.
package store

import (
	"context"
	"time"

	"github.com/jszach/conductor/internal/plan"
)

// ListFilter narrows and pages ListPlans results.
type ListFilter struct {
	// Status restricts results to plans in this status. Empty matches all.
	Status plan.Status

	// Goal restricts results to plans whose goal contains this substring.
	Goal string

	// Trigger restricts results to plans with this exact trigger.
	// Empty matches all.
	Trigger string

	// Limit caps the number of results. Zero means no cap.
	Limit int

	// Offset skips this many results for pagination.
	Offset int
}

// PlanUpdate is a partial plan metadata mutation. Nil fields are left
// untouched. Status and checkpoint moves go through UpdatePlanStatus.
type PlanUpdate struct {
	Name    *string
	Goal    *string
	Trigger *string
}

// empty reports whether the update changes nothing.
func (u PlanUpdate) empty() bool {
	return u.Name == nil && u.Goal == nil && u.Trigger == nil
}

// StepUpdate is a partial step mutation. Nil fields are left untouched.
type StepUpdate struct {
	Status      *plan.StepStatus
	Input       map[string]any
	Output      map[string]any
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Store is the persistence contract the executor runs against.
// All operations are synchronous from the caller's perspective.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreatePlan persists a new plan together with its steps.
	CreatePlan(ctx context.Context, p *plan.Plan, steps []plan.Step) error

	// GetPlan returns the plan by ID.
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)

	// ListPlans returns plans matching the filter, newest first.
	ListPlans(ctx context.Context, filter ListFilter) ([]plan.Plan, error)

	// UpdatePlanStatus transitions the plan's status and, when checkpoint
	// is non-nil, replaces the stored checkpoint in the same write.
	UpdatePlanStatus(ctx context.Context, id string, status plan.Status, checkpoint *plan.Checkpoint) error

	// UpdatePlan applies a partial metadata update to a plan. Running
	// plans cannot be updated; empty updates are rejected.
	UpdatePlan(ctx context.Context, id string, update PlanUpdate) error

	// DeletePlan removes the plan, its steps, and its history.
	// Running plans cannot be deleted; they must be aborted first.
	DeletePlan(ctx context.Context, id string) error

	// GetSteps returns the plan's steps ordered by order number.
	GetSteps(ctx context.Context, planID string) ([]plan.Step, error)

	// GetStep returns a single step by ID.
	GetStep(ctx context.Context, stepID string) (*plan.Step, error)

	// UpdateStep applies a partial update to a step.
	UpdateStep(ctx context.Context, stepID string, update StepUpdate) error

	// ResetSteps returns every step at or after fromOrderNum that is not
	// completed back to pending, clearing output, error, and timestamps.
	// Returns the number of steps reset. Used by rollback.
	ResetSteps(ctx context.Context, planID string, fromOrderNum int) (int, error)

	// AppendHistory appends one event to the plan's audit trail.
	// History is append-only; there is no update or delete.
	AppendHistory(ctx context.Context, planID string, eventType plan.HistoryEventType, data map[string]any) error

	// ListHistory returns the plan's history ordered oldest first.
	ListHistory(ctx context.Context, planID string) ([]plan.HistoryEvent, error)

	// RecalculateProgress rederives the plan's progress percentage from
	// its current step statuses and persists it. Returns the new value.
	RecalculateProgress(ctx context.Context, planID string) (int, error)

	// Close releases the store's resources.
	Close() error
}
