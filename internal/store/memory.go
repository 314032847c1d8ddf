package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/plan"
)

// MemoryStore is an in-memory Store used by tests and ephemeral engines.
// All returned values are deep copies; callers can mutate them freely.
type MemoryStore struct {
	mu      sync.RWMutex
	plans   map[string]*plan.Plan
	steps   map[string][]plan.Step // keyed by plan ID, sorted by order number
	history map[string][]plan.HistoryEvent

	// now is overridable for tests.
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:   make(map[string]*plan.Plan),
		steps:   make(map[string][]plan.Step),
		history: make(map[string][]plan.HistoryEvent),
		now:     time.Now,
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// CreatePlan stores the plan and its steps.
func (s *MemoryStore) CreatePlan(ctx context.Context, p *plan.Plan, steps []plan.Step) error {
	if p == nil {
		return errors.NewValidationError("plan is required").WithField("plan")
	}
	if p.OwnerID == "" {
		return errors.NewValidationError("plan owner is required").WithField("owner_id")
	}
	if p.Name == "" {
		return errors.NewValidationError("plan name is required").WithField("name")
	}

	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = plan.StatusPending
	}
	if !p.Status.IsValid() {
		return errors.NewValidationError("unknown plan status").WithField("status").WithValue(string(p.Status))
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	seen := make(map[int]bool, len(steps))
	for i := range steps {
		st := &steps[i]
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.PlanID = p.ID
		if st.Status == "" {
			st.Status = plan.StepPending
		}
		if !st.Type.IsValid() {
			return errors.NewValidationError("unknown step type").WithField("type").WithValue(string(st.Type))
		}
		if seen[st.OrderNum] {
			return errors.NewValidationError("duplicate step order number").WithField("order_num").WithValue(fmt.Sprint(st.OrderNum))
		}
		seen[st.OrderNum] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; exists {
		return errors.NewValidationError("plan already exists").WithField("id").WithValue(p.ID)
	}

	stored := copyPlan(p)
	s.plans[p.ID] = stored
	copied := make([]plan.Step, len(steps))
	for i := range steps {
		copied[i] = *copyStep(&steps[i])
	}
	sort.Slice(copied, func(i, j int) bool { return copied[i].OrderNum < copied[j].OrderNum })
	s.steps[p.ID] = copied

	return nil
}

// GetPlan returns a copy of the plan by ID.
func (s *MemoryStore) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, errors.NewNotFoundError("plan", id)
	}
	return copyPlan(p), nil
}

// ListPlans returns copies of plans matching the filter, newest first.
func (s *MemoryStore) ListPlans(ctx context.Context, filter ListFilter) ([]plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []plan.Plan
	for _, p := range s.plans {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Goal != "" && !strings.Contains(p.Goal, filter.Goal) {
			continue
		}
		if filter.Trigger != "" && p.Trigger != filter.Trigger {
			continue
		}
		matched = append(matched, *copyPlan(p))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdatePlanStatus transitions the plan's status, optionally replacing the
// checkpoint in the same write.
func (s *MemoryStore) UpdatePlanStatus(ctx context.Context, id string, status plan.Status, checkpoint *plan.Checkpoint) error {
	if !status.IsValid() {
		return errors.NewValidationError("unknown plan status").WithField("status").WithValue(string(status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return errors.NewNotFoundError("plan", id)
	}
	p.Status = status
	if checkpoint != nil {
		cp := *checkpoint
		cp.Data = copyMap(checkpoint.Data)
		p.Checkpoint = &cp
	}
	p.UpdatedAt = s.now().UTC()
	return nil
}

// UpdatePlan applies a partial metadata update. Running plans are
// protected; pause or abort them first.
func (s *MemoryStore) UpdatePlan(ctx context.Context, id string, update PlanUpdate) error {
	if update.empty() {
		return errors.NewValidationError("plan update has no fields")
	}
	if update.Name != nil && *update.Name == "" {
		return errors.NewValidationError("plan name is required").WithField("name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return errors.NewNotFoundError("plan", id)
	}
	if p.Status == plan.StatusRunning {
		return errors.NewPlanError("cannot update a running plan", errors.ErrPlanRunning).WithPlanID(id)
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Goal != nil {
		p.Goal = *update.Goal
	}
	if update.Trigger != nil {
		p.Trigger = *update.Trigger
	}
	p.UpdatedAt = s.now().UTC()
	return nil
}

// DeletePlan removes the plan, its steps, and its history. Running plans
// are protected; abort them first.
func (s *MemoryStore) DeletePlan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[id]
	if !ok {
		return errors.NewNotFoundError("plan", id)
	}
	if p.Status == plan.StatusRunning {
		return errors.NewPlanError("cannot delete a running plan", errors.ErrPlanRunning).WithPlanID(id)
	}

	delete(s.plans, id)
	delete(s.steps, id)
	delete(s.history, id)
	return nil
}

// GetSteps returns copies of the plan's steps in execution order.
func (s *MemoryStore) GetSteps(ctx context.Context, planID string) ([]plan.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.plans[planID]; !ok {
		return nil, errors.NewNotFoundError("plan", planID)
	}
	steps := s.steps[planID]
	out := make([]plan.Step, len(steps))
	for i := range steps {
		out[i] = *copyStep(&steps[i])
	}
	return out, nil
}

// GetStep returns a copy of a single step by ID.
func (s *MemoryStore) GetStep(ctx context.Context, stepID string) (*plan.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st := s.findStep(stepID); st != nil {
		return copyStep(st), nil
	}
	return nil, errors.NewNotFoundError("step", stepID)
}

// UpdateStep applies a partial update to a step.
func (s *MemoryStore) UpdateStep(ctx context.Context, stepID string, update StepUpdate) error {
	if update.Status != nil && !update.Status.IsValid() {
		return errors.NewValidationError("unknown step status").WithField("status").WithValue(string(*update.Status))
	}
	if update.Status == nil && update.Input == nil && update.Output == nil &&
		update.Error == nil && update.StartedAt == nil && update.CompletedAt == nil {
		return errors.NewValidationError("step update has no fields")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.findStep(stepID)
	if st == nil {
		return errors.NewNotFoundError("step", stepID)
	}
	if update.Status != nil {
		st.Status = *update.Status
	}
	if update.Input != nil {
		st.Input = copyMap(update.Input)
	}
	if update.Output != nil {
		st.Output = copyMap(update.Output)
	}
	if update.Error != nil {
		st.Error = *update.Error
	}
	if update.StartedAt != nil {
		t := *update.StartedAt
		st.StartedAt = &t
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		st.CompletedAt = &t
	}
	return nil
}

// ResetSteps returns non-completed steps at or after fromOrderNum to
// pending, clearing output, error, and timestamps.
func (s *MemoryStore) ResetSteps(ctx context.Context, planID string, fromOrderNum int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps := s.steps[planID]
	reset := 0
	for i := range steps {
		st := &steps[i]
		if st.OrderNum < fromOrderNum || st.Status == plan.StepCompleted {
			continue
		}
		st.Status = plan.StepPending
		st.Output = nil
		st.Error = ""
		st.StartedAt = nil
		st.CompletedAt = nil
		reset++
	}
	return reset, nil
}

// AppendHistory records one event in the plan's audit trail.
func (s *MemoryStore) AppendHistory(ctx context.Context, planID string, eventType plan.HistoryEventType, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[planID] = append(s.history[planID], plan.HistoryEvent{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Event:     eventType,
		Timestamp: s.now().UTC(),
		Data:      copyMap(data),
	})
	return nil
}

// ListHistory returns copies of the plan's audit trail, oldest first.
func (s *MemoryStore) ListHistory(ctx context.Context, planID string) ([]plan.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.history[planID]
	out := make([]plan.HistoryEvent, len(events))
	for i, ev := range events {
		ev.Data = copyMap(ev.Data)
		out[i] = ev
	}
	return out, nil
}

// RecalculateProgress rederives and persists the plan's progress from its
// current step statuses.
func (s *MemoryStore) RecalculateProgress(ctx context.Context, planID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return 0, errors.NewNotFoundError("plan", planID)
	}
	p.Progress = plan.ComputeProgress(s.steps[planID])
	p.UpdatedAt = s.now().UTC()
	return p.Progress, nil
}

// findStep locates a step across all plans. Caller holds the lock.
func (s *MemoryStore) findStep(stepID string) *plan.Step {
	for _, steps := range s.steps {
		for i := range steps {
			if steps[i].ID == stepID {
				return &steps[i]
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Copy helpers
// -----------------------------------------------------------------------------

func copyPlan(p *plan.Plan) *plan.Plan {
	out := *p
	if p.Checkpoint != nil {
		cp := *p.Checkpoint
		cp.Data = copyMap(p.Checkpoint.Data)
		out.Checkpoint = &cp
	}
	return &out
}

func copyStep(st *plan.Step) *plan.Step {
	out := *st
	out.Input = copyMap(st.Input)
	out.Output = copyMap(st.Output)
	if st.StartedAt != nil {
		t := *st.StartedAt
		out.StartedAt = &t
	}
	if st.CompletedAt != nil {
		t := *st.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
