// Package executor drives plans through their lifecycle. It owns the
// running set, the per-step permission gate check, automatic checkpoints,
// and every status transition; nothing else writes plan or step state while
// a plan runs.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jszach/conductor/internal/approval"
	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/event"
	"github.com/jszach/conductor/internal/handler"
	"github.com/jszach/conductor/internal/logging"
	"github.com/jszach/conductor/internal/plan"
	"github.com/jszach/conductor/internal/policy"
	"github.com/jszach/conductor/internal/store"
)

// run is the in-memory handle for one executing plan. It exists only while
// the run loop is on the stack; paused and finished plans have no handle.
type run struct {
	planID    string
	cancel    context.CancelFunc
	paused    atomic.Bool
	pauseCh   chan struct{}
	pauseOnce sync.Once
	done      chan struct{}
}

// requestPause flags the run for parking. The closed channel lets a step
// suspended in an approval wait observe the pause without polling.
func (r *run) requestPause() {
	r.paused.Store(true)
	r.pauseOnce.Do(func() { close(r.pauseCh) })
}

// errStepPaused is the run-internal signal that a suspended step observed a
// pause request. The step returns to pending and the plan parks.
var errStepPaused = errors.New("step paused")

// Options tunes executor behavior.
type Options struct {
	// MaxConcurrentPlans caps how many plans execute at once. Zero means
	// no cap.
	MaxConcurrentPlans int
}

// Executor runs plans. All methods are safe for concurrent use; each plan
// has at most one run loop at a time.
type Executor struct {
	store      store.Store
	registry   *handler.Registry
	gate       *approval.Gate
	classifier *plan.Classifier
	bus        *event.Bus
	log        *logging.Logger
	sem        *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*run
}

// New creates an executor. A nil logger disables logging; a nil bus
// disables event publication.
func New(st store.Store, registry *handler.Registry, gate *approval.Gate, classifier *plan.Classifier, bus *event.Bus, log *logging.Logger, opts Options) *Executor {
	if log == nil {
		log = logging.NopLogger()
	}
	if classifier == nil {
		classifier = plan.NewClassifier()
	}
	e := &Executor{
		store:      st,
		registry:   registry,
		gate:       gate,
		classifier: classifier,
		bus:        bus,
		log:        log.WithComponent("executor"),
		running:    make(map[string]*run),
	}
	if opts.MaxConcurrentPlans > 0 {
		e.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentPlans))
	}
	return e
}

// -----------------------------------------------------------------------------
// Control operations
// -----------------------------------------------------------------------------

// Execute runs a pending plan to a terminal or parked state. It returns
// when the plan completes, fails, pauses, or aborts; the returned error is
// non-nil only when the plan did not complete or park cleanly.
func (e *Executor) Execute(ctx context.Context, planID string) error {
	return e.runPlan(ctx, planID, false)
}

// ExecutePlan satisfies handler.PlanRunner so sub-plan steps can re-enter
// the executor.
func (e *Executor) ExecutePlan(ctx context.Context, planID string) error {
	return e.Execute(ctx, planID)
}

// Resume continues a paused plan from its first non-terminal step.
func (e *Executor) Resume(ctx context.Context, planID string) error {
	return e.runPlan(ctx, planID, true)
}

// Pause requests that the running plan park at the next safe point: after
// the in-flight step completes, or immediately if the step is suspended in
// an approval wait. A pending approval survives the park and resolves or
// expires in the registry on its own.
func (e *Executor) Pause(planID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.running[planID]
	if !ok {
		return errors.NewPlanError("plan is not running", errors.ErrNotRunning).WithPlanID(planID)
	}
	r.requestPause()
	e.log.Info("pause requested", "plan_id", planID)
	return nil
}

// Abort cancels a running plan, or transitions a paused plan directly to
// aborted. For running plans it waits for the run loop to unwind so the
// stored status is final when Abort returns.
func (e *Executor) Abort(ctx context.Context, planID string) error {
	e.mu.Lock()
	r, isRunning := e.running[planID]
	e.mu.Unlock()

	if isRunning {
		r.cancel()
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if p.Status != plan.StatusPaused {
		return errors.NewPlanError(
			fmt.Sprintf("cannot abort a %s plan", p.Status), errors.ErrInvalidTransition).WithPlanID(planID)
	}

	if err := e.store.UpdatePlanStatus(ctx, planID, plan.StatusAborted, nil); err != nil {
		return err
	}
	e.appendHistory(ctx, planID, plan.EventAborted, nil)
	e.publish(event.NewPlanFinishedEvent(planID, plan.StatusAborted.String(), "aborted while paused"))
	e.log.Info("paused plan aborted", "plan_id", planID)
	return nil
}

// Checkpoint records an explicit checkpoint at the plan's last completed
// step, attaching caller-supplied continuation data. Not permitted while
// the plan runs; the run loop owns checkpoints then.
func (e *Executor) Checkpoint(ctx context.Context, planID string, data map[string]any) (*plan.Checkpoint, error) {
	if e.isRunning(planID) {
		return nil, errors.NewPlanError("cannot checkpoint a running plan", errors.ErrPlanRunning).WithPlanID(planID)
	}

	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.GetSteps(ctx, planID)
	if err != nil {
		return nil, err
	}

	cp := &plan.Checkpoint{
		OrderNum:  lastCompletedOrder(steps),
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.UpdatePlanStatus(ctx, planID, p.Status, cp); err != nil {
		return nil, err
	}
	e.appendHistory(ctx, planID, plan.EventCheckpoint, map[string]any{"order_num": cp.OrderNum})
	e.log.Info("checkpoint recorded", "plan_id", planID, "order_num", cp.OrderNum)
	return cp, nil
}

// Rollback restores a failed plan to its last checkpoint: every
// non-completed step at or after the checkpoint frontier returns to
// pending and the plan becomes pending again. Execution does not restart
// automatically; the caller issues a fresh Execute.
func (e *Executor) Rollback(ctx context.Context, planID string) error {
	if e.isRunning(planID) {
		return errors.NewPlanError("cannot roll back a running plan", errors.ErrPlanRunning).WithPlanID(planID)
	}

	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if p.Status != plan.StatusFailed {
		return errors.NewPlanError(
			fmt.Sprintf("cannot roll back a %s plan", p.Status), errors.ErrInvalidTransition).WithPlanID(planID)
	}
	if p.Checkpoint == nil {
		return errors.NewPlanError("plan has no checkpoint", errors.ErrNoCheckpoint).WithPlanID(planID)
	}

	frontier := p.Checkpoint.OrderNum + 1
	reset, err := e.store.ResetSteps(ctx, planID, frontier)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePlanStatus(ctx, planID, plan.StatusPending, nil); err != nil {
		return err
	}
	if _, err := e.store.RecalculateProgress(ctx, planID); err != nil {
		return err
	}
	e.appendHistory(ctx, planID, plan.EventRolledBack, map[string]any{
		"order_num": p.Checkpoint.OrderNum,
		"reset":     reset,
	})
	e.publish(event.NewPlanRolledBackEvent(planID, p.Checkpoint.OrderNum, reset))
	e.log.Info("plan rolled back", "plan_id", planID, "order_num", p.Checkpoint.OrderNum, "steps_reset", reset)
	return nil
}

// RunningPlans returns the IDs of currently executing plans, sorted.
func (e *Executor) RunningPlans() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// -----------------------------------------------------------------------------
// Run loop
// -----------------------------------------------------------------------------

// runPlan is the shared body of Execute and Resume.
func (e *Executor) runPlan(ctx context.Context, planID string, resuming bool) error {
	wantStatus := plan.StatusPending
	if resuming {
		wantStatus = plan.StatusPaused
	}

	// Single admission point: the running set decides races, the stored
	// status is a consequence.
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{planID: planID, cancel: cancel, pauseCh: make(chan struct{}), done: make(chan struct{})}
	e.mu.Lock()
	if _, exists := e.running[planID]; exists {
		e.mu.Unlock()
		cancel()
		if resuming {
			return errors.NewPlanError("cannot resume a running plan", errors.ErrNotPaused).WithPlanID(planID)
		}
		return errors.NewPlanError("plan is already running", errors.ErrAlreadyRunning).WithPlanID(planID)
	}
	e.running[planID] = r
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, planID)
		e.mu.Unlock()
		close(r.done)
	}()

	// Status validation happens under the admission slot: no other run can
	// move this plan between the read below and the running transition, so
	// a racer that reads a stale pending snapshot cannot re-drive a plan
	// that finished in the meantime.
	p, err := e.store.GetPlan(runCtx, planID)
	if err != nil {
		return err
	}
	if p.Status != wantStatus {
		if resuming {
			return errors.NewPlanError(
				fmt.Sprintf("cannot resume a %s plan", p.Status), errors.ErrNotPaused).WithPlanID(planID)
		}
		if p.Status == plan.StatusRunning {
			return errors.NewPlanError("plan is already running", errors.ErrAlreadyRunning).WithPlanID(planID)
		}
		return errors.NewPlanError(
			fmt.Sprintf("cannot execute a %s plan", p.Status), errors.ErrInvalidTransition).WithPlanID(planID)
	}

	if e.sem != nil {
		if err := e.sem.Acquire(runCtx, 1); err != nil {
			return errors.NewPlanError("execution canceled before start", errors.ErrCanceled).WithPlanID(planID)
		}
		defer e.sem.Release(1)
	}

	if err := e.store.UpdatePlanStatus(runCtx, planID, plan.StatusRunning, nil); err != nil {
		return err
	}
	if resuming {
		steps, _ := e.store.GetSteps(runCtx, planID)
		e.appendHistory(runCtx, planID, plan.EventResumed, nil)
		e.publish(event.NewPlanResumedEvent(planID, nextPendingOrder(steps)))
		e.log.Info("plan resumed", "plan_id", planID)
	} else {
		e.appendHistory(runCtx, planID, plan.EventStarted, nil)
		e.publish(event.NewPlanStartedEvent(planID, p.OwnerID, p.Name))
		e.log.Info("plan started", "plan_id", planID, "owner_id", p.OwnerID)
	}

	return e.runSteps(runCtx, r, p)
}

// runSteps walks the plan's steps in order. Completed and skipped steps are
// passed over, which makes re-entry after resume or rollback a plain
// re-walk of the same list.
func (e *Executor) runSteps(ctx context.Context, r *run, p *plan.Plan) error {
	planID := p.ID
	steps, err := e.store.GetSteps(ctx, planID)
	if err != nil {
		e.failPlan(planID, nil, err)
		return err
	}

	for i := range steps {
		step := &steps[i]
		if step.Status == plan.StepCompleted || step.Status == plan.StepSkipped {
			continue
		}

		if r.paused.Load() {
			return e.parkPlan(planID)
		}
		if ctx.Err() != nil {
			return e.abortPlan(planID)
		}

		if err := e.runStep(ctx, r, p, step); err != nil {
			if errors.Is(err, errStepPaused) {
				return e.parkPlan(planID)
			}
			if ctx.Err() != nil {
				return e.abortPlan(planID)
			}
			e.failPlan(planID, step, err)
			return err
		}

		if r.paused.Load() {
			return e.parkPlan(planID)
		}
	}

	if err := e.store.UpdatePlanStatus(context.WithoutCancel(ctx), planID, plan.StatusCompleted, nil); err != nil {
		return err
	}
	e.appendHistory(context.WithoutCancel(ctx), planID, plan.EventCompleted, nil)
	e.publish(event.NewPlanFinishedEvent(planID, plan.StatusCompleted.String(), ""))
	e.log.Info("plan completed", "plan_id", planID)
	return nil
}

// runStep executes one step through the gate and its handler, recording
// status, output, timestamps, progress, and the automatic checkpoint.
func (e *Executor) runStep(ctx context.Context, r *run, p *plan.Plan, step *plan.Step) error {
	planID := p.ID
	log := e.log.WithPlan(planID).WithStep(step.ID)

	started := time.Now().UTC()
	running := plan.StepRunning
	if err := e.store.UpdateStep(ctx, step.ID, store.StepUpdate{Status: &running, StartedAt: &started}); err != nil {
		return err
	}
	e.publish(event.NewStepStartedEvent(planID, step.ID, step.OrderNum, step.Type.String()))
	log.Debug("step started", "order_num", step.OrderNum, "type", step.Type.String())

	output, execErr := e.dispatchStep(ctx, r, p, step)

	if errors.Is(execErr, errStepPaused) {
		// The step never reached its handler; it returns to pending so
		// the re-walk after resume picks it up again.
		pending := plan.StepPending
		e.storeStepResult(ctx, step.ID, store.StepUpdate{Status: &pending})
		log.Info("step suspended and parked for pause", "order_num", step.OrderNum)
		return execErr
	}

	completed := time.Now().UTC()
	if execErr != nil {
		msg := execErr.Error()
		failed := plan.StepFailed
		e.storeStepResult(ctx, step.ID, store.StepUpdate{Status: &failed, Error: &msg, CompletedAt: &completed})
		e.publish(event.NewStepFinishedEvent(planID, step.ID, step.OrderNum, plan.StepFailed.String(), msg))
		log.Warn("step failed", "order_num", step.OrderNum, "error", execErr)
		return execErr
	}

	done := plan.StepCompleted
	e.storeStepResult(ctx, step.ID, store.StepUpdate{Status: &done, Output: output, CompletedAt: &completed})
	e.publish(event.NewStepFinishedEvent(planID, step.ID, step.OrderNum, plan.StepCompleted.String(), ""))

	// Automatic checkpoint at the new frontier.
	cp := &plan.Checkpoint{OrderNum: step.OrderNum, CreatedAt: completed}
	if err := e.store.UpdatePlanStatus(ctx, planID, plan.StatusRunning, cp); err != nil {
		return err
	}
	if _, err := e.store.RecalculateProgress(ctx, planID); err != nil {
		return err
	}
	log.Debug("step completed", "order_num", step.OrderNum)
	return nil
}

// dispatchStep runs the gate check (for risk-classified steps) and then the
// step's handler.
func (e *Executor) dispatchStep(ctx context.Context, r *run, p *plan.Plan, step *plan.Step) (map[string]any, error) {
	if category, ok := e.classifier.Classify(step); ok && e.gate != nil {
		description := fmt.Sprintf("%s (step %d of plan %q)", step.Name, step.OrderNum, p.Name)
		decision, err := e.authorize(ctx, r, p.OwnerID, p.ID, category, description)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed() {
			return nil, errors.NewStepError(
				fmt.Sprintf("permission denied: %s", decision.Reason), errors.ErrPermissionDenied).
				WithPlanID(p.ID).WithStepID(step.ID).WithStepType(string(step.Type))
		}
	}

	h, err := e.registry.Resolve(step.Type)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, step)
}

// authorize runs the gate check on its own goroutine so the suspended wait
// stays interruptible. An abort cancels the wait, which discards the
// request; a pause abandons the wait and leaves the request pending in the
// registry, where it resolves or expires on its own.
func (e *Executor) authorize(ctx context.Context, r *run, ownerID, planID string, category policy.Category, description string) (approval.Decision, error) {
	type gateResult struct {
		decision approval.Decision
		err      error
	}
	// Detached from the run's lifetime so an abandoned wait is not
	// canceled (cancellation would discard the pending request).
	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	resCh := make(chan gateResult, 1)
	go func() {
		d, err := e.gate.Authorize(waitCtx, ownerID, planID, category, description)
		resCh <- gateResult{decision: d, err: err}
	}()

	select {
	case res := <-resCh:
		cancelWait()
		return res.decision, res.err
	case <-ctx.Done():
		cancelWait()
		res := <-resCh
		return res.decision, res.err
	case <-r.pauseCh:
		go func() {
			<-resCh
			cancelWait()
		}()
		return approval.Decision{}, errStepPaused
	}
}

// -----------------------------------------------------------------------------
// Terminal transitions
// -----------------------------------------------------------------------------

// parkPlan records the paused state at a step boundary.
func (e *Executor) parkPlan(planID string) error {
	ctx := context.Background()
	if err := e.store.UpdatePlanStatus(ctx, planID, plan.StatusPaused, nil); err != nil {
		return err
	}
	e.appendHistory(ctx, planID, plan.EventPaused, nil)
	e.publish(event.NewPlanFinishedEvent(planID, plan.StatusPaused.String(), "paused at step boundary"))
	e.log.Info("plan paused", "plan_id", planID)
	return nil
}

// abortPlan records the aborted state after the run context was canceled.
// It uses a fresh context; the canceled one cannot write.
func (e *Executor) abortPlan(planID string) error {
	ctx := context.Background()
	if err := e.store.UpdatePlanStatus(ctx, planID, plan.StatusAborted, nil); err != nil {
		return err
	}
	e.appendHistory(ctx, planID, plan.EventAborted, nil)
	e.publish(event.NewPlanFinishedEvent(planID, plan.StatusAborted.String(), "aborted"))
	e.log.Info("plan aborted", "plan_id", planID)
	return errors.NewPlanError("plan aborted", errors.ErrCanceled).WithPlanID(planID)
}

// failPlan records the failed state after a step error. The checkpoint laid
// down by the last successful step stays in place for rollback.
func (e *Executor) failPlan(planID string, step *plan.Step, cause error) {
	ctx := context.Background()
	data := map[string]any{"error": cause.Error()}
	if step != nil {
		data["step_id"] = step.ID
		data["order_num"] = step.OrderNum
	}
	if err := e.store.UpdatePlanStatus(ctx, planID, plan.StatusFailed, nil); err != nil {
		e.log.Error("failed to record plan failure", "plan_id", planID, "error", err)
	}
	e.appendHistory(ctx, planID, plan.EventFailed, data)
	e.publish(event.NewPlanFinishedEvent(planID, plan.StatusFailed.String(), cause.Error()))
	e.log.Warn("plan failed", "plan_id", planID, "error", cause)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (e *Executor) isRunning(planID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[planID]
	return ok
}

// storeStepResult writes a step result with a context that survives run
// cancellation, so aborted steps still land in the store.
func (e *Executor) storeStepResult(ctx context.Context, stepID string, update store.StepUpdate) {
	if err := e.store.UpdateStep(context.WithoutCancel(ctx), stepID, update); err != nil {
		e.log.Error("failed to record step result", "step_id", stepID, "error", err)
	}
}

func (e *Executor) appendHistory(ctx context.Context, planID string, eventType plan.HistoryEventType, data map[string]any) {
	if err := e.store.AppendHistory(context.WithoutCancel(ctx), planID, eventType, data); err != nil {
		e.log.Error("failed to append history", "plan_id", planID, "event", eventType.String(), "error", err)
	}
}

func (e *Executor) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// lastCompletedOrder returns the highest order number among completed
// steps, or zero when none completed.
func lastCompletedOrder(steps []plan.Step) int {
	last := 0
	for _, s := range steps {
		if s.Status == plan.StepCompleted && s.OrderNum > last {
			last = s.OrderNum
		}
	}
	return last
}

// nextPendingOrder returns the order number of the first non-terminal step,
// or zero when every step is terminal.
func nextPendingOrder(steps []plan.Step) int {
	for _, s := range steps {
		if s.Status != plan.StepCompleted && s.Status != plan.StepSkipped {
			return s.OrderNum
		}
	}
	return 0
}
