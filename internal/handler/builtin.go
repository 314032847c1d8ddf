package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/logging"
	"github.com/jszach/conductor/internal/plan"
	"github.com/jszach/conductor/internal/sandbox"
)

// -----------------------------------------------------------------------------
// Tool calls
// -----------------------------------------------------------------------------

// ToolFunc is one invocable tool. Input is the step's input payload minus
// the "tool" discriminator.
type ToolFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// ToolCallHandler executes tool_call steps by dispatching to a named tool.
type ToolCallHandler struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
	log   *logging.Logger
}

// NewToolCallHandler creates an empty tool dispatcher. A nil logger
// disables logging.
func NewToolCallHandler(log *logging.Logger) *ToolCallHandler {
	if log == nil {
		log = logging.NopLogger()
	}
	return &ToolCallHandler{
		tools: make(map[string]ToolFunc),
		log:   log.WithComponent("handler.tool_call"),
	}
}

// Register adds or replaces a tool. Names are case-insensitive.
func (h *ToolCallHandler) Register(name string, fn ToolFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[strings.ToLower(name)] = fn
}

// Tools returns the registered tool names, sorted.
func (h *ToolCallHandler) Tools() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.tools))
	for name := range h.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches to the tool named in the step input.
func (h *ToolCallHandler) Execute(ctx context.Context, step *plan.Step) (map[string]any, error) {
	name := step.InputString("tool", "")
	if name == "" {
		return nil, errors.NewStepError("tool_call step has no tool name", errors.ErrInvalidInput).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}

	h.mu.RLock()
	fn, ok := h.tools[strings.ToLower(name)]
	h.mu.RUnlock()
	if !ok {
		return nil, errors.NewStepError(fmt.Sprintf("unknown tool %q", name), errors.ErrInvalidInput).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}

	input := make(map[string]any, len(step.Input))
	for k, v := range step.Input {
		if k == "tool" {
			continue
		}
		input[k] = v
	}

	h.log.Debug("invoking tool", "tool", name, "step_id", step.ID)
	output, err := fn(ctx, input)
	if err != nil {
		return nil, errors.NewStepError(fmt.Sprintf("tool %q failed", name), err).
			WithStepID(step.ID).WithStepType(string(step.Type)).WithRetryable(true)
	}
	return output, nil
}

// -----------------------------------------------------------------------------
// Code execution
// -----------------------------------------------------------------------------

// CodeExecutionHandler runs code_execution steps in a fresh sandbox
// environment per step.
type CodeExecutionHandler struct {
	runner sandbox.Runner
	log    *logging.Logger
}

// NewCodeExecutionHandler creates a handler over the given runner.
func NewCodeExecutionHandler(runner sandbox.Runner, log *logging.Logger) *CodeExecutionHandler {
	if log == nil {
		log = logging.NopLogger()
	}
	return &CodeExecutionHandler{
		runner: runner,
		log:    log.WithComponent("handler.code_execution"),
	}
}

// Execute provisions a container, runs the step's code, and tears the
// container down. A non-success execution fails the step with the captured
// stderr.
func (h *CodeExecutionHandler) Execute(ctx context.Context, step *plan.Step) (map[string]any, error) {
	language := step.InputString("language", "")
	code := step.InputString("code", "")
	if language == "" || code == "" {
		return nil, errors.NewStepError("code_execution step requires language and code", errors.ErrInvalidInput).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}

	containerID, err := h.runner.CreateContainer(ctx, sandbox.ContainerSpec{
		WorkspaceID: step.PlanID,
		Language:    language,
	})
	if err != nil {
		return nil, errors.NewStepError("create execution environment", err).
			WithStepID(step.ID).WithStepType(string(step.Type)).WithRetryable(true)
	}
	defer func() {
		// Teardown uses a fresh context so an aborted step still cleans up.
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.runner.StopContainer(stopCtx, containerID); err != nil {
			h.log.Warn("failed to stop container", "container_id", containerID, "error", err)
		}
	}()

	result, err := h.runner.ExecuteInContainer(ctx, containerID, language, code, execTimeout(step))
	if err != nil {
		return nil, errors.NewStepError("execute code", err).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}

	output := map[string]any{
		"status":       result.Status.String(),
		"stdout":       result.Stdout,
		"stderr":       result.Stderr,
		"exit_code":    result.ExitCode,
		"exec_time_ms": result.ExecutionTime.Milliseconds(),
	}

	switch result.Status {
	case sandbox.ExecSuccess:
		return output, nil
	case sandbox.ExecCanceled:
		return nil, errors.NewStepError("execution canceled", errors.ErrCanceled).
			WithStepID(step.ID).WithStepType(string(step.Type))
	case sandbox.ExecTimeout:
		return nil, errors.NewStepError("execution timed out", errors.ErrExecutionFailed).
			WithStepID(step.ID).WithStepType(string(step.Type)).WithRetryable(true)
	default:
		msg := strings.TrimSpace(result.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return nil, errors.NewStepError(fmt.Sprintf("execution failed: %s", msg), errors.ErrExecutionFailed).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}
}

// execTimeout reads an optional per-step "timeout_ms" input. Zero means the
// runner's default. JSON decoding yields float64 for numbers; ints appear in
// plans built in code.
func execTimeout(step *plan.Step) time.Duration {
	switch v := step.Input["timeout_ms"].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	default:
		return 0
	}
}

// -----------------------------------------------------------------------------
// Wait
// -----------------------------------------------------------------------------

// WaitHandler pauses execution for the step's configured duration.
type WaitHandler struct{}

// NewWaitHandler creates a wait handler.
func NewWaitHandler() *WaitHandler {
	return &WaitHandler{}
}

// Execute sleeps for the duration named in the step input. The duration is
// either a Go duration string ("1m30s") or a number of seconds.
func (h *WaitHandler) Execute(ctx context.Context, step *plan.Step) (map[string]any, error) {
	d, err := waitDuration(step)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"waited": d.String()}, nil
	case <-ctx.Done():
		return nil, errors.NewStepError("wait canceled", errors.ErrCanceled).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}
}

func waitDuration(step *plan.Step) (time.Duration, error) {
	if step.Input == nil {
		return 0, missingDuration(step)
	}
	switch v := step.Input["duration"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return 0, errors.NewStepError(fmt.Sprintf("invalid wait duration %q", v), errors.ErrInvalidInput).
				WithStepID(step.ID).WithStepType(string(step.Type))
		}
		return d, nil
	case float64:
		// JSON numbers decode as float64.
		if v < 0 {
			return 0, missingDuration(step)
		}
		return time.Duration(v * float64(time.Second)), nil
	case int:
		if v < 0 {
			return 0, missingDuration(step)
		}
		return time.Duration(v) * time.Second, nil
	default:
		return 0, missingDuration(step)
	}
}

func missingDuration(step *plan.Step) error {
	return errors.NewStepError("wait step requires a duration", errors.ErrInvalidInput).
		WithStepID(step.ID).WithStepType(string(step.Type))
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

// MessageHandler records an informational message from the agent. The
// message passes through to the step output unchanged.
type MessageHandler struct {
	log *logging.Logger
}

// NewMessageHandler creates a message handler. A nil logger disables
// logging.
func NewMessageHandler(log *logging.Logger) *MessageHandler {
	if log == nil {
		log = logging.NopLogger()
	}
	return &MessageHandler{log: log.WithComponent("handler.message")}
}

// Execute records the step's message text.
func (h *MessageHandler) Execute(ctx context.Context, step *plan.Step) (map[string]any, error) {
	text := step.InputString("text", "")
	if text == "" {
		return nil, errors.NewStepError("message step has no text", errors.ErrInvalidInput).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}
	h.log.Info("plan message", "plan_id", step.PlanID, "step_id", step.ID, "text", text)
	return map[string]any{"text": text}, nil
}

// -----------------------------------------------------------------------------
// Sub-plans
// -----------------------------------------------------------------------------

// PlanRunner re-enters the executor for nested plans. Implemented by the
// executor; declared here to keep the dependency one-directional.
type PlanRunner interface {
	ExecutePlan(ctx context.Context, planID string) error
}

// SubPlanHandler executes sub_plan steps by running the referenced plan to
// completion.
type SubPlanHandler struct {
	runner PlanRunner
}

// NewSubPlanHandler creates a sub-plan handler over the given runner.
func NewSubPlanHandler(runner PlanRunner) *SubPlanHandler {
	return &SubPlanHandler{runner: runner}
}

// Execute runs the referenced plan and succeeds only if it completes.
func (h *SubPlanHandler) Execute(ctx context.Context, step *plan.Step) (map[string]any, error) {
	planID := step.InputString("plan_id", "")
	if planID == "" {
		return nil, errors.NewStepError("sub_plan step has no plan_id", errors.ErrInvalidInput).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}
	if planID == step.PlanID {
		return nil, errors.NewStepError("sub_plan step references its own plan", errors.ErrInvalidInput).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}

	if err := h.runner.ExecutePlan(ctx, planID); err != nil {
		return nil, errors.NewStepError(fmt.Sprintf("sub-plan %s failed", planID), err).
			WithStepID(step.ID).WithStepType(string(step.Type))
	}
	return map[string]any{"plan_id": planID}, nil
}
