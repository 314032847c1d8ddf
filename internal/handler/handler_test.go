package handler

import (
	"context"
	"testing"
	"time"

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/plan"
	"github.com/jszach/conductor/internal/sandbox"
)

func toolStep(tool string, extra map[string]any) *plan.Step {
	input := map[string]any{"tool": tool}
	for k, v := range extra {
		input[k] = v
	}
	return &plan.Step{
		ID:     "step-1",
		PlanID: "plan-1",
		Type:   plan.TypeToolCall,
		Name:   "call " + tool,
		Input:  input,
	}
}

func TestRegistry_Resolve(t *testing.T) {
	echo := HandlerFunc(func(ctx context.Context, step *plan.Step) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	reg := NewRegistry(map[plan.StepType]Handler{
		plan.TypeMessage: echo,
	})

	h, err := reg.Resolve(plan.TypeMessage)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if h == nil {
		t.Fatal("Resolve() returned nil handler")
	}

	if _, err := reg.Resolve(plan.TypeToolCall); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Resolve(unregistered) error = %v, want ErrInvalidInput", err)
	}
}

func TestToolCallHandler(t *testing.T) {
	h := NewToolCallHandler(nil)
	h.Register("Fetch_Page", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		url, _ := input["url"].(string)
		if _, hasTool := input["tool"]; hasTool {
			t.Error("tool discriminator leaked into tool input")
		}
		return map[string]any{"url": url, "body": "<html>"}, nil
	})

	t.Run("dispatches case-insensitively", func(t *testing.T) {
		out, err := h.Execute(context.Background(), toolStep("fetch_page", map[string]any{"url": "https://example.com"}))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if out["url"] != "https://example.com" {
			t.Errorf("output = %v, want url passed through", out)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := h.Execute(context.Background(), toolStep("rm_rf", nil))
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Execute() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("missing tool name", func(t *testing.T) {
		step := toolStep("x", nil)
		delete(step.Input, "tool")
		_, err := h.Execute(context.Background(), step)
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Execute() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("tool failure is retryable", func(t *testing.T) {
		h.Register("flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, errors.New("connection reset")
		})
		_, err := h.Execute(context.Background(), toolStep("flaky", nil))
		if err == nil {
			t.Fatal("Execute() error = nil, want failure")
		}
		if !errors.IsRetryable(err) {
			t.Errorf("Execute() error = %v, want retryable", err)
		}
	})
}

func TestCodeExecutionHandler(t *testing.T) {
	runner := sandbox.NewLocalRunner(sandbox.LocalConfig{WorkDir: t.TempDir()}, nil)
	h := NewCodeExecutionHandler(runner, nil)

	t.Run("success", func(t *testing.T) {
		out, err := h.Execute(context.Background(), &plan.Step{
			ID:   "step-1",
			Type: plan.TypeCodeExecution,
			Input: map[string]any{
				"language": "shell",
				"code":     "echo executed",
			},
		})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if out["exit_code"] != 0 {
			t.Errorf("exit_code = %v, want 0", out["exit_code"])
		}
		if stdout, _ := out["stdout"].(string); stdout != "executed\n" {
			t.Errorf("stdout = %q, want executed", stdout)
		}
	})

	t.Run("non-zero exit fails the step", func(t *testing.T) {
		_, err := h.Execute(context.Background(), &plan.Step{
			ID:   "step-2",
			Type: plan.TypeCodeExecution,
			Input: map[string]any{
				"language": "shell",
				"code":     "echo broken >&2; exit 1",
			},
		})
		if !errors.Is(err, errors.ErrExecutionFailed) {
			t.Errorf("Execute() error = %v, want ErrExecutionFailed", err)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := h.Execute(context.Background(), &plan.Step{
			ID:    "step-3",
			Type:  plan.TypeCodeExecution,
			Input: map[string]any{"language": "shell"},
		})
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Execute() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("per-step timeout", func(t *testing.T) {
		_, err := h.Execute(context.Background(), &plan.Step{
			ID:   "step-5",
			Type: plan.TypeCodeExecution,
			Input: map[string]any{
				"language":   "shell",
				"code":       "sleep 10",
				"timeout_ms": float64(100),
			},
		})
		if !errors.Is(err, errors.ErrExecutionFailed) {
			t.Errorf("Execute() error = %v, want ErrExecutionFailed", err)
		}
		if !errors.IsRetryable(err) {
			t.Errorf("Execute() error = %v, want retryable timeout", err)
		}
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()
		_, err := h.Execute(ctx, &plan.Step{
			ID:   "step-4",
			Type: plan.TypeCodeExecution,
			Input: map[string]any{
				"language": "shell",
				"code":     "sleep 10",
			},
		})
		if !errors.Is(err, errors.ErrCanceled) {
			t.Errorf("Execute() error = %v, want ErrCanceled", err)
		}
	})
}

func TestWaitHandler(t *testing.T) {
	h := NewWaitHandler()

	tests := []struct {
		name    string
		input   map[string]any
		wantErr bool
	}{
		{name: "duration string", input: map[string]any{"duration": "10ms"}},
		{name: "seconds as float", input: map[string]any{"duration": 0.01}},
		{name: "missing duration", input: nil, wantErr: true},
		{name: "garbage duration", input: map[string]any{"duration": "soon"}, wantErr: true},
		{name: "negative duration", input: map[string]any{"duration": "-1s"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), &plan.Step{ID: "w", Type: plan.TypeWait, Input: tt.input})
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidInput) {
					t.Errorf("Execute() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Execute() error = %v", err)
			}
		})
	}

	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		_, err := h.Execute(ctx, &plan.Step{ID: "w", Type: plan.TypeWait, Input: map[string]any{"duration": "30s"}})
		if !errors.Is(err, errors.ErrCanceled) {
			t.Errorf("Execute() error = %v, want ErrCanceled", err)
		}
		if time.Since(start) > 5*time.Second {
			t.Error("wait did not return promptly on cancellation")
		}
	})
}

func TestMessageHandler(t *testing.T) {
	h := NewMessageHandler(nil)

	out, err := h.Execute(context.Background(), &plan.Step{
		ID:    "m",
		Type:  plan.TypeMessage,
		Input: map[string]any{"text": "analysis complete"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out["text"] != "analysis complete" {
		t.Errorf("output = %v, want text passed through", out)
	}

	if _, err := h.Execute(context.Background(), &plan.Step{ID: "m", Type: plan.TypeMessage}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Execute(no text) error = %v, want ErrInvalidInput", err)
	}
}

type fakePlanRunner struct {
	executed []string
	err      error
}

func (f *fakePlanRunner) ExecutePlan(ctx context.Context, planID string) error {
	f.executed = append(f.executed, planID)
	return f.err
}

func TestSubPlanHandler(t *testing.T) {
	t.Run("runs the referenced plan", func(t *testing.T) {
		runner := &fakePlanRunner{}
		h := NewSubPlanHandler(runner)

		out, err := h.Execute(context.Background(), &plan.Step{
			ID:     "s",
			PlanID: "parent",
			Type:   plan.TypeSubPlan,
			Input:  map[string]any{"plan_id": "child"},
		})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if len(runner.executed) != 1 || runner.executed[0] != "child" {
			t.Errorf("executed = %v, want [child]", runner.executed)
		}
		if out["plan_id"] != "child" {
			t.Errorf("output = %v, want plan_id", out)
		}
	})

	t.Run("rejects self-reference", func(t *testing.T) {
		h := NewSubPlanHandler(&fakePlanRunner{})
		_, err := h.Execute(context.Background(), &plan.Step{
			ID:     "s",
			PlanID: "parent",
			Type:   plan.TypeSubPlan,
			Input:  map[string]any{"plan_id": "parent"},
		})
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Execute() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("propagates sub-plan failure", func(t *testing.T) {
		h := NewSubPlanHandler(&fakePlanRunner{err: errors.ErrExecutionFailed})
		_, err := h.Execute(context.Background(), &plan.Step{
			ID:     "s",
			PlanID: "parent",
			Type:   plan.TypeSubPlan,
			Input:  map[string]any{"plan_id": "child"},
		})
		if !errors.Is(err, errors.ErrExecutionFailed) {
			t.Errorf("Execute() error = %v, want ErrExecutionFailed", err)
		}
	})
}
