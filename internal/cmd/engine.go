package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jszach/conductor/internal/approval"
	"github.com/jszach/conductor/internal/config"
	"github.com/jszach/conductor/internal/event"
	"github.com/jszach/conductor/internal/executor"
	"github.com/jszach/conductor/internal/handler"
	"github.com/jszach/conductor/internal/logging"
	"github.com/jszach/conductor/internal/plan"
	"github.com/jszach/conductor/internal/policy"
	"github.com/jszach/conductor/internal/sandbox"
	"github.com/jszach/conductor/internal/store"
)

// engine bundles the wired components a command needs. Each CLI
// invocation builds one engine, uses it, and closes it.
type engine struct {
	cfg      *config.Config
	log      *logging.Logger
	store    store.Store
	policies policy.Store
	bus      *event.Bus
	gate     *approval.Gate
	exec     *executor.Executor

	sweepCancel context.CancelFunc
}

// runner is a late-binding plan runner so the sub-plan handler can be
// registered before the executor exists.
type runner struct {
	exec *executor.Executor
}

func (r *runner) ExecutePlan(ctx context.Context, planID string) error {
	return r.exec.ExecutePlan(ctx, planID)
}

// buildEngine loads configuration and wires up the full execution
// stack: store, policies, approval gate, sandbox, handlers, executor.
func buildEngine() (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	dataDir := config.DataDir()

	logFile := ""
	if cfg.Logging.Enabled {
		logFile = cfg.Logging.ResolveLogFile(dataDir)
	}
	log, err := logging.NewLogger(logFile, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	var st store.Store
	if path := cfg.Storage.ResolveStoragePath(dataDir); path == ":memory:" {
		st = store.NewMemoryStore()
	} else {
		st, err = store.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}

	policies, err := policy.NewFileStore(filepath.Join(dataDir, "policies"))
	if err != nil {
		return nil, fmt.Errorf("failed to open policy store: %w", err)
	}

	bus := event.NewBus()
	registry := approval.NewRegistry()
	gate := approval.NewGate(policies, registry, bus, log, cfg.Approval.TTL())

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go registry.Sweep(sweepCtx, cfg.Approval.SweepInterval())

	sandboxLog := log.WithComponent("sandbox")
	if policy.Mode(cfg.Sandbox.Mode) == policy.ModeDocker {
		// The container backend is not available in this build.
		sandboxLog.Warn("docker sandbox mode not available, using local runner")
	}
	sbx := sandbox.NewLocalRunner(sandbox.LocalConfig{
		WorkDir:     cfg.Sandbox.WorkDir,
		ExecTimeout: cfg.Sandbox.ExecTimeout(),
	}, sandboxLog)

	sub := &runner{}
	handlers := handler.NewRegistry(map[plan.StepType]handler.Handler{
		plan.TypeToolCall:      handler.NewToolCallHandler(log.WithComponent("handler")),
		plan.TypeCodeExecution: handler.NewCodeExecutionHandler(sbx, log.WithComponent("handler")),
		plan.TypeWait:          handler.NewWaitHandler(),
		plan.TypeMessage:       handler.NewMessageHandler(log.WithComponent("handler")),
		plan.TypeSubPlan:       handler.NewSubPlanHandler(sub),
	})

	exec := executor.New(st, handlers, gate, plan.NewClassifier(), bus, log, executor.Options{
		MaxConcurrentPlans: cfg.Executor.MaxConcurrentPlans,
	})
	sub.exec = exec

	return &engine{
		cfg:         cfg,
		log:         log,
		store:       st,
		policies:    policies,
		bus:         bus,
		gate:        gate,
		exec:        exec,
		sweepCancel: sweepCancel,
	}, nil
}

// Close releases the engine's resources.
func (e *engine) Close() error {
	e.sweepCancel()
	err := e.store.Close()
	_ = e.log.Close()
	return err
}
