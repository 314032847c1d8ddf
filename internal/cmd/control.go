package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jszach/conductor/internal/config"
)

var planExecuteCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Execute a pending plan",
	Long: `Execute a pending plan in the foreground until it reaches a terminal
state. Steps in prompted risk categories pause at an interactive
approval prompt. Ctrl-C aborts the run gracefully.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanExecute,
}

var planResumeCmd = &cobra.Command{
	Use:   "resume <plan-id>",
	Short: "Resume a paused plan",
	Long: `Resume a paused plan from the step after its last completed one,
running in the foreground like 'plan execute'.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanResume,
}

var planPauseCmd = &cobra.Command{
	Use:   "pause <plan-id>",
	Short: "Pause a running plan",
	Long: `Pause a plan running in this process. The in-flight step finishes
first; the plan parks as paused at the next step boundary.

Plans running in another process cannot be reached from here.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanPause,
}

var planAbortCmd = &cobra.Command{
	Use:   "abort <plan-id>",
	Short: "Abort a running or paused plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanAbort,
}

var planCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <plan-id>",
	Short: "Record an explicit checkpoint for a plan",
	Long: `Record a checkpoint at the plan's last completed step. Optional
continuation state is attached with --data as a JSON object.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanCheckpoint,
}

var planRollbackCmd = &cobra.Command{
	Use:   "rollback <plan-id>",
	Short: "Roll a failed plan back to its checkpoint",
	Long: `Reset a failed plan to its last checkpoint: steps after the
checkpoint return to pending and the plan becomes pending again.
Run 'plan execute' afterwards to retry.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanRollback,
}

var checkpointData string

func init() {
	planCmd.AddCommand(planExecuteCmd)
	planCmd.AddCommand(planResumeCmd)
	planCmd.AddCommand(planPauseCmd)
	planCmd.AddCommand(planAbortCmd)
	planCmd.AddCommand(planCheckpointCmd)
	planCmd.AddCommand(planRollbackCmd)

	planCheckpointCmd.Flags().StringVar(&checkpointData, "data", "", "continuation state as a JSON object")
}

// runForeground drives a plan to a terminal or parked state, with an
// interactive approval prompt and Ctrl-C mapped to a graceful abort.
func runForeground(planID string, start func(ctx context.Context, eng *engine) error) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	prompter := newApprovalPrompter(eng.gate.Registry(), os.Stdin, os.Stdout)
	subID := eng.bus.Subscribe("approval.requested", prompter.Handle)
	defer eng.bus.Unsubscribe(subID)

	// Pick up config edits while the run is in flight. Log level and
	// approval TTL can change without restarting the plan.
	if file := viper.ConfigFileUsed(); file != "" {
		watcher, err := config.NewWatcher(file, func(cfg *config.Config) {
			eng.log.SetLevel(cfg.Logging.Level)
			eng.gate.SetTTL(cfg.Approval.TTL())
		}, eng.log)
		if err != nil {
			eng.log.Warn("config watcher unavailable", "file", file, "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	ctx := context.Background()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	finished := make(chan struct{})
	abortDone := make(chan struct{})
	go func() {
		defer close(abortDone)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nAborting...")
			_ = eng.exec.Abort(ctx, planID)
		case <-finished:
		}
	}()

	runErr := start(ctx, eng)

	signal.Stop(sigCh)
	close(finished)
	<-abortDone

	p, err := eng.store.GetPlan(ctx, planID)
	if err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	fmt.Printf("Plan %s: %s (%d%%)\n", p.ID, statusStyle(p.Status).Render(p.Status.String()), p.Progress)
	return runErr
}

func runPlanExecute(cmd *cobra.Command, args []string) error {
	return runForeground(args[0], func(ctx context.Context, eng *engine) error {
		return eng.exec.Execute(ctx, args[0])
	})
}

func runPlanResume(cmd *cobra.Command, args []string) error {
	return runForeground(args[0], func(ctx context.Context, eng *engine) error {
		return eng.exec.Resume(ctx, args[0])
	})
}

func runPlanPause(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.exec.Pause(args[0]); err != nil {
		return err
	}
	fmt.Printf("Pausing plan %s at the next step boundary\n", args[0])
	return nil
}

func runPlanAbort(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.exec.Abort(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Aborted plan %s\n", args[0])
	return nil
}

func runPlanCheckpoint(cmd *cobra.Command, args []string) error {
	var data map[string]any
	if checkpointData != "" {
		if err := json.Unmarshal([]byte(checkpointData), &data); err != nil {
			return fmt.Errorf("failed to parse --data: %w", err)
		}
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	cp, err := eng.exec.Checkpoint(context.Background(), args[0], data)
	if err != nil {
		return err
	}
	fmt.Printf("Checkpointed plan %s at step %d\n", args[0], cp.OrderNum)
	return nil
}

func runPlanRollback(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.exec.Rollback(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Rolled back plan %s; run 'conductor plan execute %s' to retry\n", args[0], args[0])
	return nil
}
