package cmd

import (
	"context"
	"fmt"

	"github.com/jszach/conductor/internal/config"
	"github.com/jszach/conductor/internal/plan"
	"github.com/jszach/conductor/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long:  `Show a summary of plans by state and any currently running plans.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	plans, err := eng.store.ListPlans(ctx, store.ListFilter{})
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}

	counts := make(map[plan.Status]int)
	for _, p := range plans {
		counts[p.Status]++
	}

	fmt.Println(headerStyle.Render("Conductor status"))
	fmt.Printf("  Plans: %d total\n", len(plans))
	for _, s := range []plan.Status{
		plan.StatusPending, plan.StatusRunning, plan.StatusPaused,
		plan.StatusCompleted, plan.StatusFailed, plan.StatusAborted,
	} {
		if counts[s] == 0 {
			continue
		}
		fmt.Printf("    %s %d\n", statusStyle(s).Render(fmt.Sprintf("%-10s", s)), counts[s])
	}

	if running := eng.exec.RunningPlans(); len(running) > 0 {
		fmt.Println("  Running in this process:")
		for _, id := range running {
			fmt.Printf("    %s\n", id)
		}
	}

	pending := eng.gate.Registry().Len()
	if pending > 0 {
		fmt.Printf("  Pending approvals: %d\n", pending)
	}

	fmt.Printf("  %s\n", mutedStyle.Render("storage: "+eng.cfg.Storage.ResolveStoragePath(config.DataDir())))
	return nil
}
