package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jszach/conductor/internal/plan"
	"github.com/jszach/conductor/internal/store"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plans",
	Long:  `Commands for creating, inspecting, and controlling plans.`,
}

var planCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Create a plan from a JSON file",
	Long: `Create a plan from a JSON definition produced by a planning agent.

The file holds a single object:

  {
    "name": "nightly report",
    "goal": "generate and publish the nightly report",
    "steps": [
      {"order_num": 1, "type": "tool_call", "name": "fetch", "input": {"tool": "http_get"}},
      {"order_num": 2, "type": "code_execution", "name": "render", "input": {"language": "python", "code": "..."}}
    ]
  }

The plan is created in the pending state and assigned to the acting
user. Use 'conductor plan execute <id>' to run it.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanCreate,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	RunE:  runPlanList,
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan's full state",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planUpdateCmd = &cobra.Command{
	Use:   "update <plan-id>",
	Short: "Update a plan's name, goal, or trigger",
	Long: `Update a plan's metadata. Only the given flags change; status and
checkpoint are managed by the executor. Running plans cannot be
updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanUpdate,
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Delete a plan and all its steps and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanDelete,
}

var planStepsCmd = &cobra.Command{
	Use:   "steps <plan-id>",
	Short: "List a plan's steps in execution order",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanSteps,
}

var planHistoryCmd = &cobra.Command{
	Use:   "history <plan-id>",
	Short: "Show a plan's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanHistory,
}

var planStepCmd = &cobra.Command{
	Use:   "step",
	Short: "Inspect and edit individual steps",
}

var planStepShowCmd = &cobra.Command{
	Use:   "show <step-id>",
	Short: "Show a step's full state",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanStepShow,
}

var planStepUpdateCmd = &cobra.Command{
	Use:   "update <step-id>",
	Short: "Update a step's input",
	Long: `Replace a pending step's input with the JSON object given via
--input. Steps that have already started keep their recorded state.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanStepUpdate,
}

var (
	listStatus  string
	listGoal    string
	listTrigger string
	listLimit   int
	listOffset  int

	updateName    string
	updateGoal    string
	updateTrigger string

	stepInput string
)

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planUpdateCmd)
	planCmd.AddCommand(planDeleteCmd)
	planCmd.AddCommand(planStepsCmd)
	planCmd.AddCommand(planHistoryCmd)
	planCmd.AddCommand(planStepCmd)
	planStepCmd.AddCommand(planStepShowCmd)
	planStepCmd.AddCommand(planStepUpdateCmd)

	planListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, running, paused, completed, failed, aborted)")
	planListCmd.Flags().StringVar(&listGoal, "goal", "", "filter by goal substring")
	planListCmd.Flags().StringVar(&listTrigger, "trigger", "", "filter by trigger")
	planListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of plans to list")
	planListCmd.Flags().IntVar(&listOffset, "offset", 0, "number of plans to skip")

	planUpdateCmd.Flags().StringVar(&updateName, "name", "", "new plan name")
	planUpdateCmd.Flags().StringVar(&updateGoal, "goal", "", "new plan goal")
	planUpdateCmd.Flags().StringVar(&updateTrigger, "trigger", "", "new plan trigger")

	planStepUpdateCmd.Flags().StringVar(&stepInput, "input", "", "replacement step input as a JSON object")
}

// planFile is the JSON shape accepted by 'plan create'.
type planFile struct {
	Name    string `json:"name"`
	Goal    string `json:"goal"`
	Trigger string `json:"trigger"`
	Steps   []struct {
		OrderNum int            `json:"order_num"`
		Type     string         `json:"type"`
		Name     string         `json:"name"`
		Input    map[string]any `json:"input"`
	} `json:"steps"`
}

func runPlanCreate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse plan file: %w", err)
	}

	p := &plan.Plan{
		OwnerID: currentUser(),
		Name:    pf.Name,
		Goal:    pf.Goal,
		Trigger: pf.Trigger,
	}
	steps := make([]plan.Step, len(pf.Steps))
	for i, s := range pf.Steps {
		steps[i] = plan.Step{
			OrderNum: s.OrderNum,
			Type:     plan.StepType(s.Type),
			Name:     s.Name,
			Input:    s.Input,
		}
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.store.CreatePlan(context.Background(), p, steps); err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	fmt.Printf("Created plan %s (%d steps)\n", p.ID, len(steps))
	return nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	plans, err := eng.store.ListPlans(context.Background(), store.ListFilter{
		Status:  plan.Status(listStatus),
		Goal:    listGoal,
		Trigger: listTrigger,
		Limit:   listLimit,
		Offset:  listOffset,
	})
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}

	if len(plans) == 0 {
		fmt.Println("No plans found.")
		return nil
	}

	fmt.Printf("%-36s  %-10s  %4s  %-19s  %s\n", "ID", "STATUS", "PROG", "CREATED", "NAME")
	for _, p := range plans {
		fmt.Printf("%-36s  %s  %3d%%  %s  %s\n",
			p.ID,
			statusStyle(p.Status).Render(fmt.Sprintf("%-10s", p.Status)),
			p.Progress,
			p.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			p.Name)
	}
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	p, err := eng.store.GetPlan(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", p.ID)
	fmt.Printf("Name:     %s\n", p.Name)
	fmt.Printf("Owner:    %s\n", p.OwnerID)
	fmt.Printf("Status:   %s\n", statusStyle(p.Status).Render(p.Status.String()))
	fmt.Printf("Progress: %d%%\n", p.Progress)
	fmt.Printf("Created:  %s\n", p.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", p.UpdatedAt.Local().Format(time.RFC3339))
	if p.Goal != "" {
		fmt.Printf("Goal:     %s\n", p.Goal)
	}
	if p.Trigger != "" {
		fmt.Printf("Trigger:  %s\n", p.Trigger)
	}
	if p.Checkpoint != nil {
		fmt.Printf("Checkpoint: step %d at %s\n",
			p.Checkpoint.OrderNum, p.Checkpoint.CreatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

func runPlanUpdate(cmd *cobra.Command, args []string) error {
	update := store.PlanUpdate{}
	if cmd.Flags().Changed("name") {
		update.Name = &updateName
	}
	if cmd.Flags().Changed("goal") {
		update.Goal = &updateGoal
	}
	if cmd.Flags().Changed("trigger") {
		update.Trigger = &updateTrigger
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.store.UpdatePlan(context.Background(), args[0], update); err != nil {
		return err
	}
	fmt.Printf("Updated plan %s\n", args[0])
	return nil
}

func runPlanDelete(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.store.DeletePlan(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted plan %s\n", args[0])
	return nil
}

func runPlanSteps(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	steps, err := eng.store.GetSteps(context.Background(), args[0])
	if err != nil {
		return err
	}

	if len(steps) == 0 {
		fmt.Println("No steps found.")
		return nil
	}

	fmt.Printf("%4s  %-10s  %-14s  %s\n", "#", "STATUS", "TYPE", "NAME")
	for _, s := range steps {
		line := fmt.Sprintf("%4d  %s  %-14s  %s",
			s.OrderNum,
			stepStatusStyle(s.Status).Render(fmt.Sprintf("%-10s", s.Status)),
			s.Type,
			s.Name)
		if s.Error != "" {
			line += "  (" + s.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runPlanStepShow(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	st, err := eng.store.GetStep(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", st.ID)
	fmt.Printf("Plan:     %s\n", st.PlanID)
	fmt.Printf("Order:    %d\n", st.OrderNum)
	fmt.Printf("Type:     %s\n", st.Type)
	fmt.Printf("Name:     %s\n", st.Name)
	fmt.Printf("Status:   %s\n", stepStatusStyle(st.Status).Render(st.Status.String()))
	if st.StartedAt != nil {
		fmt.Printf("Started:  %s\n", st.StartedAt.Local().Format(time.RFC3339))
	}
	if st.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", st.CompletedAt.Local().Format(time.RFC3339))
	}
	if st.Error != "" {
		fmt.Printf("Error:    %s\n", st.Error)
	}
	if len(st.Input) > 0 {
		data, _ := json.MarshalIndent(st.Input, "", "  ")
		fmt.Printf("Input:    %s\n", data)
	}
	if len(st.Output) > 0 {
		data, _ := json.MarshalIndent(st.Output, "", "  ")
		fmt.Printf("Output:   %s\n", data)
	}
	return nil
}

func runPlanStepUpdate(cmd *cobra.Command, args []string) error {
	if stepInput == "" {
		return fmt.Errorf("--input is required")
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(stepInput), &input); err != nil {
		return fmt.Errorf("failed to parse --input: %w", err)
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	st, err := eng.store.GetStep(ctx, args[0])
	if err != nil {
		return err
	}
	if st.Status != plan.StepPending {
		return fmt.Errorf("step %s is %s; only pending steps can be edited", st.ID, st.Status)
	}

	if err := eng.store.UpdateStep(ctx, st.ID, store.StepUpdate{Input: input}); err != nil {
		return err
	}
	fmt.Printf("Updated step %s\n", st.ID)
	return nil
}

func runPlanHistory(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	events, err := eng.store.ListHistory(context.Background(), args[0])
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No history recorded.")
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-12s", ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Event)
		if len(ev.Data) > 0 {
			parts := make([]string, 0, len(ev.Data))
			for k, v := range ev.Data {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			line += "  " + strings.Join(parts, " ")
		}
		fmt.Println(line)
	}
	return nil
}
