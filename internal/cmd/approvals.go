package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage pending approval requests",
	Long: `Commands for listing and resolving pending approval requests.

Approval requests live in the process that is executing the plan.
During 'conductor plan execute' they are answered at the interactive
prompt; these commands act on the approval registry of this process
and are mainly useful for embedding and scripting.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  makeResolveCmd(true),
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  makeResolveCmd(false),
}

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	requests := eng.gate.Registry().List()
	if len(requests) == 0 {
		fmt.Println("No pending approval requests.")
		return nil
	}

	fmt.Printf("%-36s  %-12s  %-18s  %-8s  %s\n", "ID", "USER", "CATEGORY", "EXPIRES", "DESCRIPTION")
	for _, req := range requests {
		fmt.Printf("%-36s  %-12s  %-18s  %-8s  %s\n",
			req.ID,
			req.UserID,
			req.Category,
			time.Until(req.ExpiresAt).Round(time.Second),
			req.Description)
	}
	return nil
}

func makeResolveCmd(approved bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if !eng.gate.Registry().Resolve(args[0], approved) {
			return fmt.Errorf("no pending approval request %s", args[0])
		}
		if approved {
			fmt.Printf("Approved %s\n", args[0])
		} else {
			fmt.Printf("Rejected %s\n", args[0])
		}
		return nil
	}
}
