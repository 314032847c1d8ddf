package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jszach/conductor/internal/policy"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage permission policies",
	Long: `Commands for inspecting and editing a user's permission policy.
The policy decides per risk category whether steps run unattended
(allowed), are refused (blocked), or wait for interactive approval
(prompt). The acting user is selected with the global --user flag.`,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the user's policy",
	RunE:  runPolicyShow,
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the user's policy",
	Long: `Update one or more fields of the user's policy:

  conductor policy set --category execute_shell=allowed
  conductor policy set --mode docker --enabled=false
  conductor policy set --category execute_python=prompt --category install_packages=blocked`,
	RunE: runPolicySet,
}

var policyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the user's policy to the default",
	RunE:  runPolicyReset,
}

var (
	policyEnabled    string
	policyMode       string
	policyCategories []string
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyResetCmd)

	policySetCmd.Flags().StringVar(&policyEnabled, "enabled", "", "master switch: true or false")
	policySetCmd.Flags().StringVar(&policyMode, "mode", "", "execution mode: local, docker, or auto")
	policySetCmd.Flags().StringArrayVar(&policyCategories, "category", nil, "category setting as <category>=<allowed|blocked|prompt> (repeatable)")
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pol, err := eng.policies.Get(currentUser())
	if err != nil {
		return err
	}
	printPolicy(pol)
	return nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	var update policy.Update

	switch policyEnabled {
	case "":
	case "true":
		v := true
		update.Enabled = &v
	case "false":
		v := false
		update.Enabled = &v
	default:
		return fmt.Errorf("invalid --enabled value %q: want true or false", policyEnabled)
	}

	if policyMode != "" {
		m := policy.Mode(policyMode)
		update.Mode = &m
	}

	if len(policyCategories) > 0 {
		update.Categories = make(map[policy.Category]policy.Setting, len(policyCategories))
		for _, pair := range policyCategories {
			cat, setting, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --category value %q: want <category>=<setting>", pair)
			}
			update.Categories[policy.Category(cat)] = policy.Setting(setting)
		}
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pol, err := eng.policies.Update(currentUser(), update)
	if err != nil {
		return err
	}
	printPolicy(pol)
	return nil
}

func runPolicyReset(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pol, err := eng.policies.Reset(currentUser())
	if err != nil {
		return err
	}
	fmt.Printf("Reset policy for %s\n", pol.UserID)
	printPolicy(pol)
	return nil
}

func printPolicy(pol *policy.Policy) {
	fmt.Printf("User:    %s\n", pol.UserID)
	fmt.Printf("Enabled: %t\n", pol.Enabled)
	fmt.Printf("Mode:    %s\n", pol.Mode)
	fmt.Println("Categories:")
	for _, cat := range policy.Categories() {
		setting, ok := pol.Categories[cat]
		if !ok {
			continue
		}
		fmt.Printf("  %-18s %s\n", cat, settingStyle(setting).Render(setting.String()))
	}
}

func settingStyle(s policy.Setting) lipgloss.Style {
	switch s {
	case policy.SettingAllowed:
		return runningStyle
	case policy.SettingBlocked:
		return failedStyle
	default:
		return abortedStyle
	}
}
