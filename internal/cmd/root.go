// Package cmd implements the conductor command line interface.
package cmd

import (
	"os"
	"strings"

	"github.com/jszach/conductor/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Durable plan execution engine",
	Long: `Conductor executes multi-step plans produced by a planning agent:
tool calls, sandboxed code execution, waits, messages, and nested
sub-plans. Risky steps are gated by per-user permission policies, and
every plan can be paused, resumed, aborted, checkpointed, and rolled
back.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/conductor/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "user whose policy gates risky steps (default $USER)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

var flagUser string

// currentUser returns the acting user for policy and ownership checks.
func currentUser() string {
	if flagUser != "" {
		return flagUser
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/conductor")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONDUCTOR")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CONDUCTOR_EXECUTOR_MAX_CONCURRENT_PLANS for executor.max_concurrent_plans
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
