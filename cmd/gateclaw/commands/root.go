// Package commands implements the GateClaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gateclaw",
		Short: "GateClaw - WhatsApp community bot",
		Long: `GateClaw is a WhatsApp community bot with rate limiting,
group leveling, auto-promotion, and moderation.

Examples:
  gateclaw serve
  gateclaw setup
  gateclaw users ban 5511999998888
  gateclaw key set`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newSetupCmd(),
		newUsersCmd(),
		newKeyCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
