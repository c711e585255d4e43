package commands

import (
	"fmt"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/bot"
	"github.com/spf13/cobra"
)

// newKeyCmd creates the `gateclaw key` command group for managing the
// LLM API key in the OS keyring.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the API key",
		Long: `Store or clear the LLM API key in the OS keyring
(Linux: Secret Service, macOS: Keychain, Windows: Credential Manager).

Examples:
  gateclaw key set
  gateclaw key clear`,
	}

	cmd.AddCommand(newKeySetCmd(), newKeyClearCmd())
	return cmd
}

func newKeySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !bot.KeyringAvailable() {
				return fmt.Errorf("OS keyring unavailable, set GATECLAW_API_KEY in .env instead")
			}

			key, err := bot.ReadPassword("API key (hidden): ")
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			if key == "" {
				return fmt.Errorf("empty key")
			}

			if err := bot.StoreKeyring("api_key", key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
}

func newKeyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := bot.DeleteKeyring("api_key"); err != nil {
				return fmt.Errorf("removing key: %w", err)
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}
