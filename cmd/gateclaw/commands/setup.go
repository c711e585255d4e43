package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/bot"
	"github.com/spf13/cobra"
)

// newSetupCmd creates the `gateclaw setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the bot name, owner phone number, trigger keyword, and API key.
The API key goes to the OS keyring when available, never to plaintext.

Examples:
  gateclaw setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	reader := bufio.NewReader(os.Stdin)
	cfg := bot.DefaultConfig()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║           GateClaw — Setup Wizard            ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	// ── Step 1: Bot name ──
	fmt.Printf("1. Bot name [%s]: ", cfg.Name)
	if name := readLine(reader); name != "" {
		cfg.Name = name
	}

	// ── Step 2: Trigger keyword ──
	fmt.Printf("2. Trigger keyword [%s]: ", cfg.Pipeline.Trigger)
	if trigger := readLine(reader); trigger != "" {
		cfg.Pipeline.Trigger = trigger
	}

	// ── Step 3: Owner phone number ──
	fmt.Println()
	fmt.Println("   The owner bypasses rate limits and moderation.")
	fmt.Println("   Use your phone number with country code, no +, spaces or dashes.")
	fmt.Println("   Example: 5511999998888")
	fmt.Println()
	for {
		fmt.Print("3. Your phone number (owner): ")
		owner := readLine(reader)
		if owner == "" {
			fmt.Println("   [!] Phone number is required.")
			continue
		}
		owner = normalizePhone(owner)
		if len(owner) < 10 {
			fmt.Println("   [!] Number seems too short. Include the country code (e.g. 5511999998888).")
			continue
		}
		cfg.Pipeline.Owner = owner + "@s.whatsapp.net"
		break
	}

	// ── Step 4: API key ──
	fmt.Println()
	fmt.Println("   The API key authenticates against the LLM backend for replies.")
	fmt.Println("   Leave empty to configure later with: gateclaw key set")
	fmt.Println()
	key, err := bot.ReadPassword("4. API key (hidden): ")
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	if key != "" {
		if bot.KeyringAvailable() {
			if err := bot.StoreKeyring("api_key", key); err != nil {
				fmt.Printf("   [!] Keyring unavailable (%v), keeping key in config.\n", err)
				cfg.Responder.APIKey = key
			} else {
				fmt.Println("   [ok] API key stored in the OS keyring.")
			}
		} else {
			fmt.Println("   [!] OS keyring unavailable, keeping key in config.")
			cfg.Responder.APIKey = key
		}
	}

	// ── Step 5: Write config ──
	path := "config.yaml"
	fmt.Println()
	fmt.Printf("5. Config file path [%s]: ", path)
	if p := readLine(reader); p != "" {
		path = p
	}

	if err := bot.SaveConfigToFile(cfg, path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Done. Config written to %s\n", path)
	fmt.Println("Start the bot with: gateclaw serve")
	fmt.Println("A QR code will be shown on first run; scan it with WhatsApp.")
	return nil
}

// readLine reads one trimmed line from the reader.
func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// normalizePhone strips everything but digits.
func normalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
