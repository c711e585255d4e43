package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/ratelimit"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/store"
	"github.com/spf13/cobra"
)

// newUsersCmd creates the `gateclaw users` command group for blacklist
// administration. These commands operate on the persisted documents and
// work whether or not the daemon is running; a running daemon picks up
// manual bans on its next restart.
func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage banned users",
		Long: `Inspect and manage the user blacklist.

Examples:
  gateclaw users list
  gateclaw users ban 5511999998888 "spamming links"
  gateclaw users unban 5511999998888`,
	}

	cmd.AddCommand(
		newUsersListCmd(),
		newUsersBanCmd(),
		newUsersUnbanCmd(),
		newUsersViolationsCmd(),
	)
	return cmd
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List blacklisted users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limiter, err := loadLimiter(cmd)
			if err != nil {
				return err
			}

			banned := limiter.Blacklisted()
			if len(banned) == 0 {
				fmt.Println("No users are blacklisted.")
				return nil
			}
			for _, uid := range banned {
				fmt.Println(uid)
			}
			return nil
		},
	}
}

func newUsersBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <user> [reason]",
		Short: "Ban a user",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limiter, err := loadLimiter(cmd)
			if err != nil {
				return err
			}

			reason := "manual ban"
			if len(args) > 1 {
				reason = args[1]
			}
			limiter.BanUser(normalizeUserID(args[0]), reason)
			fmt.Printf("Banned %s (%s)\n", args[0], reason)
			return nil
		},
	}
}

func newUsersUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <user>",
		Short: "Unban a user and reset their violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limiter, err := loadLimiter(cmd)
			if err != nil {
				return err
			}

			limiter.UnbanUser(normalizeUserID(args[0]))
			fmt.Printf("Unbanned %s\n", args[0])
			return nil
		},
	}
}

func newUsersViolationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "violations <user>",
		Short: "Show a user's containment status",
		Long: `Shows whether a user is blacklisted and their violation count.
Violation counts live in the daemon's memory and reset on restart, so this
command only reflects persisted state: the blacklist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limiter, err := loadLimiter(cmd)
			if err != nil {
				return err
			}

			uid := normalizeUserID(args[0])
			if limiter.IsBlacklisted(uid) {
				fmt.Printf("%s: BLACKLISTED\n", args[0])
			} else {
				fmt.Printf("%s: ok (%d violations on record)\n", args[0], limiter.Violations(uid))
			}
			return nil
		},
	}
}

// loadLimiter builds a limiter over the configured data directory.
func loadLimiter(cmd *cobra.Command) (*ratelimit.Limiter, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	docs, err := store.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	audit := store.NewAuditLog(cfg.DataDir, "audit.log", logger)

	return ratelimit.New(cfg.RateLimit, docs, audit, logger), nil
}

// normalizeUserID turns a bare phone number into a full gateway JID.
func normalizeUserID(s string) string {
	if strings.Contains(s, "@") {
		return s
	}
	return normalizePhone(s) + "@s.whatsapp.net"
}
