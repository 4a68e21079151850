package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soarhq/riposte/internal/override"
)

var (
	overrideReason   string
	overrideBy       string
	overrideDuration time.Duration
)

func init() {
	rootCmd.AddCommand(overrideCmd)
	overrideCmd.AddCommand(overrideGrantCmd)
	overrideCmd.AddCommand(overrideRevokeCmd)
	overrideCmd.AddCommand(overrideListCmd)
	overrideGrantCmd.Flags().StringVar(&overrideReason, "reason", "", "why the override is needed (required)")
	overrideGrantCmd.Flags().StringVar(&overrideBy, "by", "", "identity granting the override (required)")
	overrideGrantCmd.Flags().DurationVar(&overrideDuration, "duration", override.DefaultDuration, "override validity window")
	_ = overrideGrantCmd.MarkFlagRequired("reason")
	_ = overrideGrantCmd.MarkFlagRequired("by")
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Emergency override management",
	Long: "Grants, revokes and lists emergency override tokens. An active token\n" +
		"relaxes gating for exactly one incident: blast-radius and cooldown\n" +
		"blocks are bypassed and protected-asset actions need a single approval.\n" +
		"Service-account blocks are never overridden. Every grant, use and\n" +
		"revocation lands in the audit log at critical severity.",
}

var overrideGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a single-use emergency override",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := apiClient().GrantOverride(overrideReason, overrideBy, overrideDuration)
		if err != nil {
			return err
		}
		fmt.Printf("Granted override %s (expires %s)\n", tok.ID, tok.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var overrideRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an active override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().RevokeOverride(args[0]); err != nil {
			return err
		}
		fmt.Printf("Revoked override %s\n", args[0])
		return nil
	},
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List override tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := apiClient().Overrides()
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Println("No override tokens.")
			return nil
		}
		fmt.Printf("%-20s %-10s %-16s %-25s %s\n", "ID", "STATE", "GRANTED BY", "EXPIRES", "REASON")
		for _, t := range tokens {
			state := "active"
			switch {
			case t.RevokedAt != nil:
				state = "revoked"
			case t.UsedAt != nil:
				state = "used"
			case !t.IsActive():
				state = "expired"
			}
			fmt.Printf("%-20s %-10s %-16s %-25s %s\n",
				truncate(t.ID, 20), state, truncate(t.GrantedBy, 16),
				t.ExpiresAt.Format(time.RFC3339), t.Reason)
		}
		return nil
	},
}
