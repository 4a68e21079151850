package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests",
	Long:  "Shows unresolved approval requests with their incident, required approvals, and expiry.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	list, err := apiClient().Pending()
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	fmt.Printf("%-38s %-40s %-8s %-10s %s\n", "HANDLE", "INCIDENT", "ACTION", "REQUIRED", "EXPIRES")
	for _, a := range list {
		fmt.Printf("%-38s %-40s %-8d %d of %-6d %s\n",
			a.Handle,
			truncate(a.IncidentID, 40),
			a.ActionIndex,
			len(a.ApprovalsReceived),
			a.RequiredApprovals,
			a.ExpiresAt.Format("15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
