package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveAs string

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	approveCmd.Flags().StringVar(&approveAs, "as", "", "approver identity (required)")
	denyCmd.Flags().StringVar(&approveAs, "as", "", "approver identity (required)")
	_ = approveCmd.MarkFlagRequired("as")
	_ = denyCmd.MarkFlagRequired("as")
}

var approveCmd = &cobra.Command{
	Use:   "approve <handle>",
	Short: "Approve a pending request",
	Long: "Submits one approval for the given request. Dual-approval requests need\n" +
		"a second, distinct identity before the action executes; approving twice\n" +
		"with the same identity is rejected.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolve(args[0], true)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <handle>",
	Short: "Deny a pending request",
	Long:  "Denies a pending approval request. Denial is terminal: the action is not executed and the incident closes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolve(args[0], false)
	},
}

func resolve(handle string, approve bool) error {
	if err := apiClient().Resolve(handle, approveAs, approve); err != nil {
		return err
	}
	if approve {
		fmt.Printf("Approved %s as %q\n", handle, approveAs)
	} else {
		fmt.Printf("Denied %s as %q\n", handle, approveAs)
	}
	return nil
}
