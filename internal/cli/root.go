// Package cli holds the riposte command tree, one file per command.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/soarhq/riposte/internal/client"
)

var (
	serverAddr string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "riposte",
	Short: "Decision-and-execution engine for automated incident response",
	Long: "Classifies normalized security incidents, gates response runbooks behind\n" +
		"autonomy and safety policy, executes approved actions with dry-run and\n" +
		"rollback discipline, and verifies every effect. Unrecognized incidents\n" +
		"escalate to humans; they are never guessed at.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8080", "riposte server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine config file (default ~/.riposte/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiClient() *client.Client {
	return client.New(serverAddr)
}
