package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(autonomyCmd)
}

var autonomyCmd = &cobra.Command{
	Use:   "autonomy",
	Short: "Show the server's autonomy level",
	Long: "Prints the autonomy level the server is gating under. The level is\n" +
		"set in the engine config; change it there and run `riposte reload`.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient().ServerStatus()
		if err != nil {
			return err
		}
		fmt.Println(st.Autonomy)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  "Prints the server's autonomy level, active config hash and incident counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient().ServerStatus()
		if err != nil {
			return err
		}
		fmt.Printf("autonomy:    %s\n", st.Autonomy)
		fmt.Printf("config hash: %s\n", st.ConfigHash)
		fmt.Printf("in flight:   %d\n", st.InFlight)
		if len(st.Incidents) > 0 {
			fmt.Println("incidents:")
			states := make([]string, 0, len(st.Incidents))
			for s := range st.Incidents {
				states = append(states, s)
			}
			sort.Strings(states)
			for _, s := range states {
				fmt.Printf("  %-20s %d\n", s, st.Incidents[s])
			}
		}
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the server to reload its config and catalogs",
	Long: "Re-reads the engine config, runbook catalog and classification rules\n" +
		"on the server without restarting it. In-flight incidents finish under\n" +
		"the snapshot they started with.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().Reload(); err != nil {
			return err
		}
		st, err := apiClient().ServerStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Reloaded. autonomy=%s config_hash=%s\n", st.Autonomy, st.ConfigHash)
		return nil
	},
}

var incidentState string

func init() {
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(reviewCmd)
	incidentsCmd.Flags().StringVar(&incidentState, "state", "", "filter by state (e.g., VERIFIED, BLOCKED)")
}

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		incs, err := apiClient().Incidents(incidentState)
		if err != nil {
			return err
		}
		if len(incs) == 0 {
			fmt.Println("No incidents.")
			return nil
		}
		fmt.Printf("%-14s %-18s %-12s %-10s %-15s %s\n", "ID", "STATE", "DISPOSITION", "CATEGORY", "EVENT", "REASON")
		for _, inc := range incs {
			fmt.Printf("%-14s %-18s %-12s %-10s %-15s %s\n",
				truncate(inc.ID, 14), inc.State, inc.Disposition,
				orDash(inc.Category), truncate(inc.Event.ID, 15), inc.Reason)
		}
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List escalated incidents awaiting a human",
	RunE: func(cmd *cobra.Command, args []string) error {
		incs, err := apiClient().ReviewQueue()
		if err != nil {
			return err
		}
		if len(incs) == 0 {
			fmt.Println("Review queue is empty.")
			return nil
		}
		fmt.Printf("%-14s %-18s %-10s %s\n", "ID", "STATE", "FAILURE", "REASON")
		for _, inc := range incs {
			fmt.Printf("%-14s %-18s %-10s %s\n",
				truncate(inc.ID, 14), inc.State, inc.Failure, inc.Reason)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <incident-id>",
	Short: "Show one incident with its records and trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, err := apiClient().Incident(args[0])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(detail, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}
