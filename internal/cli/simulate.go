package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/engine"
	"github.com/soarhq/riposte/internal/model"
)

var (
	simFile      string
	simHint      string
	simSeverity  string
	simTarget    string
	simType      string
	simCommander bool
	simFormat    string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simFile, "file", "", "JSON file with a normalized incident event")
	simulateCmd.Flags().StringVar(&simHint, "hint", "", "category hint (e.g., auth, malware, exfil)")
	simulateCmd.Flags().StringVar(&simSeverity, "severity", "medium", "severity: low|medium|high|critical")
	simulateCmd.Flags().StringVar(&simTarget, "target", "", "target asset value")
	simulateCmd.Flags().StringVar(&simType, "target-type", "host", "target asset type: host|user|ip|hash")
	simulateCmd.Flags().BoolVar(&simCommander, "commander-override", false, "incident-commander flag: downgrade blast-radius blocks to single approval")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [event-id]",
	Short: "Run one event through the pipeline without touching anything",
	Long: "Runs an incident event through classification, gating and execution\n" +
		"against in-memory adapters: real policy decisions, zero calls to\n" +
		"external systems. Approvals cannot be granted mid-run, so actions that\n" +
		"need one show up as timed out.\n\n" +
		"Use this to preview how the engine would handle an event before it\n" +
		"arrives for real.",
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var ev model.IncidentEvent
	if simFile != "" {
		data, err := os.ReadFile(simFile)
		if err != nil {
			return fmt.Errorf("failed to read event file: %w", err)
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("failed to parse event file: %w", err)
		}
	} else {
		if len(args) == 0 || simTarget == "" {
			return fmt.Errorf("either --file or an event ID plus --target is required")
		}
		ev = model.IncidentEvent{
			ID:           args[0],
			Source:       "simulate",
			CategoryHint: simHint,
			Severity:     model.Severity(simSeverity),
			TargetAsset:  model.TargetAsset{Type: model.AssetType(simType), Value: simTarget},
			ObservedAt:   time.Now().UTC(),
		}
	}

	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return err
	}

	report, err := engine.Simulate(cmd.Context(), cfg, hash, ev, engine.SubmitOptions{CommanderOverride: simCommander})
	if err != nil {
		return err
	}

	if simFormat == "json" {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	printSimReport(report)
	return nil
}

func printSimReport(r *engine.SimReport) {
	inc := r.Incident
	fmt.Printf("Incident %s\n", inc.ID)
	fmt.Printf("  category:    %s\n", orDash(inc.Category))
	fmt.Printf("  runbook:     %s\n", orDash(inc.RunbookID))
	fmt.Printf("  state:       %s\n", inc.State)
	fmt.Printf("  disposition: %s\n", inc.Disposition)
	if inc.Reason != "" {
		fmt.Printf("  reason:      %s\n", inc.Reason)
	}

	if len(r.Executions) > 0 {
		fmt.Println("\nExecutions:")
		for _, rec := range r.Executions {
			kind := ""
			if rec.IsRollback {
				kind = " (rollback)"
			}
			fmt.Printf("  %s %s -> %s%s\n", rec.Action.Tool, rec.Action.Operation, rec.Outcome, kind)
		}
	}

	if r.Trail != nil {
		s := r.Trail.Summary
		fmt.Printf("\nDecision trail: %d entries (%d allow, %d block, %d approval, %d override, %d rollback)\n",
			s.Total, s.AllowCount, s.BlockCount, s.ApprovalCount, s.OverrideCount, s.RollbackCount)
		for _, e := range r.Trail.Entries {
			fmt.Printf("  [%s] %-12s %-20s %s\n", e.Timestamp, e.Component, e.Decision, e.Reason)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
