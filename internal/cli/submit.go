package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soarhq/riposte/internal/model"
)

var (
	submitFile      string
	submitSource    string
	submitHint      string
	submitSeverity  string
	submitTarget    string
	submitType      string
	submitCommander bool
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitFile, "file", "", "JSON file with a normalized incident event")
	submitCmd.Flags().StringVar(&submitSource, "source", "cli", "event source system")
	submitCmd.Flags().StringVar(&submitHint, "hint", "", "category hint (e.g., auth, malware, exfil)")
	submitCmd.Flags().StringVar(&submitSeverity, "severity", "medium", "severity: low|medium|high|critical")
	submitCmd.Flags().StringVar(&submitTarget, "target", "", "target asset value")
	submitCmd.Flags().StringVar(&submitType, "target-type", "host", "target asset type: host|user|ip|hash")
	submitCmd.Flags().BoolVar(&submitCommander, "commander-override", false, "incident-commander flag: downgrade blast-radius blocks to single approval")
}

var submitCmd = &cobra.Command{
	Use:   "submit [event-id]",
	Short: "Submit a normalized incident event for processing",
	Long: "Sends one incident event to a running riposte server. Provide a full\n" +
		"event with --file, or build a minimal one from flags.",
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var ev model.IncidentEvent

	if submitFile != "" {
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return fmt.Errorf("failed to read event file: %w", err)
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("failed to parse event file: %w", err)
		}
	} else {
		if len(args) == 0 || submitTarget == "" {
			return fmt.Errorf("either --file or an event ID plus --target is required")
		}
		ev = model.IncidentEvent{
			ID:           args[0],
			Source:       submitSource,
			CategoryHint: submitHint,
			Severity:     model.Severity(submitSeverity),
			TargetAsset:  model.TargetAsset{Type: model.AssetType(submitType), Value: submitTarget},
			ObservedAt:   time.Now().UTC(),
		}
	}

	id, err := apiClient().Submit(ev, submitCommander)
	if err != nil {
		return err
	}
	fmt.Printf("Accepted as incident %s\n", id)
	return nil
}
