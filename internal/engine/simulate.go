package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/audit"
	"github.com/soarhq/riposte/internal/classify"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/runbook"
	"github.com/soarhq/riposte/internal/store"
)

// SimTools are the enforcement domains the simulation registers
// in-memory adapters for, matching the builtin runbook catalog.
var SimTools = []string{"network", "endpoint", "identity", "telemetry"}

// SimReport is the outcome of one simulated incident run.
type SimReport struct {
	Incident      model.Incident
	Executions    []model.ExecutionRecord
	Verifications []model.VerificationResult
	Trail         *audit.Trail
}

// Simulate runs one event end-to-end against in-memory adapters: real
// classification, gating, approval policy and verification, zero calls
// to external systems. Approvals cannot be granted mid-simulation, so
// any RequireApproval decision times out against a zero timeout and
// shows up in the report as the incident's resting state.
func Simulate(ctx context.Context, cfg *config.Config, hash string, ev model.IncidentEvent, opts SubmitOptions) (*SimReport, error) {
	dir, err := os.MkdirTemp("", "riposte-sim-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	sim := *cfg
	sim.ApprovalTimeout = 0 // resolve RequireApproval immediately as timeout
	sim.VerifySettleDelay = 0

	auditLog, err := audit.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		return nil, err
	}
	defer auditLog.Close()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, err
	}
	defer st.Close()

	registry, err := loadRunbooks(&sim)
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(&sim)
	if err != nil {
		return nil, err
	}

	adapters := adapter.NewRegistry()
	for _, tool := range SimTools {
		adapters.Register(tool, adapter.NewMemoryAdapter())
	}

	eng, err := New(Options{
		Config:     config.NewHolder(&sim, hash),
		Runbooks:   registry,
		Classifier: rules,
		Adapters:   adapters,
		Audit:      auditLog,
		Store:      st,
	})
	if err != nil {
		return nil, err
	}

	inc, err := eng.Process(ctx, ev, opts)
	if err != nil {
		return nil, err
	}

	report := &SimReport{Incident: inc}
	if report.Executions, err = st.ExecutionsFor(inc.ID); err != nil {
		return nil, err
	}
	if report.Verifications, err = st.VerificationsFor(inc.ID); err != nil {
		return nil, err
	}
	if report.Trail, err = audit.DecisionTrail(auditLog.Path(), audit.TrailFilter{IncidentID: inc.ID}); err != nil {
		return nil, err
	}
	return report, nil
}

// loadRunbooks resolves the configured catalog, falling back to the
// builtin set.
func loadRunbooks(cfg *config.Config) (*runbook.Registry, error) {
	return runbook.Load(cfg.RunbookPath)
}

// loadRules resolves the configured classifier rules, falling back to
// the defaults.
func loadRules(cfg *config.Config) (*classify.Classifier, error) {
	if cfg.RulesPath == "" {
		return classify.New(classify.DefaultRules()), nil
	}
	rules, _, err := classify.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	return classify.New(rules), nil
}
