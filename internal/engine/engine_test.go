package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/audit"
	"github.com/soarhq/riposte/internal/classify"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/runbook"
	"github.com/soarhq/riposte/internal/store"
)

type harness struct {
	eng      *Engine
	store    *store.Store
	adapters map[string]*adapter.MemoryAdapter
	audit    string
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Autonomy = "L2"
	cfg.CooldownDuration = time.Minute
	cfg.ApprovalTimeout = 5 * time.Second
	cfg.VerifySettleDelay = time.Millisecond
	cfg.VerifyPolls = 2
	cfg.AdapterTimeout = time.Second
	cfg.Retry = config.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = auditLog.Close() })

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	registry, err := runbook.Load("")
	if err != nil {
		t.Fatal(err)
	}

	adapters := adapter.NewRegistry()
	mems := make(map[string]*adapter.MemoryAdapter)
	for _, tool := range SimTools {
		mem := adapter.NewMemoryAdapter()
		mems[tool] = mem
		adapters.Register(tool, mem)
	}

	eng, err := New(Options{
		Config:     config.NewHolder(cfg, "sha256:test"),
		Runbooks:   registry,
		Classifier: classify.New(classify.DefaultRules()),
		Adapters:   adapters,
		Audit:      auditLog,
		Store:      st,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{eng: eng, store: st, adapters: mems, audit: auditPath}
}

func bruteForceEvent(id string) model.IncidentEvent {
	return model.IncidentEvent{
		ID:           id,
		Source:       "siem",
		CategoryHint: "auth",
		Severity:     model.SevHigh,
		TargetAsset:  model.TargetAsset{Type: model.AssetIP, Value: "203.0.113.9"},
		ObservedAt:   time.Now().UTC(),
	}
}

func ransomwareEvent(id, host string) model.IncidentEvent {
	return model.IncidentEvent{
		ID:           id,
		Source:       "edr",
		CategoryHint: "ransomware",
		Severity:     model.SevCritical,
		TargetAsset:  model.TargetAsset{Type: model.AssetHost, Value: host},
		ObservedAt:   time.Now().UTC(),
	}
}

func malwareHashEvent(id, hash string) model.IncidentEvent {
	return model.IncidentEvent{
		ID:           id,
		Source:       "edr",
		CategoryHint: "malware",
		Severity:     model.SevHigh,
		TargetAsset:  model.TargetAsset{Type: model.AssetHash, Value: hash},
		ObservedAt:   time.Now().UTC(),
	}
}

// approveAll grants every pending request with the given approvers
// until the done channel closes.
func approveAll(h *harness, done <-chan struct{}, approvers ...string) {
	for {
		select {
		case <-done:
			return
		case <-time.After(5 * time.Millisecond):
		}
		for _, p := range h.eng.Broker().Pending() {
			for _, who := range approvers {
				_ = h.eng.Broker().Resolve(p.Handle, who, true)
			}
		}
	}
}

// Scenario: brute-force at L2 against a non-protected address is fully
// automatic and closes verified.
func TestBruteForceAutoExecutesAtL2(t *testing.T) {
	h := newHarness(t, testConfig())

	inc, err := h.eng.Process(context.Background(), bruteForceEvent("evt-1"), SubmitOptions{})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if inc.State != model.StateVerified {
		t.Fatalf("expected VERIFIED, got %s (%s)", inc.State, inc.Reason)
	}
	if inc.Disposition != model.DispositionClosed {
		t.Errorf("expected closed disposition, got %s", inc.Disposition)
	}
	if !h.adapters["network"].Applied("no_inbound_from:203.0.113.9") {
		t.Error("expected IP block applied")
	}
	if !h.adapters["identity"].Applied("sessions_revoked:203.0.113.9") {
		t.Error("expected sessions revoked")
	}

	recs, err := h.store.ExecutionsFor(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 execution records, got %d", len(recs))
	}
	vers, err := h.store.VerificationsFor(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(vers) != 2 {
		t.Errorf("expected 2 verification results, got %d", len(vers))
	}
}

// Scenario: a protected asset class requires two distinct approvers;
// one approval alone leaves the incident waiting.
func TestProtectedAssetNeedsTwoDistinctApprovers(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L3"
	cfg.ProtectedAssetClasses = append(cfg.ProtectedAssetClasses, "server")
	h := newHarness(t, cfg)

	type result struct {
		inc model.Incident
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		inc, err := h.eng.Process(context.Background(), ransomwareEvent("evt-2", "fs-01"), SubmitOptions{})
		resCh <- result{inc, err}
	}()

	// Wait for the request, then approve once.
	var handle string
	deadline := time.Now().Add(2 * time.Second)
	for handle == "" && time.Now().Before(deadline) {
		if pending := h.eng.Broker().Pending(); len(pending) > 0 {
			handle = pending[0].Handle
		} else {
			time.Sleep(2 * time.Millisecond)
		}
	}
	if handle == "" {
		t.Fatal("no approval request appeared")
	}
	if err := h.eng.Broker().Resolve(handle, "alice", true); err != nil {
		t.Fatal(err)
	}

	// A duplicate approval from the same identity must not satisfy the
	// threshold.
	time.Sleep(20 * time.Millisecond)
	if st, ok := h.eng.Broker().Get(handle); !ok || st.Resolved {
		t.Fatal("single approval must not resolve a dual-approval request")
	}
	if err := h.eng.Broker().Resolve(handle, "alice", true); err == nil {
		t.Error("duplicate approver must be rejected")
	}

	if err := h.eng.Broker().Resolve(handle, "bob", true); err != nil {
		t.Fatal(err)
	}

	// Both runbook actions are gated by the protected class; keep
	// approving with distinct identities until the incident finishes.
	done := make(chan struct{})
	go approveAll(h, done, "alice", "bob")
	res := <-resCh
	close(done)

	if res.err != nil {
		t.Fatalf("process failed: %v", res.err)
	}
	if res.inc.State != model.StateVerified {
		t.Fatalf("expected VERIFIED after dual approval, got %s (%s)", res.inc.State, res.inc.Reason)
	}
}

// Scenario: execution succeeds but the effect never lands; the engine
// rolls back automatically and closes, with both records present.
func TestVerificationFailureRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L3"
	h := newHarness(t, cfg)
	h.adapters["endpoint"].SuppressEffect = true

	inc, err := h.eng.Process(context.Background(), malwareHashEvent("evt-3", "d41d8cd9"), SubmitOptions{})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if inc.State != model.StateRolledBack {
		t.Fatalf("expected ROLLED_BACK, got %s (%s)", inc.State, inc.Reason)
	}
	if inc.Disposition != model.DispositionClosed {
		t.Errorf("expected closed disposition, got %s", inc.Disposition)
	}

	recs, err := h.store.ExecutionsFor(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected original + rollback records, got %d", len(recs))
	}
	if recs[0].IsRollback || !recs[1].IsRollback {
		t.Error("second record must be the rollback")
	}

	res := audit.Verify(h.audit)
	if !res.Valid {
		t.Errorf("audit chain broken: %s", res.Error)
	}
}

// Scenario: a second incident against the same target inside the
// cooldown window is blocked.
func TestCooldownBlocksSecondIncident(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L3"
	h := newHarness(t, cfg)

	first, err := h.eng.Process(context.Background(), malwareHashEvent("evt-4", "feedface"), SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.State != model.StateVerified {
		t.Fatalf("first incident should verify, got %s", first.State)
	}

	second, err := h.eng.Process(context.Background(), malwareHashEvent("evt-5", "feedface"), SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if second.State != model.StateBlocked {
		t.Fatalf("expected BLOCKED inside cooldown, got %s", second.State)
	}
	if second.Failure != model.PolicyBlocked {
		t.Errorf("expected policy_blocked, got %s", second.Failure)
	}
	if second.Disposition != model.DispositionEscalated {
		t.Errorf("blocked incidents escalate, got %s", second.Disposition)
	}
}

// A block projected for a later action must land as BLOCKED even after
// an earlier action in the same runbook has already verified.
func TestBlastRadiusBlockAfterVerifiedAction(t *testing.T) {
	cfg := testConfig()
	cfg.BlastRadiusCeiling = 1
	h := newHarness(t, cfg)

	inc, err := h.eng.Process(context.Background(), bruteForceEvent("evt-late-block"), SubmitOptions{})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if inc.State != model.StateBlocked {
		t.Fatalf("expected BLOCKED, got %s (%s)", inc.State, inc.Reason)
	}
	if inc.Disposition != model.DispositionEscalated {
		t.Errorf("expected escalated disposition, got %s", inc.Disposition)
	}
	if inc.Failure != model.PolicyBlocked {
		t.Errorf("expected policy_blocked failure, got %s", inc.Failure)
	}

	// The first action ran and verified before the block landed.
	if !h.adapters["network"].Applied("no_inbound_from:203.0.113.9") {
		t.Error("expected first action applied")
	}
	if h.adapters["identity"].Applied("sessions_revoked:203.0.113.9") {
		t.Error("second action must not execute")
	}
	recs, err := h.store.ExecutionsFor(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 execution record, got %d", len(recs))
	}
}

// A cooldown that lands on the target while the incident is parked on
// approval must block execution after the approval arrives; the gate's
// earlier check is a projection, not the authority.
func TestCooldownRecheckedAfterApprovalWait(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L0"
	h := newHarness(t, cfg)

	type result struct {
		inc model.Incident
		err error
	}
	done := make(chan result, 1)
	go func() {
		inc, err := h.eng.Process(context.Background(), bruteForceEvent("evt-parked"), SubmitOptions{})
		done <- result{inc, err}
	}()

	var handle string
	deadline := time.Now().Add(2 * time.Second)
	for handle == "" {
		if time.Now().After(deadline) {
			t.Fatal("no approval request appeared")
		}
		if ps := h.eng.Broker().Pending(); len(ps) > 0 {
			handle = ps[0].Handle
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}

	// Another incident executed against the same target meanwhile.
	h.eng.Safety().SetCooldown("ip:203.0.113.9", time.Now().UTC().Add(time.Hour))

	if err := h.eng.Broker().Resolve(handle, "alice", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("process failed: %v", res.err)
	}
	if res.inc.State != model.StateBlocked {
		t.Fatalf("expected BLOCKED, got %s (%s)", res.inc.State, res.inc.Reason)
	}
	if res.inc.Failure != model.PolicyBlocked {
		t.Errorf("expected policy_blocked failure, got %s", res.inc.Failure)
	}
	if h.adapters["network"].Applied("no_inbound_from:203.0.113.9") {
		t.Error("action must not execute inside another incident's cooldown")
	}

	// The resolved request is dropped from the broker once audited.
	if _, ok := h.eng.Broker().Get(handle); ok {
		t.Error("resolved approval request should be forgotten")
	}
}

func TestUnclassifiedEscalates(t *testing.T) {
	h := newHarness(t, testConfig())

	ev := model.IncidentEvent{
		ID:          "evt-6",
		Source:      "siem",
		Severity:    model.SevLow,
		TargetAsset: model.TargetAsset{Type: model.AssetHost, Value: "ws-01"},
		ObservedAt:  time.Now().UTC(),
	}
	inc, err := h.eng.Process(context.Background(), ev, SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if inc.State != model.StateUnclassified {
		t.Fatalf("expected UNCLASSIFIED, got %s", inc.State)
	}
	if inc.Failure != model.ClassificationAmbiguous {
		t.Errorf("expected classification_ambiguous, got %s", inc.Failure)
	}

	queue, err := h.store.ReviewQueue()
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != inc.ID {
		t.Error("unclassified incident must surface in the review queue")
	}
}

func TestApprovalTimeoutClosesLikeDenial(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L0"
	cfg.ApprovalTimeout = 10 * time.Millisecond
	h := newHarness(t, cfg)

	inc, err := h.eng.Process(context.Background(), bruteForceEvent("evt-7"), SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if inc.State != model.StateDenied {
		t.Fatalf("expected DENIED on timeout, got %s", inc.State)
	}
	if inc.Failure != model.ApprovalTimedOut {
		t.Errorf("expected approval_timed_out, got %s", inc.Failure)
	}
	if inc.Reason != "approval.timeout" {
		t.Errorf("timeout must carry its own reason code, got %q", inc.Reason)
	}
}

// Counters are conserved: once every concurrent incident reaches a
// terminal state, nothing is left in flight.
func TestBlastRadiusCountersConserved(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L3"
	cfg.CooldownDuration = 0
	h := newHarness(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ev := malwareHashEvent("evt-load", string(rune('a'+n%8))+"-hash")
			_, _ = h.eng.Process(context.Background(), ev, SubmitOptions{})
		}(i)
	}
	wg.Wait()

	if got := h.eng.Safety().TotalInFlight(); got != 0 {
		t.Errorf("expected zero in-flight actions after drain, got %d", got)
	}
}

func TestSimulateProducesTrail(t *testing.T) {
	cfg := testConfig()
	cfg.Autonomy = "L3"

	report, err := Simulate(context.Background(), cfg, "sha256:test", malwareHashEvent("evt-8", "cafebabe"), SubmitOptions{})
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	if report.Incident.State != model.StateVerified {
		t.Fatalf("expected simulated incident verified, got %s", report.Incident.State)
	}
	if len(report.Executions) == 0 {
		t.Error("expected execution records in the report")
	}
	if report.Trail == nil || len(report.Trail.Entries) == 0 {
		t.Error("expected a decision trail")
	}
}
