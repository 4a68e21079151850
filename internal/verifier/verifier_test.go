package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/executor"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/safety"
)

func testAction() model.ActionSpec {
	return model.ActionSpec{
		Tool:           "network",
		Operation:      "block_ip",
		Class:          model.OpReversible,
		Parameters:     map[string]string{"ip": "{{target}}"},
		RollbackHint:   "unblock_ip",
		ExpectedEffect: "no_inbound_from:{{target}}",
	}
}

func testTarget() model.TargetAsset {
	return model.TargetAsset{Type: model.AssetIP, Value: "203.0.113.9"}
}

func newHarness(mem adapter.Adapter) (*Verifier, *executor.Executor) {
	reg := adapter.NewRegistry()
	reg.Register("network", mem)
	exec := executor.New(reg, safety.NewStore())
	return New(reg, exec), exec
}

func execRequest(persist func(model.ExecutionRecord) error) executor.Request {
	return executor.Request{
		IncidentID:     "inc-1",
		CorrelationID:  "corr-1",
		ActionIndex:    0,
		Action:         testAction(),
		Target:         testTarget(),
		AdapterTimeout: time.Second,
		Retry:          config.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		Cooldown:       time.Minute,
		Persist:        persist,
	}
}

func verifyRequest(rec model.ExecutionRecord) Request {
	return Request{
		Record:         rec,
		SettleDelay:    time.Millisecond,
		Polls:          3,
		AdapterTimeout: time.Second,
		Retry:          config.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}
}

func TestVerifiedEffect(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	v, exec := newHarness(mem)

	rec, _, err := exec.Execute(context.Background(), execRequest(nil))
	if err != nil {
		t.Fatal(err)
	}

	req := verifyRequest(rec)
	var results []model.VerificationResult
	req.PersistResult = func(r model.VerificationResult) error {
		results = append(results, r)
		return nil
	}

	out, err := v.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !out.Result.Verified {
		t.Error("expected effect verified")
	}
	if out.Failure != "" {
		t.Errorf("expected no failure kind, got %s", out.Failure)
	}
	if out.RollbackRecord != nil {
		t.Error("verified effect must not trigger rollback")
	}
	if out.Result.ExpectedEffect != "no_inbound_from:203.0.113.9" {
		t.Errorf("expected expanded effect, got %q", out.Result.ExpectedEffect)
	}
	if len(results) != 1 {
		t.Fatalf("expected one persisted result, got %d", len(results))
	}
}

func TestMissingEffectRollsBack(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.SuppressEffect = true
	v, exec := newHarness(mem)

	var records []model.ExecutionRecord
	rec, _, err := exec.Execute(context.Background(), execRequest(func(r model.ExecutionRecord) error {
		records = append(records, r)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	req := verifyRequest(rec)
	req.PersistRecord = func(r model.ExecutionRecord) error {
		records = append(records, r)
		return nil
	}

	out, err := v.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("clean rollback should not error: %v", err)
	}
	if out.Result.Verified {
		t.Error("suppressed effect must fail verification")
	}
	if !out.Result.RollbackInvoked {
		t.Error("rollback must be invoked on verification failure")
	}
	if out.Failure != model.VerificationFailure {
		t.Errorf("expected VerificationFailure, got %s", out.Failure)
	}
	if out.RollbackRecord == nil || !out.RollbackRecord.IsRollback {
		t.Fatal("rollback must produce its own flagged record")
	}
	if out.RollbackResult == nil || !out.RollbackResult.Verified {
		t.Error("rollback of an absent effect must verify clean")
	}
	if len(records) != 2 {
		t.Errorf("expected original + rollback records, got %d", len(records))
	}
}

func TestRollbackExecutionFailureIsUnrecoverable(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.SuppressEffect = true
	mem.FailRollback = true
	v, exec := newHarness(mem)

	rec, _, err := exec.Execute(context.Background(), execRequest(nil))
	if err != nil {
		t.Fatal(err)
	}

	out, err := v.Verify(context.Background(), verifyRequest(rec))
	if err == nil {
		t.Fatal("expected error when rollback execution fails")
	}
	if out.Failure != model.UnrecoverableFailure {
		t.Errorf("expected UnrecoverableFailure, got %s", out.Failure)
	}
	if out.RollbackResult != nil {
		t.Error("failed rollback must not be verified")
	}
}

// stuckAdapter simulates a target system whose effect never landed and
// whose rollback reports success without restoring anything observable.
type stuckAdapter struct {
	adapter.Adapter
	observations []bool
	calls        int
}

func (s *stuckAdapter) Verify(ctx context.Context, expectedEffect string, target model.TargetAsset) (adapter.Observation, error) {
	present := s.observations[s.calls%len(s.observations)]
	s.calls++
	return adapter.Observation{ObservedEffect: "stuck", Matches: present}, nil
}

func (s *stuckAdapter) Rollback(ctx context.Context, token string) error {
	return nil
}

func TestRollbackVerificationFailureIsUnrecoverable(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	// First poll sees no effect; post-rollback poll still sees it.
	stuck := &stuckAdapter{Adapter: mem, observations: []bool{false, true}}

	reg := adapter.NewRegistry()
	reg.Register("network", stuck)
	exec := executor.New(reg, safety.NewStore())
	v := New(reg, exec)

	rec, _, err := exec.Execute(context.Background(), execRequest(nil))
	if err != nil {
		t.Fatal(err)
	}

	req := verifyRequest(rec)
	req.Polls = 1

	out, err := v.Verify(context.Background(), req)
	if err == nil {
		t.Fatal("expected error when rollback verification fails")
	}
	if out.Failure != model.UnrecoverableFailure {
		t.Errorf("expected UnrecoverableFailure, got %s", out.Failure)
	}
	if out.RollbackRecord == nil {
		t.Fatal("rollback record must still be produced")
	}
	if out.RollbackResult == nil || out.RollbackResult.Verified {
		t.Error("rollback verification must be recorded as failed")
	}
}

func TestPollsBounded(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.SuppressEffect = true
	v, exec := newHarness(mem)

	rec, _, err := exec.Execute(context.Background(), execRequest(nil))
	if err != nil {
		t.Fatal(err)
	}

	out, err := v.Verify(context.Background(), verifyRequest(rec))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Polls != 3 {
		t.Errorf("expected all 3 polls consumed before rollback, got %d", out.Result.Polls)
	}
}

func TestCancelledContextAbortsVerification(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	v, exec := newHarness(mem)

	rec, _, err := exec.Execute(context.Background(), execRequest(nil))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := verifyRequest(rec)
	req.SettleDelay = 50 * time.Millisecond

	out, err := v.Verify(ctx, req)
	if err == nil {
		t.Fatal("expected cancellation to surface")
	}
	_ = out
}
