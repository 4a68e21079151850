package executor

import (
	"context"
	"testing"
	"time"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/safety"
)

func testAction() model.ActionSpec {
	return model.ActionSpec{
		Tool:           "network",
		Operation:      "block_ip",
		Class:          model.OpReversible,
		TargetClass:    "workstation",
		Parameters:     map[string]string{"ip": "{{target}}"},
		RollbackHint:   "unblock_ip",
		ExpectedEffect: "no_inbound_from:{{target}}",
	}
}

func testRequest(persist func(model.ExecutionRecord) error) Request {
	return Request{
		IncidentID:     "inc-1",
		CorrelationID:  "corr-1",
		ActionIndex:    0,
		Action:         testAction(),
		Target:         model.TargetAsset{Type: model.AssetIP, Value: "203.0.113.9"},
		AdapterTimeout: time.Second,
		Retry:          config.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		Cooldown:       10 * time.Minute,
		Persist:        persist,
	}
}

func newTestExecutor(mem *adapter.MemoryAdapter) (*Executor, *safety.Store) {
	reg := adapter.NewRegistry()
	reg.Register("network", mem)
	store := safety.NewStore()
	return New(reg, store), store
}

func TestSuccessfulExecution(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	exec, store := newTestExecutor(mem)

	var persisted []model.ExecutionRecord
	req := testRequest(func(r model.ExecutionRecord) error {
		persisted = append(persisted, r)
		return nil
	})

	rec, kind, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if kind != "" {
		t.Errorf("expected no failure kind, got %s", kind)
	}
	if rec.Outcome != model.ExecSucceeded {
		t.Errorf("expected succeeded, got %s", rec.Outcome)
	}
	if !rec.PrecondPassed {
		t.Error("precondition should have passed")
	}
	if rec.RollbackData == "" {
		t.Error("rollback token missing")
	}
	if len(persisted) != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", len(persisted))
	}
	if !mem.Applied("no_inbound_from:203.0.113.9") {
		t.Error("expected effect applied with expanded target")
	}
	if active, _ := store.CooldownActive(req.Target.Key(), time.Now().UTC()); !active {
		t.Error("success must set the target cooldown")
	}
}

func TestDryRunRejectionAborts(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.FailDryRun = true
	exec, store := newTestExecutor(mem)

	rec, kind, err := exec.Execute(context.Background(), testRequest(nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if kind != model.PreconditionFailure {
		t.Errorf("expected PreconditionFailure, got %s", kind)
	}
	if rec.Outcome != model.ExecDryRunRejected {
		t.Errorf("expected dry_run_rejected, got %s", rec.Outcome)
	}
	if mem.ExecuteCalls() != 0 {
		t.Error("execute must not run after dry-run rejection")
	}
	if active, _ := store.CooldownActive("ip:203.0.113.9", time.Now().UTC()); active {
		t.Error("failure must not set a cooldown")
	}
}

func TestPreconditionMismatchAborts(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.FailPreconditions = true
	exec, _ := newTestExecutor(mem)

	rec, kind, err := exec.Execute(context.Background(), testRequest(nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if kind != model.PreconditionFailure {
		t.Errorf("expected PreconditionFailure, got %s", kind)
	}
	if rec.Outcome != model.ExecPreconditionFailed {
		t.Errorf("expected precondition_failed, got %s", rec.Outcome)
	}
	if mem.ExecuteCalls() != 0 {
		t.Error("execute must not run after precondition mismatch")
	}
}

func TestTransientErrorsRetried(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.TransientFailures = 2
	exec, _ := newTestExecutor(mem)

	rec, kind, err := exec.Execute(context.Background(), testRequest(nil))
	if err != nil {
		t.Fatalf("expected retries to recover: %v", err)
	}
	if kind != "" {
		t.Errorf("expected success after retries, got %s", kind)
	}
	if rec.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", rec.Attempts)
	}
}

func TestRetriesExhaustedEscalates(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	mem.TransientFailures = 10
	exec, _ := newTestExecutor(mem)

	var persisted []model.ExecutionRecord
	req := testRequest(func(r model.ExecutionRecord) error {
		persisted = append(persisted, r)
		return nil
	})

	rec, kind, err := exec.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if kind != model.ExecutionFailure {
		t.Errorf("expected ExecutionFailure, got %s", kind)
	}
	if rec.Outcome != model.ExecFailed {
		t.Errorf("expected failed outcome, got %s", rec.Outcome)
	}
	if rec.Attempts != 3 {
		t.Errorf("expected attempts bounded at 3, got %d", rec.Attempts)
	}
	// The failed attempt is still recorded — never silently dropped.
	if len(persisted) != 1 {
		t.Errorf("expected failed record persisted, got %d", len(persisted))
	}
}

func TestCancelledContextStopsExecution(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	exec, store := newTestExecutor(mem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, _, err := exec.Execute(ctx, testRequest(nil))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if rec.Outcome != model.ExecCancelled {
		t.Errorf("expected cancelled outcome, got %s", rec.Outcome)
	}
	if active, _ := store.CooldownActive("ip:203.0.113.9", time.Now().UTC()); active {
		t.Error("cancellation must not leave a cooldown set")
	}
}

func TestRollbackProducesOwnRecord(t *testing.T) {
	mem := adapter.NewMemoryAdapter()
	exec, _ := newTestExecutor(mem)

	var persisted []model.ExecutionRecord
	req := testRequest(func(r model.ExecutionRecord) error {
		persisted = append(persisted, r)
		return nil
	})

	original, _, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	rbRec, err := exec.ExecuteRollback(context.Background(), req, original)
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if !rbRec.IsRollback {
		t.Error("rollback record must be flagged")
	}
	if rbRec.Outcome != model.ExecSucceeded {
		t.Errorf("expected rollback success, got %s", rbRec.Outcome)
	}
	if len(persisted) != 2 {
		t.Errorf("expected original + rollback records, got %d", len(persisted))
	}
	if mem.Applied("no_inbound_from:203.0.113.9") {
		t.Error("rollback should have removed the effect")
	}
}
