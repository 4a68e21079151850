package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSingleApprovalResolves(t *testing.T) {
	b := NewBroker()
	handle, err := b.Request(Request{IncidentID: "inc-1", ActionIndex: 0, RequiredApprovals: 1})
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Resolve(handle, "alice", true); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if got := b.Await(context.Background(), handle, time.Second); got != Approved {
		t.Errorf("expected Approved, got %s", got)
	}
}

func TestDualApprovalNeedsDistinctIdentities(t *testing.T) {
	b := NewBroker()
	handle, _ := b.Request(Request{IncidentID: "inc-1", ActionIndex: 0, RequiredApprovals: 2})

	if err := b.Resolve(handle, "alice", true); err != nil {
		t.Fatalf("first approval failed: %v", err)
	}

	// Duplicate from the same identity must be rejected and not count.
	err := b.Resolve(handle, "alice", true)
	if !errors.Is(err, ErrDuplicateApprover) {
		t.Fatalf("expected ErrDuplicateApprover, got %v", err)
	}

	st, ok := b.Get(handle)
	if !ok {
		t.Fatal("request vanished")
	}
	if st.Resolved {
		t.Fatal("one distinct identity must not satisfy a dual-approval threshold")
	}

	if err := b.Resolve(handle, "bob", true); err != nil {
		t.Fatalf("second distinct approval failed: %v", err)
	}
	if got := b.Await(context.Background(), handle, time.Second); got != Approved {
		t.Errorf("expected Approved after two distinct approvers, got %s", got)
	}
}

func TestDenyIsImmediatelyTerminal(t *testing.T) {
	b := NewBroker()
	handle, _ := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 2})

	b.Resolve(handle, "alice", true)
	if err := b.Resolve(handle, "bob", false); err != nil {
		t.Fatalf("deny failed: %v", err)
	}
	if got := b.Await(context.Background(), handle, time.Second); got != Denied {
		t.Errorf("expected Denied, got %s", got)
	}

	if err := b.Resolve(handle, "carol", true); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("resolve after terminal state should fail, got %v", err)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	b := NewBroker()
	handle, _ := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 1})

	start := time.Now()
	got := b.Await(context.Background(), handle, 20*time.Millisecond)
	if got != TimedOut {
		t.Fatalf("expected TimedOut, got %s", got)
	}
	if time.Since(start) > time.Second {
		t.Error("await did not respect timeout")
	}

	// Late approval after timeout must not flip the outcome.
	if err := b.Resolve(handle, "alice", true); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved after timeout, got %v", err)
	}
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	b := NewBroker()
	handle, _ := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if got := b.Await(ctx, handle, time.Minute); got != TimedOut {
		t.Errorf("cancelled await should report TimedOut, got %s", got)
	}
}

func TestPendingListing(t *testing.T) {
	b := NewBroker()
	h1, _ := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 1, CreatedAt: time.Now().UTC().Add(-time.Minute)})
	h2, _ := b.Request(Request{IncidentID: "inc-2", RequiredApprovals: 2})

	pending := b.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Handle != h1 {
		t.Error("pending list should be oldest first")
	}

	b.Resolve(h1, "alice", true)
	pending = b.Pending()
	if len(pending) != 1 || pending[0].Handle != h2 {
		t.Errorf("resolved request should leave pending list")
	}
}

func TestInvalidRequiredApprovals(t *testing.T) {
	b := NewBroker()
	if _, err := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 0}); err == nil {
		t.Error("0 required approvals should be rejected")
	}
	if _, err := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 3}); err == nil {
		t.Error("3 required approvals should be rejected")
	}
}

func TestForgetDropsOnlyResolved(t *testing.T) {
	b := NewBroker()
	handle, _ := b.Request(Request{IncidentID: "inc-1", RequiredApprovals: 1})

	b.Forget(handle)
	if _, ok := b.Get(handle); !ok {
		t.Fatal("unresolved request must survive Forget")
	}

	b.Resolve(handle, "alice", true)
	b.Forget(handle)
	if _, ok := b.Get(handle); ok {
		t.Error("resolved request should be dropped")
	}
}
