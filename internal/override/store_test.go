package override

import (
	"testing"
	"time"
)

func TestCreateRequiresReasonAndGrantor(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Create("", "admin", 0); err == nil {
		t.Error("empty reason should be rejected")
	}
	if _, err := s.Create("DC outage", "", 0); err == nil {
		t.Error("empty grantor should be rejected")
	}
	if _, err := s.Create("DC outage", "admin", 2*time.Hour); err == nil {
		t.Error("duration above maximum should be rejected")
	}
}

func TestSingleUseConsumption(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	token, err := s.Create("active ransomware outbreak", "ic-on-call", 0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	found := s.FindActive()
	if found == nil || found.ID != token.ID {
		t.Fatal("active token not found")
	}

	if err := s.Consume(token.ID); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if err := s.Consume(token.ID); err == nil {
		t.Error("second consume of single-use token should fail")
	}
	if s.FindActive() != nil {
		t.Error("consumed token must not be active")
	}
}

func TestRevokedTokenInactive(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	token, err := s.Create("scheduled failover", "admin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(token.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if s.FindActive() != nil {
		t.Error("revoked token must not be active")
	}
}

func TestExpiredTokenInactive(t *testing.T) {
	token := &Token{
		ID:        "ov-test",
		Reason:    "r",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if token.IsActive() {
		t.Error("expired token must not be active")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Consume("../../etc/passwd"); err == nil {
		t.Error("path traversal id should be rejected")
	}
}
