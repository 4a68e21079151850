// Package override manages emergency override tokens: bounded-duration,
// single-use bypasses of the policy gate, settable only through the
// privileged administrative path and always audited at high severity.
package override

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// validID matches alphanumeric and dash characters only (ov-<hex>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

const (
	// DefaultDuration is the default override validity window.
	DefaultDuration = 10 * time.Minute
	// MaxDuration caps the override window. An unbounded override
	// would disable the gate permanently.
	MaxDuration = 1 * time.Hour
)

// Token represents one emergency override grant.
type Token struct {
	ID        string     `json:"id"`
	Reason    string     `json:"reason"`
	GrantedBy string     `json:"granted_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsActive returns true if the token is not expired, not used, not revoked.
func (t *Token) IsActive() bool {
	if t.UsedAt != nil || t.RevokedAt != nil {
		return false
	}
	return time.Now().UTC().Before(t.ExpiresAt)
}

// Store manages override token files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create override directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default override store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "riposte-override")
	}
	return filepath.Join(home, ".riposte", "override")
}

// Create grants a new override token with a mandatory reason and grantor.
func (s *Store) Create(reason, grantedBy string, duration time.Duration) (*Token, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("override reason is required")
	}
	if strings.TrimSpace(grantedBy) == "" {
		return nil, fmt.Errorf("override grantor identity is required")
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		return nil, fmt.Errorf("override duration %s exceeds maximum %s", duration, MaxDuration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	token := &Token{
		ID:        id,
		Reason:    reason,
		GrantedBy: grantedBy,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	if err := s.writeAtomic(s.path(id), token); err != nil {
		return nil, fmt.Errorf("failed to write token: %w", err)
	}

	return token, nil
}

// FindActive returns the first active token, or nil.
func (s *Store) FindActive() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		token, err := s.read(id)
		if err != nil {
			continue
		}
		if token.IsActive() {
			return token
		}
	}

	return nil
}

// Consume marks a token as used. Returns an error if not active.
func (s *Store) Consume(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("override token %q not found: %w", id, err)
	}
	if !token.IsActive() {
		return fmt.Errorf("override token %q is not active", id)
	}

	now := time.Now().UTC()
	token.UsedAt = &now
	return s.writeAtomic(s.path(id), token)
}

// Revoke cancels a token before use.
func (s *Store) Revoke(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("override token %q not found: %w", id, err)
	}
	if token.RevokedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	token.RevokedAt = &now
	return s.writeAtomic(s.path(id), token)
}

// List returns all tokens in the store.
func (s *Store) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		token, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	return tokens, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Token, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("corrupt token file: %w", err)
	}
	return &token, nil
}

// writeAtomic writes via a temp file and rename so readers never see a
// partial token.
func (s *Store) writeAtomic(path string, token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return "ov-" + hex.EncodeToString(b), nil
}
