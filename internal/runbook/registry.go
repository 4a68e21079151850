// Package runbook holds the static catalog of response procedures.
// Runbooks are loaded once at startup and hot-swapped by replacing the
// whole registry pointer; individual runbooks are never mutated during
// processing.
package runbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soarhq/riposte/internal/model"
)

// Registry is an immutable catalog of runbooks keyed by ID.
type Registry struct {
	byID   map[string]*model.Runbook
	hash   string
	source string
}

// catalogFile is the YAML shape of a runbook catalog on disk.
type catalogFile struct {
	Runbooks []model.Runbook `yaml:"runbooks"`
}

// NewRegistry builds a registry from a fixed set of runbooks.
// Duplicate IDs and runbooks without actions are rejected.
func NewRegistry(books []model.Runbook) (*Registry, error) {
	byID := make(map[string]*model.Runbook, len(books))
	for i := range books {
		rb := books[i]
		if rb.ID == "" {
			return nil, fmt.Errorf("runbook %d has no id", i)
		}
		if len(rb.Actions) == 0 {
			return nil, fmt.Errorf("runbook %q has no actions", rb.ID)
		}
		if _, dup := byID[rb.ID]; dup {
			return nil, fmt.Errorf("duplicate runbook id %q", rb.ID)
		}
		for j, a := range rb.Actions {
			if a.Tool == "" || a.Operation == "" {
				return nil, fmt.Errorf("runbook %q action %d missing tool or operation", rb.ID, j)
			}
		}
		byID[rb.ID] = &rb
	}
	return &Registry{byID: byID}, nil
}

// Load reads a runbook catalog from a YAML file and merges it over the
// builtin catalog (file entries win on ID collision). Empty path
// returns builtins only. The registry hash covers the raw file bytes.
func Load(path string) (*Registry, error) {
	books := Builtin()

	var hash string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fromBooks(books, "", path)
			}
			return nil, fmt.Errorf("read runbook catalog: %w", err)
		}
		var cat catalogFile
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("parse runbook catalog: %w", err)
		}
		books = merge(books, cat.Runbooks)
		h := sha256.Sum256(data)
		hash = "sha256:" + hex.EncodeToString(h[:])
	}

	return fromBooks(books, hash, path)
}

func fromBooks(books []model.Runbook, hash, source string) (*Registry, error) {
	reg, err := NewRegistry(books)
	if err != nil {
		return nil, err
	}
	reg.hash = hash
	reg.source = source
	return reg, nil
}

func merge(base, extra []model.Runbook) []model.Runbook {
	out := make([]model.Runbook, 0, len(base)+len(extra))
	replaced := make(map[string]bool, len(extra))
	for _, rb := range extra {
		replaced[rb.ID] = true
	}
	for _, rb := range base {
		if !replaced[rb.ID] {
			out = append(out, rb)
		}
	}
	return append(out, extra...)
}

// Get returns the runbook with the given ID.
func (r *Registry) Get(id string) (*model.Runbook, bool) {
	rb, ok := r.byID[id]
	return rb, ok
}

// IDs returns all registered runbook IDs.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered runbooks.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Hash returns the catalog file hash, empty for builtins only.
func (r *Registry) Hash() string {
	return r.hash
}
