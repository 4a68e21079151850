// Package adapter defines the only contract the engine has with
// external enforcement systems. Concrete vendor integrations (EDR,
// identity provider, firewall, SIEM) are pluggable implementations
// registered per tool name; the engine never imports a vendor SDK.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/soarhq/riposte/internal/model"
)

// ExecuteResult is what an adapter returns from a real execution.
type ExecuteResult struct {
	OK            bool   `json:"ok"`
	RollbackToken string `json:"rollback_token"`
	Result        string `json:"result"`
}

// Observation is an adapter's report of the target's current state.
type Observation struct {
	ObservedEffect string `json:"observed_effect"`
	Matches        bool   `json:"matches"`
}

// ErrTransient marks adapter failures worth retrying (timeouts,
// throttling). Anything else is permanent for the current attempt.
var ErrTransient = errors.New("transient adapter error")

// Adapter is the per-enforcement-domain tool contract. All calls are
// I/O-bound and must honor ctx cancellation and deadlines.
type Adapter interface {
	// DryRun reports whether the operation would succeed and which
	// preconditions it assumes, without mutating target state.
	DryRun(ctx context.Context, op string, params map[string]string) (model.DryRunResult, error)

	// Execute performs the real operation. The returned rollback token
	// is opaque to the engine.
	Execute(ctx context.Context, op string, params map[string]string) (ExecuteResult, error)

	// CheckPreconditions re-verifies the assumptions a dry run reported,
	// immediately before execution.
	CheckPreconditions(ctx context.Context, assumed []string, params map[string]string) (bool, string, error)

	// Verify re-queries the target for the expected effect.
	Verify(ctx context.Context, expectedEffect string, target model.TargetAsset) (Observation, error)

	// Rollback undoes an executed operation using its rollback token.
	Rollback(ctx context.Context, token string) error
}

// Registry maps tool names (identity, endpoint, network, telemetry)
// to their adapters. Registration happens at startup; lookups are
// concurrent-safe.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a tool name, replacing any previous one.
func (r *Registry) Register(tool string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[tool] = a
}

// Get returns the adapter for a tool.
func (r *Registry) Get(tool string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tool]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for tool %q", tool)
	}
	return a, nil
}

// Tools returns the registered tool names, sorted.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}
