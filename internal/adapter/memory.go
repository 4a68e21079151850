package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/soarhq/riposte/internal/model"
)

// MemoryAdapter is an in-process Adapter for tests and simulation.
// Effects are tracked in a set keyed by the expanded expected-effect
// string; rollback removes the effect its token created. Failure
// injection fields steer specific phases.
type MemoryAdapter struct {
	mu      sync.Mutex
	effects map[string]bool   // effect key → applied
	tokens  map[string]string // rollback token → effect key

	// Failure injection. Zero values mean a fully healthy adapter.
	FailDryRun        bool
	FailPreconditions bool
	TransientFailures int  // first N Execute calls fail with ErrTransient
	FailExecute       bool // Execute reports ok=false permanently
	SuppressEffect    bool // Execute succeeds but the effect never lands
	FailRollback      bool

	executeCalls int
}

// NewMemoryAdapter creates a healthy in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		effects: make(map[string]bool),
		tokens:  make(map[string]string),
	}
}

// effectKey derives the effect identity from operation parameters. The
// executor passes the expanded expected effect as the "__effect" param.
func effectKey(op string, params map[string]string) string {
	if e, ok := params["__effect"]; ok && e != "" {
		return e
	}
	return op
}

// DryRun reports feasibility without mutating anything.
func (m *MemoryAdapter) DryRun(ctx context.Context, op string, params map[string]string) (model.DryRunResult, error) {
	if err := ctx.Err(); err != nil {
		return model.DryRunResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDryRun {
		return model.DryRunResult{
			OK:     false,
			Detail: fmt.Sprintf("operation %s not feasible", op),
		}, nil
	}

	key := effectKey(op, params)
	if m.effects[key] {
		return model.DryRunResult{
			OK:     false,
			Detail: "effect already applied",
		}, nil
	}

	return model.DryRunResult{
		OK:                   true,
		AssumedPreconditions: []string{"target_exists", "effect_absent:" + key},
	}, nil
}

// CheckPreconditions re-verifies dry-run assumptions.
func (m *MemoryAdapter) CheckPreconditions(ctx context.Context, assumed []string, params map[string]string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPreconditions {
		return false, "precondition no longer holds", nil
	}
	return true, "", nil
}

// Execute applies the effect and returns a rollback token.
func (m *MemoryAdapter) Execute(ctx context.Context, op string, params map[string]string) (ExecuteResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecuteResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.executeCalls++
	if m.TransientFailures > 0 {
		m.TransientFailures--
		return ExecuteResult{}, fmt.Errorf("%w: simulated timeout", ErrTransient)
	}
	if m.FailExecute {
		return ExecuteResult{OK: false, Result: "execution rejected"}, nil
	}

	key := effectKey(op, params)
	token := "rb-" + uuid.NewString()
	m.tokens[token] = key
	if !m.SuppressEffect {
		m.effects[key] = true
	}

	return ExecuteResult{
		OK:            true,
		RollbackToken: token,
		Result:        fmt.Sprintf("%s applied", op),
	}, nil
}

// Verify reports whether the expected effect is currently observable.
func (m *MemoryAdapter) Verify(ctx context.Context, expectedEffect string, target model.TargetAsset) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.effects[expectedEffect] {
		return Observation{ObservedEffect: expectedEffect, Matches: true}, nil
	}
	return Observation{ObservedEffect: "effect_absent", Matches: false}, nil
}

// Rollback removes the effect the token's execution applied.
func (m *MemoryAdapter) Rollback(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailRollback {
		return fmt.Errorf("rollback rejected by target system")
	}

	key, ok := m.tokens[token]
	if !ok {
		return fmt.Errorf("unknown rollback token %q", token)
	}
	delete(m.effects, key)
	delete(m.tokens, token)
	return nil
}

// Applied reports whether an effect is currently in force.
func (m *MemoryAdapter) Applied(effect string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effects[effect]
}

// ExecuteCalls returns how many Execute attempts were made.
func (m *MemoryAdapter) ExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls
}
