// Package executor runs one runbook action through the three-phase
// protocol: dry-run, precondition check, real execution. Each phase is
// an adapter call with its own timeout; transient errors are retried
// with bounded exponential backoff. A successful execution commits the
// target's cooldown and the ExecutionRecord inside a single critical
// section.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/safety"
)

// Executor orchestrates adapter calls for one action at a time.
type Executor struct {
	adapters *adapter.Registry
	safety   *safety.Store
}

// New creates an executor over the given adapter registry and safety store.
func New(adapters *adapter.Registry, store *safety.Store) *Executor {
	return &Executor{adapters: adapters, safety: store}
}

// Request carries one action execution.
type Request struct {
	IncidentID    string
	CorrelationID string
	ActionIndex   int
	Action        model.ActionSpec
	Target        model.TargetAsset

	AdapterTimeout time.Duration
	Retry          config.RetryConfig
	Cooldown       time.Duration

	// Persist writes the ExecutionRecord; it runs inside the safety
	// store's critical section together with the cooldown update.
	Persist func(model.ExecutionRecord) error
}

// ExpandParams substitutes the {{target}} placeholder in the action's
// parameter template and tags the expanded expected effect for the
// adapter.
func ExpandParams(action model.ActionSpec, target model.TargetAsset) map[string]string {
	params := make(map[string]string, len(action.Parameters)+1)
	for k, v := range action.Parameters {
		params[k] = strings.ReplaceAll(v, "{{target}}", target.Value)
	}
	params["__effect"] = ExpandEffect(action.ExpectedEffect, target)
	return params
}

// ExpandEffect substitutes the {{target}} placeholder in an expected
// effect declaration.
func ExpandEffect(effect string, target model.TargetAsset) string {
	return strings.ReplaceAll(effect, "{{target}}", target.Value)
}

// Execute runs the three-phase protocol and returns the record. The
// record is persisted for every outcome, success or not — the engine
// never silently drops a failed action. The returned FailureKind is
// empty on success.
func (e *Executor) Execute(ctx context.Context, req Request) (model.ExecutionRecord, model.FailureKind, error) {
	rec := model.ExecutionRecord{
		IncidentID:    req.IncidentID,
		CorrelationID: req.CorrelationID,
		ActionIndex:   req.ActionIndex,
		Action:        req.Action,
		Target:        req.Target,
		ExecutedAt:    time.Now().UTC(),
	}

	tool, err := e.adapters.Get(req.Action.Tool)
	if err != nil {
		rec.Outcome = model.ExecFailed
		rec.Result = err.Error()
		return e.persistFailure(rec, req), model.ExecutionFailure, err
	}

	params := ExpandParams(req.Action, req.Target)

	// Phase 1: dry-run.
	dryRun, err := e.callDryRun(ctx, tool, req, params)
	rec.DryRun = dryRun
	if err != nil {
		rec.Outcome = outcomeForErr(err)
		rec.Result = err.Error()
		return e.persistFailure(rec, req), model.ExecutionFailure, err
	}
	if !dryRun.OK {
		rec.Outcome = model.ExecDryRunRejected
		rec.Result = dryRun.Detail
		return e.persistFailure(rec, req), model.PreconditionFailure,
			fmt.Errorf("dry-run rejected: %s", dryRun.Detail)
	}

	// Phase 2: precondition check against the dry-run's assumptions.
	callCtx, cancel := context.WithTimeout(ctx, req.AdapterTimeout)
	ok, detail, err := tool.CheckPreconditions(callCtx, dryRun.AssumedPreconditions, params)
	cancel()
	if err != nil {
		rec.Outcome = outcomeForErr(err)
		rec.Result = err.Error()
		return e.persistFailure(rec, req), model.ExecutionFailure, err
	}
	if !ok {
		rec.Outcome = model.ExecPreconditionFailed
		rec.Result = detail
		return e.persistFailure(rec, req), model.PreconditionFailure,
			fmt.Errorf("precondition failed: %s", detail)
	}
	rec.PrecondPassed = true

	// Phase 3: execute, retrying transient adapter errors.
	result, attempts, err := e.callExecute(ctx, tool, req, params)
	rec.Attempts = attempts
	if err != nil {
		rec.Outcome = outcomeForErr(err)
		rec.Result = err.Error()
		return e.persistFailure(rec, req), model.ExecutionFailure, err
	}
	if !result.OK {
		rec.Outcome = model.ExecFailed
		rec.Result = result.Result
		return e.persistFailure(rec, req), model.ExecutionFailure,
			fmt.Errorf("adapter rejected execution: %s", result.Result)
	}

	rec.Outcome = model.ExecSucceeded
	rec.Result = result.Result
	rec.RollbackData = result.RollbackToken

	// Cooldown and record commit share one critical section: a crash
	// between the two is impossible by construction.
	until := time.Now().UTC().Add(req.Cooldown)
	if err := e.safety.CommitExecution(req.Target.Key(), req.IncidentID, until, func() error {
		if req.Persist == nil {
			return nil
		}
		return req.Persist(rec)
	}); err != nil {
		return rec, model.ExecutionFailure, fmt.Errorf("commit execution record: %w", err)
	}

	return rec, "", nil
}

// ExecuteRollback performs a rollback as a first-class action attempt,
// producing its own ExecutionRecord.
func (e *Executor) ExecuteRollback(ctx context.Context, req Request, original model.ExecutionRecord) (model.ExecutionRecord, error) {
	rec := model.ExecutionRecord{
		IncidentID:    req.IncidentID,
		CorrelationID: req.CorrelationID,
		ActionIndex:   req.ActionIndex,
		Action:        req.Action,
		Target:        req.Target,
		IsRollback:    true,
		PrecondPassed: true,
		ExecutedAt:    time.Now().UTC(),
	}

	tool, err := e.adapters.Get(req.Action.Tool)
	if err != nil {
		rec.Outcome = model.ExecFailed
		rec.Result = err.Error()
		return e.persistFailure(rec, req), err
	}

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, req.AdapterTimeout)
		defer cancel()
		err := tool.Rollback(callCtx, original.RollbackData)
		if err != nil && !errors.Is(err, adapter.ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		return operation()
	}, e.retryPolicy(ctx, req.Retry))
	rec.Attempts = attempts

	if err != nil {
		rec.Outcome = model.ExecFailed
		rec.Result = err.Error()
		return e.persistFailure(rec, req), fmt.Errorf("rollback failed: %w", err)
	}

	rec.Outcome = model.ExecSucceeded
	rec.Result = "rollback applied"
	if req.Persist != nil {
		if err := req.Persist(rec); err != nil {
			return rec, fmt.Errorf("persist rollback record: %w", err)
		}
	}
	return rec, nil
}

func (e *Executor) callDryRun(ctx context.Context, tool adapter.Adapter, req Request, params map[string]string) (model.DryRunResult, error) {
	var out model.DryRunResult
	err := backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, req.AdapterTimeout)
		defer cancel()
		res, err := tool.DryRun(callCtx, req.Action.Operation, params)
		if err != nil {
			if errors.Is(err, adapter.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}, e.retryPolicy(ctx, req.Retry))
	return out, err
}

func (e *Executor) callExecute(ctx context.Context, tool adapter.Adapter, req Request, params map[string]string) (adapter.ExecuteResult, int, error) {
	var out adapter.ExecuteResult
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, req.AdapterTimeout)
		defer cancel()
		res, err := tool.Execute(callCtx, req.Action.Operation, params)
		if err != nil {
			if errors.Is(err, adapter.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}, e.retryPolicy(ctx, req.Retry))
	return out, attempts, err
}

// retryPolicy builds the bounded exponential backoff for adapter calls.
func (e *Executor) retryPolicy(ctx context.Context, cfg config.RetryConfig) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	max := uint64(cfg.MaxAttempts)
	if max == 0 {
		max = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, max-1), ctx)
}

// persistFailure writes a failed record outside the safety critical
// section — failures set no cooldown.
func (e *Executor) persistFailure(rec model.ExecutionRecord, req Request) model.ExecutionRecord {
	if req.Persist != nil {
		_ = req.Persist(rec)
	}
	return rec
}

func outcomeForErr(err error) model.ExecutionOutcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.ExecCancelled
	}
	return model.ExecFailed
}
