// Package verifier confirms that an executed action achieved its
// intended effect by re-querying the same enforcement system that
// performed it. Verification failure triggers an automatic rollback;
// the rollback is a first-class execution that is itself verified.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/executor"
	"github.com/soarhq/riposte/internal/model"
)

// Verifier re-queries targets and drives rollback on mismatch.
type Verifier struct {
	adapters *adapter.Registry
	exec     *executor.Executor
}

// New creates a verifier sharing the executor's adapter registry.
func New(adapters *adapter.Registry, exec *executor.Executor) *Verifier {
	return &Verifier{adapters: adapters, exec: exec}
}

// Request carries one verification.
type Request struct {
	Record model.ExecutionRecord

	SettleDelay    time.Duration // absorbed before the first poll
	Polls          int           // re-query attempts before declaring failure
	AdapterTimeout time.Duration
	Retry          config.RetryConfig

	// PersistRecord stores the rollback ExecutionRecord if one is made.
	PersistRecord func(model.ExecutionRecord) error
	// PersistResult stores each VerificationResult.
	PersistResult func(model.VerificationResult) error
}

// Outcome bundles everything one verification produced.
type Outcome struct {
	Result         model.VerificationResult
	RollbackRecord *model.ExecutionRecord
	RollbackResult *model.VerificationResult
	Failure        model.FailureKind // empty when verified
}

// Verify polls for the expected effect and rolls back on failure.
//
// Terminal combinations:
//   - verified            → Failure == ""
//   - rolled back cleanly → Failure == VerificationFailure
//   - rollback failed     → Failure == UnrecoverableFailure
func (v *Verifier) Verify(ctx context.Context, req Request) (Outcome, error) {
	expected := executor.ExpandEffect(req.Record.Action.ExpectedEffect, req.Record.Target)

	observed, matched, polls, err := v.poll(ctx, req, expected, true)
	result := model.VerificationResult{
		IncidentID:     req.Record.IncidentID,
		ActionIndex:    req.Record.ActionIndex,
		ExpectedEffect: expected,
		ObservedEffect: observed,
		Verified:       matched,
		Polls:          polls,
		VerifiedAt:     time.Now().UTC(),
	}
	if err != nil {
		result.ObservedEffect = err.Error()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown mid-verification: leave the incident for review
			// instead of rolling back an action of unknown effect.
			v.persistResult(req, result)
			return Outcome{Result: result, Failure: model.VerificationFailure}, err
		}
	}

	if matched {
		v.persistResult(req, result)
		return Outcome{Result: result}, nil
	}

	// Effect not observed: invoke the automatic rollback.
	result.RollbackInvoked = true
	v.persistResult(req, result)

	out := Outcome{Result: result, Failure: model.VerificationFailure}

	rbReq := executor.Request{
		IncidentID:     req.Record.IncidentID,
		CorrelationID:  req.Record.CorrelationID,
		ActionIndex:    req.Record.ActionIndex,
		Action:         req.Record.Action,
		Target:         req.Record.Target,
		AdapterTimeout: req.AdapterTimeout,
		Retry:          req.Retry,
		Persist:        req.PersistRecord,
	}
	rbRec, rbErr := v.exec.ExecuteRollback(ctx, rbReq, req.Record)
	out.RollbackRecord = &rbRec
	if rbErr != nil {
		out.Failure = model.UnrecoverableFailure
		return out, fmt.Errorf("rollback execution failed: %w", rbErr)
	}

	// Verify the rollback itself: the effect must now be absent.
	rbObserved, stillPresent, rbPolls, rbVerifyErr := v.poll(ctx, req, expected, false)
	rbResult := model.VerificationResult{
		IncidentID:     req.Record.IncidentID,
		ActionIndex:    req.Record.ActionIndex,
		ExpectedEffect: "absent:" + expected,
		ObservedEffect: rbObserved,
		Verified:       !stillPresent && rbVerifyErr == nil,
		Polls:          rbPolls,
		VerifiedAt:     time.Now().UTC(),
	}
	out.RollbackResult = &rbResult
	v.persistResult(req, rbResult)

	if !rbResult.Verified {
		out.Failure = model.UnrecoverableFailure
		if rbVerifyErr != nil {
			return out, fmt.Errorf("rollback verification failed: %w", rbVerifyErr)
		}
		return out, fmt.Errorf("rollback verification failed: effect still observed")
	}

	return out, nil
}

// poll re-queries the adapter up to req.Polls times. wantPresent
// selects whether polling succeeds on the effect being observed
// (post-execution check) or absent (post-rollback check). Returns the
// last observation, whether the effect was present, and the poll count.
func (v *Verifier) poll(ctx context.Context, req Request, expected string, wantPresent bool) (string, bool, int, error) {
	tool, err := v.adapters.Get(req.Record.Action.Tool)
	if err != nil {
		return "", false, 0, err
	}

	if req.SettleDelay > 0 {
		select {
		case <-time.After(req.SettleDelay):
		case <-ctx.Done():
			return "", false, 0, ctx.Err()
		}
	}

	polls := req.Polls
	if polls < 1 {
		polls = 1
	}

	var lastObserved string
	var lastErr error
	present := false
	for i := 0; i < polls; i++ {
		if i > 0 {
			select {
			case <-time.After(req.SettleDelay):
			case <-ctx.Done():
				return lastObserved, present, i, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, req.AdapterTimeout)
		obs, err := tool.Verify(callCtx, expected, req.Record.Target)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		lastObserved = obs.ObservedEffect
		present = obs.Matches
		if present == wantPresent {
			return lastObserved, present, i + 1, nil
		}
	}

	return lastObserved, present, polls, lastErr
}

func (v *Verifier) persistResult(req Request, result model.VerificationResult) {
	if req.PersistResult != nil {
		_ = req.PersistResult(result)
	}
}
