// Package engine orchestrates the incident pipeline: classification,
// policy gating, the approval hand-off, three-phase execution,
// postcondition verification, and the state machine tying them
// together. Incidents are independent concurrent units of work; the
// only shared mutable state is the safety store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/approval"
	"github.com/soarhq/riposte/internal/audit"
	"github.com/soarhq/riposte/internal/classify"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/executor"
	"github.com/soarhq/riposte/internal/gate"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/override"
	"github.com/soarhq/riposte/internal/runbook"
	"github.com/soarhq/riposte/internal/safety"
	"github.com/soarhq/riposte/internal/store"
	"github.com/soarhq/riposte/internal/verifier"
)

// Options wires an Engine. Config, Runbooks, Classifier, Adapters,
// Audit and Store are required; Overrides and Logger are optional.
type Options struct {
	Config     *config.Holder
	Runbooks   *runbook.Registry
	Classifier *classify.Classifier
	Adapters   *adapter.Registry
	Audit      *audit.Log
	Store      *store.Store
	Overrides  *override.Store
	Logger     *zap.Logger
}

// Engine drives incidents through the pipeline.
type Engine struct {
	cfg *config.Holder

	// mu guards the hot-swappable catalogs; everything else is
	// immutable after New.
	mu       sync.RWMutex
	runbooks *runbook.Registry
	classify *classify.Classifier

	adapters  *adapter.Registry
	auditLog  *audit.Log
	store     *store.Store
	overrides *override.Store
	log       *zap.Logger

	safety *safety.Store
	broker *approval.Broker
	exec   *executor.Executor
	verify *verifier.Verifier

	wg sync.WaitGroup
}

// New builds an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil || opts.Runbooks == nil || opts.Classifier == nil ||
		opts.Adapters == nil || opts.Audit == nil || opts.Store == nil {
		return nil, fmt.Errorf("engine: missing required collaborator")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	safe := safety.NewStore()
	exec := executor.New(opts.Adapters, safe)
	return &Engine{
		cfg:       opts.Config,
		runbooks:  opts.Runbooks,
		classify:  opts.Classifier,
		adapters:  opts.Adapters,
		auditLog:  opts.Audit,
		store:     opts.Store,
		overrides: opts.Overrides,
		log:       logger,
		safety:    safe,
		broker:    approval.NewBroker(),
		exec:      exec,
		verify:    verifier.New(opts.Adapters, exec),
	}, nil
}

// Broker exposes the approval broker to the server and CLI surfaces.
func (e *Engine) Broker() *approval.Broker { return e.broker }

// SwapCatalogs atomically replaces the runbook registry and classifier
// rules. In-flight incidents keep the catalogs they started with.
func (e *Engine) SwapCatalogs(reg *runbook.Registry, cls *classify.Classifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reg != nil {
		e.runbooks = reg
	}
	if cls != nil {
		e.classify = cls
	}
}

func (e *Engine) catalogs() (*runbook.Registry, *classify.Classifier) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runbooks, e.classify
}

// Safety exposes the safety store for status surfaces and tests.
func (e *Engine) Safety() *safety.Store { return e.safety }

// SubmitOptions carries per-incident flags from the ingestion surface.
type SubmitOptions struct {
	// CommanderOverride is the incident-commander flag that downgrades
	// a blast-radius block to a single approval.
	CommanderOverride bool
}

// Go processes an event on its own goroutine. Failures land in the
// store and the audit log, never on the caller.
func (e *Engine) Go(ctx context.Context, ev model.IncidentEvent, opts SubmitOptions) string {
	id := newIncidentID()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.process(ctx, id, ev, opts); err != nil {
			e.log.Error("incident processing error",
				zap.String("incident_id", id), zap.Error(err))
		}
	}()
	return id
}

// Process runs one event through the pipeline synchronously and
// returns the terminal incident.
func (e *Engine) Process(ctx context.Context, ev model.IncidentEvent, opts SubmitOptions) (model.Incident, error) {
	return e.process(ctx, newIncidentID(), ev, opts)
}

// Drain waits for all in-flight incidents to reach a terminal state.
func (e *Engine) Drain() {
	e.wg.Wait()
}

func newIncidentID() string {
	return "inc-" + uuid.NewString()
}

func (e *Engine) process(ctx context.Context, id string, ev model.IncidentEvent, opts SubmitOptions) (model.Incident, error) {
	snap := e.cfg.Current()
	cfg := snap.Config

	inc := model.Incident{
		ID:            id,
		CorrelationID: uuid.NewString(),
		Event:         ev,
		State:         model.StateReceived,
		Disposition:   model.DispositionOpen,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := e.store.SaveIncident(inc); err != nil {
		return inc, err
	}
	e.audit(snap, &inc, audit.ComponentEngine, -1, "received", "incident accepted", "", "")

	registry, classifier := e.catalogs()

	// Classification. Unclassified is a first-class outcome.
	res := classifier.Classify(&ev)
	if !res.Classified {
		e.audit(snap, &inc, audit.ComponentClassifier, -1, "unclassified", res.Reason, res.RuleID, "")
		return inc, e.finish(&inc, model.StateUnclassified, model.ClassificationAmbiguous, res.Reason)
	}
	rb, ok := registry.Get(res.RunbookID)
	if !ok {
		reason := fmt.Sprintf("rule %s selected unknown runbook %s", res.RuleID, res.RunbookID)
		e.audit(snap, &inc, audit.ComponentClassifier, -1, "unclassified", reason, res.RuleID, "")
		return inc, e.finish(&inc, model.StateUnclassified, model.ClassificationAmbiguous, reason)
	}
	inc.Category = res.Category
	inc.RunbookID = rb.ID
	if err := e.transition(&inc, model.StateClassified, "", res.Reason); err != nil {
		return inc, err
	}
	e.audit(snap, &inc, audit.ComponentClassifier, -1, "classified",
		fmt.Sprintf("category=%s runbook=%s", res.Category, rb.ID), res.RuleID, "")

	// Policy gate. An active emergency override loosens rules 3-5 and
	// is consumed on first use.
	var activeOverride *override.Token
	if e.overrides != nil {
		activeOverride = e.overrides.FindActive()
	}
	decisions := gate.Evaluate(gate.Input{
		IncidentID:             inc.ID,
		Runbook:                rb,
		Target:                 ev.TargetAsset,
		Level:                  cfg.AutonomyLevel(),
		ProtectedAssetClasses:  cfg.ProtectedAssetClasses,
		ServiceAccountPatterns: cfg.ServiceAccountPatterns,
		BlastRadiusCeiling:     cfg.BlastRadiusCeiling,
		CommanderOverride:      opts.CommanderOverride,
		EmergencyOverride:      activeOverride != nil,
		Safety:                 e.safety,
		Now:                    time.Now().UTC(),
	})
	if err := e.transition(&inc, model.StateGated, "", ""); err != nil {
		return inc, err
	}
	for i, d := range decisions {
		e.audit(snap, &inc, audit.ComponentGate, i, string(d.Outcome), d.Reason, d.RuleID, "")
	}
	if overrideUsed(decisions) && activeOverride != nil {
		if err := e.overrides.Consume(activeOverride.ID); err != nil {
			e.log.Warn("override consume failed", zap.Error(err))
		}
		e.audit(snap, &inc, audit.ComponentOverride, -1, "override_applied",
			activeOverride.Reason, "", "critical")
	}

	// Walk the runbook sequentially; the first block or failure aborts
	// the remaining actions.
	for i := range rb.Actions {
		if i >= len(decisions) {
			// Evaluation stopped at an earlier Block.
			break
		}
		d := decisions[i]
		inc.NextAction = i

		switch d.Outcome {
		case model.GateBlock:
			return inc, e.finish(&inc, model.StateBlocked, model.PolicyBlocked, d.Reason)

		case model.GateRequireApproval:
			outcome, err := e.awaitApproval(ctx, snap, &inc, i, d)
			if err != nil {
				return inc, err
			}
			switch outcome {
			case approval.Approved:
				if err := e.transition(&inc, model.StateApproved, "", ""); err != nil {
					return inc, err
				}
			case approval.Denied:
				return inc, e.finish(&inc, model.StateDenied, model.ApprovalDenied, "approval denied")
			case approval.TimedOut:
				return inc, e.finish(&inc, model.StateDenied, model.ApprovalTimedOut, "approval.timeout")
			}
		}

		done, err := e.runAction(ctx, snap, &inc, rb, i, activeOverride != nil)
		if err != nil || done {
			return inc, err
		}
	}

	if inc.State == model.StateVerified {
		inc.NextAction = len(rb.Actions)
		inc.Disposition = model.DispositionClosed
		inc.UpdatedAt = time.Now().UTC()
		if err := e.store.SaveIncident(inc); err != nil {
			return inc, err
		}
		e.audit(snap, &inc, audit.ComponentEngine, -1, "closed", "runbook completed", "", "")
	}
	return inc, nil
}

// awaitApproval parks the incident on the broker without holding any
// safety lock. Timeout resolves like a denial with its own reason code.
func (e *Engine) awaitApproval(ctx context.Context, snap *config.Snapshot, inc *model.Incident, actionIdx int, d model.GateDecision) (approval.Outcome, error) {
	if err := e.transition(inc, model.StateAwaitingApproval, "", d.Reason); err != nil {
		return approval.Denied, err
	}
	handle, err := e.broker.Request(approval.Request{
		IncidentID:        inc.ID,
		ActionIndex:       actionIdx,
		RequiredApprovals: d.RequiredApprovals,
		Reason:            d.Reason,
		CreatedAt:         time.Now().UTC(),
		ExpiresAt:         time.Now().UTC().Add(snap.Config.ApprovalTimeout),
	})
	if err != nil {
		return approval.Denied, err
	}
	e.audit(snap, inc, audit.ComponentApproval, actionIdx, "requested",
		fmt.Sprintf("requires %d approval(s): %s", d.RequiredApprovals, d.Reason), d.RuleID, "")

	outcome := e.broker.Await(ctx, handle, snap.Config.ApprovalTimeout)
	reason := string(outcome)
	if outcome == approval.TimedOut {
		reason = "approval.timeout"
	}
	e.audit(snap, inc, audit.ComponentApproval, actionIdx, string(outcome), reason, "", "")
	e.broker.Forget(handle)
	return outcome, nil
}

// runAction executes and verifies one action. Returns done=true when
// the incident reached a terminal state and the runbook must not
// continue.
func (e *Engine) runAction(ctx context.Context, snap *config.Snapshot, inc *model.Incident, rb *model.Runbook, actionIdx int, overrideActive bool) (bool, error) {
	cfg := snap.Config
	action := rb.Actions[actionIdx]

	// The gate's cooldown check goes stale while the incident is
	// parked on approval, so re-check against live state here. The
	// incident's own window from an earlier action does not block it;
	// an emergency override relaxes this rule like it did at the gate.
	if !overrideActive {
		if blocked, until := e.safety.CooldownBlocks(inc.Event.TargetAsset.Key(), inc.ID, time.Now().UTC()); blocked {
			reason := fmt.Sprintf("cooldown active until %s", until.Format(time.RFC3339))
			e.audit(snap, inc, audit.ComponentGate, actionIdx, "block", reason, gate.RuleCooldown, "")
			return true, e.finish(inc, model.StateBlocked, model.PolicyBlocked, reason)
		}
	}

	// Reserve blast-radius headroom; released once verification
	// reaches a terminal per-action state. Under concurrent incidents
	// the gate's projection can be stale, so the atomic reserve is the
	// authority.
	if !e.safety.Reserve(inc.ID, cfg.BlastRadiusCeiling) {
		e.audit(snap, inc, audit.ComponentGate, actionIdx, "block", "blast radius exceeded", gate.RuleBlastRadius, "")
		return true, e.finish(inc, model.StateBlocked, model.PolicyBlocked, "blast radius exceeded")
	}
	defer e.safety.Release(inc.ID)

	if err := e.transition(inc, model.StateExecuting, "", ""); err != nil {
		return true, err
	}

	rec, kind, execErr := e.exec.Execute(ctx, executor.Request{
		IncidentID:     inc.ID,
		CorrelationID:  inc.CorrelationID,
		ActionIndex:    actionIdx,
		Action:         action,
		Target:         inc.Event.TargetAsset,
		AdapterTimeout: cfg.AdapterTimeout,
		Retry:          cfg.Retry,
		Cooldown:       cfg.CooldownDuration,
		Persist:        e.store.AppendExecution,
	})
	if execErr != nil {
		e.audit(snap, inc, audit.ComponentExecutor, actionIdx, string(rec.Outcome), execErr.Error(), "", "")
		if kind == "" {
			kind = model.ExecutionFailure
		}
		return true, e.finish(inc, model.StateExecutionFailed, kind, execErr.Error())
	}
	e.audit(snap, inc, audit.ComponentExecutor, actionIdx, string(rec.Outcome), rec.Result, "", "")
	if err := e.transition(inc, model.StateExecuted, "", ""); err != nil {
		return true, err
	}

	if err := e.transition(inc, model.StateVerifying, "", ""); err != nil {
		return true, err
	}
	out, verr := e.verify.Verify(ctx, verifier.Request{
		Record:         rec,
		SettleDelay:    cfg.VerifySettleDelay,
		Polls:          cfg.VerifyPolls,
		AdapterTimeout: cfg.AdapterTimeout,
		Retry:          cfg.Retry,
		PersistRecord:  e.store.AppendExecution,
		PersistResult:  e.store.AppendVerification,
	})
	e.audit(snap, inc, audit.ComponentVerifier, actionIdx, verdict(out.Result.Verified),
		fmt.Sprintf("expected=%s observed=%s polls=%d", out.Result.ExpectedEffect, out.Result.ObservedEffect, out.Result.Polls), "", "")

	switch out.Failure {
	case "":
		if err := e.transition(inc, model.StateVerified, "", ""); err != nil {
			return true, err
		}
		return false, nil

	case model.VerificationFailure:
		if out.RollbackRecord != nil {
			e.audit(snap, inc, audit.ComponentVerifier, actionIdx, "rollback",
				"effect not observed, rollback applied and verified", "", "high")
			return true, e.finish(inc, model.StateRolledBack, model.VerificationFailure, "effect not observed; rolled back")
		}
		// Verification aborted (shutdown) before rollback ran.
		return true, e.finish(inc, model.StateUnrecoverable, model.VerificationFailure, verifyReason(verr))

	default: // model.UnrecoverableFailure
		e.audit(snap, inc, audit.ComponentVerifier, actionIdx, "unrecoverable", verifyReason(verr), "", "critical")
		return true, e.finish(inc, model.StateUnrecoverable, model.UnrecoverableFailure, verifyReason(verr))
	}
}

// finish moves the incident to a terminal state and persists it.
func (e *Engine) finish(inc *model.Incident, to model.IncidentState, kind model.FailureKind, reason string) error {
	if err := e.transition(inc, to, kind, reason); err != nil {
		return err
	}
	snap := e.cfg.Current()
	sev := ""
	if inc.Disposition == model.DispositionEscalated {
		sev = "high"
	}
	e.audit(snap, inc, audit.ComponentEngine, -1, "terminal:"+string(to), reason, "", sev)
	return nil
}

// transition performs one legal state-machine edge and persists the
// incident. Illegal edges are programming errors and surface loudly.
func (e *Engine) transition(inc *model.Incident, to model.IncidentState, kind model.FailureKind, reason string) error {
	if !model.CanTransition(inc.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for incident %s", inc.State, to, inc.ID)
	}
	inc.State = to
	inc.Disposition = model.DispositionOf(to)
	if kind != "" {
		inc.Failure = kind
	}
	if reason != "" {
		inc.Reason = reason
	}
	inc.UpdatedAt = time.Now().UTC()
	return e.store.SaveIncident(*inc)
}

func (e *Engine) audit(snap *config.Snapshot, inc *model.Incident, component string, actionIdx int, decision, reason, ruleID, severity string) {
	entry := audit.Entry{
		CorrelationID: inc.CorrelationID,
		IncidentID:    inc.ID,
		Component:     component,
		Decision:      decision,
		Reason:        reason,
		RuleID:        ruleID,
		Severity:      severity,
		ConfigHash:    snap.Hash,
	}
	if actionIdx >= 0 {
		entry.ActionIndex = actionIdx + 1 // 1-based so omitempty keeps index 0 distinct from unset
	}
	if err := e.auditLog.Record(entry); err != nil {
		e.log.Error("audit write failed", zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

func overrideUsed(decisions []model.GateDecision) bool {
	for _, d := range decisions {
		if d.Overridden {
			return true
		}
	}
	return false
}

func verdict(verified bool) string {
	if verified {
		return "verified"
	}
	return "not_verified"
}

func verifyReason(err error) string {
	if err != nil {
		return err.Error()
	}
	return "verification failed"
}
