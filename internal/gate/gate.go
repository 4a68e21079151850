// Package gate decides, per runbook action, whether the engine may act
// on its own: auto-execute, require one or two approvals, or block.
//
// Evaluation order per action (must not be changed, first blocking
// rule wins):
//  1. Asset-class protection — protected classes always require dual
//     approval, regardless of autonomy level
//  2. Service-account protection — hard block, never overridable
//  3. Cooldown — block while the target's window is active
//  4. Blast radius — block beyond the in-flight ceiling
//  5. Autonomy default — level × operation class
//
// An active emergency override bypasses rules 3-5 and downgrades rule 1
// to a single approval; rule 2 is structural and survives everything.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/soarhq/riposte/internal/model"
)

// SafetyView is the read access the gate needs on shared safety state.
type SafetyView interface {
	CooldownActive(targetKey string, now time.Time) (bool, time.Time)
	InFlight(incidentID string) int
}

// Input carries everything one gate evaluation depends on. The config
// fields are copied from an immutable snapshot so a hot reload cannot
// change the rules mid-evaluation.
type Input struct {
	IncidentID string
	Runbook    *model.Runbook
	Target     model.TargetAsset
	Level      model.AutonomyLevel

	ProtectedAssetClasses  []string
	ServiceAccountPatterns []string
	BlastRadiusCeiling     int

	// CommanderOverride is the per-incident incident-commander flag
	// that downgrades a blast-radius block to a single approval.
	CommanderOverride bool

	// EmergencyOverride reports an active engine-wide override token.
	EmergencyOverride bool

	Safety SafetyView
	Now    time.Time
}

// Rule identifiers recorded in audit entries.
const (
	RuleProtectedAsset = "gate.protected_asset"
	RuleServiceAccount = "gate.service_account"
	RuleCooldown       = "gate.cooldown"
	RuleBlastRadius    = "gate.blast_radius"
	RuleAutonomy       = "gate.autonomy_default"
)

// Evaluate produces one GateDecision per action, evaluated sequentially:
// an earlier action's projected blast-radius reservation affects later
// evaluations within the same incident. The first Block terminates
// evaluation — remaining actions are not decided, because a Block
// escalates the whole incident.
func Evaluate(in Input) []model.GateDecision {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	decisions := make([]model.GateDecision, 0, len(in.Runbook.Actions))
	projected := 0
	if in.Safety != nil {
		projected = in.Safety.InFlight(in.IncidentID)
	}

	for i := range in.Runbook.Actions {
		action := &in.Runbook.Actions[i]
		d := evaluateAction(in, action, now, projected)
		decisions = append(decisions, d)
		if d.Outcome == model.GateBlock {
			return decisions
		}
		// Project this action's reservation onto later evaluations.
		projected++
	}
	return decisions
}

func evaluateAction(in Input, action *model.ActionSpec, now time.Time, projected int) model.GateDecision {
	// Rule 1: asset-class protection.
	if matchAny(in.ProtectedAssetClasses, action.TargetClass) {
		required := 2
		overridden := false
		if in.EmergencyOverride {
			// The override narrows dual control to a single approver;
			// it never makes a protected-class action automatic.
			required = 1
			overridden = true
		}
		return model.GateDecision{
			Outcome:           model.GateRequireApproval,
			RequiredApprovals: required,
			Reason:            fmt.Sprintf("target class %q is protected", action.TargetClass),
			RuleID:            RuleProtectedAsset,
			Overridden:        overridden,
		}
	}

	// Rule 2: service-account protection. Structural — no override path.
	if targetsAccount(action, in.Target) && matchAny(in.ServiceAccountPatterns, in.Target.Value) {
		return model.GateDecision{
			Outcome: model.GateBlock,
			Reason:  fmt.Sprintf("target %q matches a service-account pattern", in.Target.Value),
			RuleID:  RuleServiceAccount,
		}
	}

	// Rule 3: cooldown.
	if !in.EmergencyOverride && in.Safety != nil {
		if active, until := in.Safety.CooldownActive(in.Target.Key(), now); active {
			return model.GateDecision{
				Outcome: model.GateBlock,
				Reason:  fmt.Sprintf("cooldown active until %s", until.Format(time.RFC3339)),
				RuleID:  RuleCooldown,
			}
		}
	}

	// Rule 4: blast radius, against the projected in-flight count.
	if !in.EmergencyOverride && in.BlastRadiusCeiling > 0 && projected+1 > in.BlastRadiusCeiling {
		if in.CommanderOverride {
			return model.GateDecision{
				Outcome:           model.GateRequireApproval,
				RequiredApprovals: 1,
				Reason:            "blast radius exceeded; incident-commander override present",
				RuleID:            RuleBlastRadius,
			}
		}
		return model.GateDecision{
			Outcome: model.GateBlock,
			Reason:  fmt.Sprintf("blast radius exceeded: %d actions in flight, ceiling %d", projected, in.BlastRadiusCeiling),
			RuleID:  RuleBlastRadius,
		}
	}

	// Rule 5: autonomy default.
	d := autonomyDefault(in.Level, action)
	if in.EmergencyOverride && d.Outcome != model.GateAllow {
		d = model.GateDecision{
			Outcome:    model.GateAllow,
			Reason:     "emergency override active",
			RuleID:     d.RuleID,
			Overridden: true,
		}
	}

	// An ActionSpec may declare a stricter requirement than the level
	// default; the stricter side wins.
	if action.MinApprovals > 0 && !d.Overridden {
		if d.Outcome == model.GateAllow || d.RequiredApprovals < action.MinApprovals {
			return model.GateDecision{
				Outcome:           model.GateRequireApproval,
				RequiredApprovals: action.MinApprovals,
				Reason:            "action declares a stricter approval requirement",
				RuleID:            RuleAutonomy,
			}
		}
	}
	return d
}

func autonomyDefault(level model.AutonomyLevel, action *model.ActionSpec) model.GateDecision {
	switch level {
	case model.Shadow:
		return requireOne("autonomy L0: recommend only")
	case model.ReadOnly:
		if action.Class == model.OpReadOnly {
			return allow("autonomy L1: read-only operation")
		}
		return requireOne("autonomy L1: mutating operation requires approval")
	case model.Conditional:
		if action.Class == model.OpDestructive {
			return requireOne("autonomy L2: destructive operation requires approval")
		}
		return allow("autonomy L2: non-destructive operation")
	case model.FullAuto:
		return allow("autonomy L3")
	}
	return requireOne("unknown autonomy level")
}

func allow(reason string) model.GateDecision {
	return model.GateDecision{Outcome: model.GateAllow, Reason: reason, RuleID: RuleAutonomy}
}

func requireOne(reason string) model.GateDecision {
	return model.GateDecision{
		Outcome:           model.GateRequireApproval,
		RequiredApprovals: 1,
		Reason:            reason,
		RuleID:            RuleAutonomy,
	}
}

// targetsAccount reports whether the action is directed at an account
// rather than a machine or network artifact.
func targetsAccount(action *model.ActionSpec, target model.TargetAsset) bool {
	if target.Type == model.AssetUser {
		return true
	}
	if action.Tool == "identity" {
		return true
	}
	_, hasAccount := action.Parameters["account"]
	return hasAccount
}

// matchAny matches a value against simple globs: "*x*" contains,
// "x*" prefix, "*x" suffix, otherwise exact. Case-insensitive.
func matchAny(patterns []string, value string) bool {
	if value == "" {
		return false
	}
	v := strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		p := strings.ToLower(pattern)
		switch {
		case strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") && len(p) > 1:
			if strings.Contains(v, p[1:len(p)-1]) {
				return true
			}
		case strings.HasSuffix(p, "*"):
			if strings.HasPrefix(v, p[:len(p)-1]) {
				return true
			}
		case strings.HasPrefix(p, "*"):
			if strings.HasSuffix(v, p[1:]) {
				return true
			}
		default:
			if p == v {
				return true
			}
		}
	}
	return false
}
