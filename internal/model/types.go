package model

import (
	"time"
)

// Severity classifies incident severity as reported by the normalizer.
type Severity string

const (
	SevLow      Severity = "low"
	SevMedium   Severity = "medium"
	SevHigh     Severity = "high"
	SevCritical Severity = "critical"
)

// SevRank maps severity to a comparable integer.
var SevRank = map[Severity]int{
	SevLow:      0,
	SevMedium:   1,
	SevHigh:     2,
	SevCritical: 3,
}

// AssetType identifies what kind of thing an action targets.
type AssetType string

const (
	AssetHost AssetType = "host"
	AssetUser AssetType = "user"
	AssetIP   AssetType = "ip"
	AssetHash AssetType = "hash"
)

// TargetAsset is the asset an incident or action is directed at.
type TargetAsset struct {
	Type  AssetType `json:"type"`
	Value string    `json:"value"`
}

// Key returns the canonical "type:value" form used for cooldown and
// blast-radius bookkeeping.
func (t TargetAsset) Key() string {
	return string(t.Type) + ":" + t.Value
}

// IsZero reports whether the asset is unset.
func (t TargetAsset) IsZero() bool {
	return t.Type == "" || t.Value == ""
}

// IncidentEvent is the normalized input the engine consumes. It is
// immutable after creation; the pipeline owns it for one processing run.
type IncidentEvent struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	CategoryHint string            `json:"category_hint"`
	Severity     Severity          `json:"severity"`
	TargetAsset  TargetAsset       `json:"target_asset"`
	ObservedAt   time.Time         `json:"observed_at"`
	Attributes   map[string]string `json:"attributes"`
}

// Attr returns a raw attribute value, or "" when absent.
func (e *IncidentEvent) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// AutonomyLevel governs default gating for all actions.
type AutonomyLevel int

const (
	// Shadow (L0): recommend only — every action requires approval.
	Shadow AutonomyLevel = iota
	// ReadOnly (L1): read-only operations auto-execute.
	ReadOnly
	// Conditional (L2): non-protected, non-destructive operations auto-execute.
	Conditional
	// FullAuto (L3): everything not blocked or escalated by safety rules.
	FullAuto
)

// ParseAutonomyLevel converts a config string ("L0".."L3" or a name)
// to an AutonomyLevel.
func ParseAutonomyLevel(s string) (AutonomyLevel, bool) {
	switch s {
	case "L0", "l0", "shadow":
		return Shadow, true
	case "L1", "l1", "readonly", "read_only":
		return ReadOnly, true
	case "L2", "l2", "conditional":
		return Conditional, true
	case "L3", "l3", "full", "full_auto":
		return FullAuto, true
	}
	return Shadow, false
}

// String returns the short level name.
func (l AutonomyLevel) String() string {
	switch l {
	case Shadow:
		return "L0"
	case ReadOnly:
		return "L1"
	case Conditional:
		return "L2"
	case FullAuto:
		return "L3"
	}
	return "L?"
}

// OperationClass describes how invasive a tool operation is. Declared
// per ActionSpec in the runbook catalog.
type OperationClass string

const (
	OpReadOnly    OperationClass = "read_only"
	OpReversible  OperationClass = "reversible"
	OpDestructive OperationClass = "destructive"
)

// GateOutcome is the kind of decision the policy gate produces.
type GateOutcome string

const (
	GateAllow           GateOutcome = "allow"
	GateRequireApproval GateOutcome = "require_approval"
	GateBlock           GateOutcome = "block"
)

// GateDecision is the per-action outcome of policy gate evaluation.
type GateDecision struct {
	Outcome           GateOutcome `json:"outcome"`
	RequiredApprovals int         `json:"required_approvals,omitempty"`
	Reason            string      `json:"reason"`
	RuleID            string      `json:"rule_id"`
	Overridden        bool        `json:"overridden,omitempty"`
}

// FailureKind is the engine's error taxonomy. Every failure is caught
// at the component boundary where it occurs and converted into an audit
// entry plus a state transition; none of these crash concurrent
// incident processing.
type FailureKind string

const (
	ClassificationAmbiguous FailureKind = "classification_ambiguous"
	PolicyBlocked           FailureKind = "policy_blocked"
	ApprovalDenied          FailureKind = "approval_denied"
	ApprovalTimedOut        FailureKind = "approval_timed_out"
	PreconditionFailure     FailureKind = "precondition_failure"
	ExecutionFailure        FailureKind = "execution_failure"
	VerificationFailure     FailureKind = "verification_failure"
	UnrecoverableFailure    FailureKind = "unrecoverable_failure"
)
