package model

import "time"

// ExecutionOutcome is the result status reported by the executor.
type ExecutionOutcome string

const (
	ExecSucceeded          ExecutionOutcome = "succeeded"
	ExecPreconditionFailed ExecutionOutcome = "precondition_failed"
	ExecFailed             ExecutionOutcome = "failed"
	ExecDryRunRejected     ExecutionOutcome = "dry_run_rejected"
	ExecCancelled          ExecutionOutcome = "cancelled"
)

// DryRunResult is the adapter's report of whether an operation would
// succeed and what preconditions it assumes, without mutating state.
type DryRunResult struct {
	OK                   bool     `json:"ok"`
	AssumedPreconditions []string `json:"assumed_preconditions"`
	Detail               string   `json:"detail,omitempty"`
}

// ExecutionRecord captures one action attempt. Immutable once written;
// forms the basis for rollback. Exactly one exists per action attempt.
type ExecutionRecord struct {
	IncidentID    string            `json:"incident_id"`
	CorrelationID string            `json:"correlation_id"`
	ActionIndex   int               `json:"action_index"`
	Action        ActionSpec        `json:"action"`
	Target        TargetAsset       `json:"target"`
	DryRun        DryRunResult      `json:"dry_run"`
	PrecondPassed bool              `json:"precondition_passed"`
	Outcome       ExecutionOutcome  `json:"outcome"`
	Result        string            `json:"result,omitempty"`
	RollbackData  string            `json:"rollback_data,omitempty"`
	IsRollback    bool              `json:"is_rollback,omitempty"`
	Attempts      int               `json:"attempts"`
	ExecutedAt    time.Time         `json:"executed_at"`
}

// VerificationResult is terminal per action.
type VerificationResult struct {
	IncidentID      string    `json:"incident_id"`
	ActionIndex     int       `json:"action_index"`
	ExpectedEffect  string    `json:"expected_effect"`
	ObservedEffect  string    `json:"observed_effect"`
	Verified        bool      `json:"verified"`
	RollbackInvoked bool      `json:"rollback_invoked"`
	Polls           int       `json:"polls"`
	VerifiedAt      time.Time `json:"verified_at"`
}
