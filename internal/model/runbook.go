package model

// ActionSpec is one templated step in a runbook. Parameters contains
// "{{target}}" placeholders expanded at execution time.
type ActionSpec struct {
	Tool         string            `json:"tool" yaml:"tool"`
	Operation    string            `json:"operation" yaml:"operation"`
	Class        OperationClass    `json:"class" yaml:"class"`
	TargetClass  string            `json:"target_class" yaml:"target_class"`
	Parameters   map[string]string `json:"parameters" yaml:"parameters"`
	RollbackHint string            `json:"rollback_hint" yaml:"rollback_hint"`
	// MinApprovals, when > 0, declares a stricter requirement than the
	// autonomy default would impose.
	MinApprovals int `json:"min_approvals,omitempty" yaml:"min_approvals"`
	// ExpectedEffect is what the verifier re-queries for after execution.
	ExpectedEffect string `json:"expected_effect" yaml:"expected_effect"`
}

// Runbook is a named, ordered response procedure for one incident
// category. Loaded at startup and treated as read-only during processing.
type Runbook struct {
	ID            string       `json:"id" yaml:"id"`
	Version       string       `json:"version" yaml:"version"`
	MatchCategory string       `json:"match_category" yaml:"match_category"`
	Description   string       `json:"description" yaml:"description"`
	Actions       []ActionSpec `json:"actions" yaml:"actions"`
}
