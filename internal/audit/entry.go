package audit

// Component names the engine stage that produced an entry.
const (
	ComponentClassifier = "classifier"
	ComponentGate       = "gate"
	ComponentApproval   = "approval"
	ComponentExecutor   = "executor"
	ComponentVerifier   = "verifier"
	ComponentEngine     = "engine"
	ComponentOverride   = "override"
	ComponentConfig     = "config"
)

// Entry is one line in the hash-chained JSONL audit log. All fields are
// scalars or structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp     string `json:"ts"`
	CorrelationID string `json:"correlation_id"`
	IncidentID    string `json:"incident_id"`
	Component     string `json:"component"`
	ActionIndex   int    `json:"action_index,omitempty"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
	RuleID        string `json:"rule_id,omitempty"`
	Severity      string `json:"severity,omitempty"`
	ConfigHash    string `json:"config_hash,omitempty"`
	PrevHash      string `json:"prev_hash"`
}
