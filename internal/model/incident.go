package model

import "time"

// Incident is the durable aggregate tracking one event through the
// pipeline: what arrived, how it was classified, where the state
// machine stands, and how it resolved.
type Incident struct {
	ID            string        `json:"id"`
	CorrelationID string        `json:"correlation_id"`
	Event         IncidentEvent `json:"event"`

	Category  string `json:"category,omitempty"`
	RunbookID string `json:"runbook_id,omitempty"`

	State       IncidentState `json:"state"`
	Disposition Disposition   `json:"disposition"`
	Failure     FailureKind   `json:"failure,omitempty"`
	Reason      string        `json:"reason,omitempty"`

	// NextAction is the index of the next runbook action to run;
	// equal to the action count once the runbook has completed.
	NextAction int `json:"next_action"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
