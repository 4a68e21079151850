package model

// IncidentState is a node in the per-incident state machine.
type IncidentState string

const (
	StateReceived         IncidentState = "RECEIVED"
	StateClassified       IncidentState = "CLASSIFIED"
	StateUnclassified     IncidentState = "UNCLASSIFIED"
	StateGated            IncidentState = "GATED"
	StateBlocked          IncidentState = "BLOCKED"
	StateAwaitingApproval IncidentState = "AWAITING_APPROVAL"
	StateDenied           IncidentState = "DENIED"
	StateApproved         IncidentState = "APPROVED"
	StateExecuting        IncidentState = "EXECUTING"
	StateExecutionFailed  IncidentState = "EXECUTION_FAILED"
	StateExecuted         IncidentState = "EXECUTED"
	StateVerifying        IncidentState = "VERIFYING"
	StateVerified         IncidentState = "VERIFIED"
	StateRolledBack       IncidentState = "ROLLED_BACK"
	StateUnrecoverable    IncidentState = "UNRECOVERABLE"
)

// Disposition is how a terminal state resolves: closed cleanly or
// escalated to the human-review queue.
type Disposition string

const (
	DispositionOpen      Disposition = "open"
	DispositionClosed    Disposition = "closed"
	DispositionEscalated Disposition = "escalated"
)

// validTransitions encodes the incident state machine. The zero-width
// entry set for a state means it is terminal.
var validTransitions = map[IncidentState][]IncidentState{
	StateReceived:         {StateClassified, StateUnclassified},
	StateClassified:       {StateGated},
	StateUnclassified:     {},
	StateGated:            {StateBlocked, StateAwaitingApproval, StateExecuting},
	StateBlocked:          {},
	StateAwaitingApproval: {StateDenied, StateApproved},
	StateDenied:           {},
	// A block can still land after approval: the runtime safety
	// re-checks run between approval and execution.
	StateApproved:        {StateExecuting, StateBlocked},
	StateExecuting:       {StateExecutionFailed, StateExecuted},
	StateExecutionFailed: {},
	StateExecuted:        {StateVerifying},
	// A verified action hands control to the next action in the
	// runbook, which may auto-execute, need its own approval, or hit
	// a block projected for it at gate time.
	StateVerifying:     {StateVerified, StateRolledBack, StateUnrecoverable, StateExecuting},
	StateVerified:      {StateExecuting, StateAwaitingApproval, StateBlocked},
	StateRolledBack:    {},
	StateUnrecoverable: {},
}

// terminalDispositions maps terminal states to their disposition.
var terminalDispositions = map[IncidentState]Disposition{
	StateUnclassified:    DispositionEscalated,
	StateBlocked:         DispositionEscalated,
	StateDenied:          DispositionClosed,
	StateExecutionFailed: DispositionEscalated,
	StateRolledBack:      DispositionClosed,
	StateUnrecoverable:   DispositionEscalated,
}

// CanTransition reports whether from → to is a legal state machine edge.
func CanTransition(from, to IncidentState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist from s.
// StateVerified is terminal only when no actions remain; the engine
// resolves that distinction, so Verified is treated as non-terminal here.
func IsTerminal(s IncidentState) bool {
	if s == StateVerified {
		return false
	}
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

// DispositionOf returns how a terminal state resolves. StateVerified
// closes once the engine confirms the runbook completed.
func DispositionOf(s IncidentState) Disposition {
	if s == StateVerified {
		return DispositionClosed
	}
	if d, ok := terminalDispositions[s]; ok {
		return d
	}
	return DispositionOpen
}
