package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// TrailFilter holds filtering criteria for decision-trail extraction.
type TrailFilter struct {
	IncidentID string
	From       time.Time // zero value = no lower bound
	To         time.Time // zero value = no upper bound
}

// TrailSummary holds decision counts for one incident's trail.
type TrailSummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	BlockCount     int    `json:"block_count"`
	ApprovalCount  int    `json:"approval_count"`
	OverrideCount  int    `json:"override_count"`
	RollbackCount  int    `json:"rollback_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// Trail holds the filtered entries and summary for one incident. This
// is what the human-review queue surfaces so an operator never has to
// guess why automation stopped.
type Trail struct {
	IncidentID string       `json:"incident_id"`
	Entries    []Entry      `json:"entries"`
	Summary    TrailSummary `json:"summary"`
}

// DecisionTrail reads the audit log and returns entries matching the filter.
func DecisionTrail(path string, filter TrailFilter) (*Trail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &Trail{IncidentID: filter.IncidentID}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}

		if entry.IncidentID != filter.IncidentID {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func updateSummary(s *TrailSummary, entry Entry) {
	s.Total++
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp

	switch entry.Decision {
	case "allow":
		s.AllowCount++
	case "block":
		s.BlockCount++
	case "require_approval", "approved", "denied", "timed_out":
		s.ApprovalCount++
	case "override_applied":
		s.OverrideCount++
	case "rolled_back", "rollback_invoked":
		s.RollbackCount++
	}
}
