package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification. When
// the chain breaks, the incident and correlation keys of the entry at
// the break are carried so the operator can pull its decision trail
// without re-reading the log.
type VerifyResult struct {
	Valid            bool   `json:"valid"`
	Lines            int    `json:"lines"`
	Incidents        int    `json:"incidents"`
	Error            string `json:"error,omitempty"`
	ErrorLine        int    `json:"error_line,omitempty"`
	ErrorIncident    string `json:"error_incident,omitempty"`
	ErrorCorrelation string `json:"error_correlation,omitempty"`
}

// Verify reads a JSONL audit log and validates the hash chain.
// Returns Valid=true if the chain is intact, or details about the
// first broken link keyed to the incident recorded there.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	var prevLineBytes []byte
	incidents := make(map[string]bool)

	broken := func(entry Entry, format string, args ...any) VerifyResult {
		return VerifyResult{
			Lines:            lineNum,
			Incidents:        len(incidents),
			Error:            fmt.Sprintf(format, args...),
			ErrorLine:        lineNum,
			ErrorIncident:    entry.IncidentID,
			ErrorCorrelation: entry.CorrelationID,
		}
	}

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()

		// Make a copy since scanner reuses the buffer
		line := make([]byte, len(raw))
		copy(line, raw)

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return broken(Entry{}, "parse error: %v", err)
		}
		if entry.IncidentID != "" {
			incidents[entry.IncidentID] = true
		}

		if lineNum == 1 {
			if entry.PrevHash != GenesisHash {
				return broken(entry, "first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
		} else {
			expectedHash := HashLine(prevLineBytes)
			if entry.PrevHash != expectedHash {
				return broken(entry, "hash mismatch: expected %s, got %s", expectedHash, entry.PrevHash)
			}
		}

		prevLineBytes = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: lineNum, Incidents: len(incidents)}
}
