// Package store persists incidents, execution records, and
// verification results in SQLite. Nested structures are stored as JSON
// columns; the fields the queries filter on are lifted into real
// columns. The review queue is a view over escalated incidents.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/soarhq/riposte/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	id            TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	disposition   TEXT NOT NULL,
	failure       TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	runbook_id    TEXT NOT NULL DEFAULT '',
	severity      TEXT NOT NULL DEFAULT '',
	target_key    TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_state ON incidents(state);
CREATE INDEX IF NOT EXISTS idx_incidents_disposition ON incidents(disposition);

CREATE TABLE IF NOT EXISTS executions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id  TEXT NOT NULL,
	action_index INTEGER NOT NULL,
	is_rollback  INTEGER NOT NULL DEFAULT 0,
	outcome      TEXT NOT NULL,
	body         TEXT NOT NULL,
	executed_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_incident ON executions(incident_id);

CREATE TABLE IF NOT EXISTS verifications (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id  TEXT NOT NULL,
	action_index INTEGER NOT NULL,
	verified     INTEGER NOT NULL,
	body         TEXT NOT NULL,
	verified_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verifications_incident ON verifications(incident_id);
`

// Store is a SQLite-backed incident store. Safe for concurrent use;
// database/sql serializes access to the single connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	// modernc sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent incidents.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveIncident inserts or replaces the incident row.
func (s *Store) SaveIncident(inc model.Incident) error {
	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO incidents
		(id, state, disposition, failure, category, runbook_id, severity, target_key, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		state = excluded.state, disposition = excluded.disposition,
		failure = excluded.failure, category = excluded.category,
		runbook_id = excluded.runbook_id, body = excluded.body,
		updated_at = excluded.updated_at`,
		inc.ID, string(inc.State), string(inc.Disposition), string(inc.Failure),
		inc.Category, inc.RunbookID, string(inc.Event.Severity), inc.Event.TargetAsset.Key(),
		string(body), inc.CreatedAt.UTC().Format(time.RFC3339Nano), inc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	return nil
}

// GetIncident loads one incident by ID.
func (s *Store) GetIncident(id string) (model.Incident, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM incidents WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Incident{}, err
	}
	var inc model.Incident
	if err := json.Unmarshal([]byte(body), &inc); err != nil {
		return model.Incident{}, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return inc, nil
}

// ListIncidents returns incidents, optionally filtered by state,
// newest first.
func (s *Store) ListIncidents(state model.IncidentState, limit int) ([]model.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT body FROM incidents ORDER BY created_at DESC LIMIT ?`
	args := []any{limit}
	if state != "" {
		query = `SELECT body FROM incidents WHERE state = ? ORDER BY created_at DESC LIMIT ?`
		args = []any{string(state), limit}
	}
	return s.queryIncidents(query, args...)
}

// ReviewQueue returns escalated incidents oldest first, so the
// longest-waiting items surface at the top.
func (s *Store) ReviewQueue() ([]model.Incident, error) {
	return s.queryIncidents(
		`SELECT body FROM incidents WHERE disposition = ? ORDER BY updated_at ASC`,
		string(model.DispositionEscalated))
}

func (s *Store) queryIncidents(query string, args ...any) ([]model.Incident, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var inc model.Incident
		if err := json.Unmarshal([]byte(body), &inc); err != nil {
			return nil, fmt.Errorf("decode incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// AppendExecution stores one execution record. Records are append-only.
func (s *Store) AppendExecution(rec model.ExecutionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	rollback := 0
	if rec.IsRollback {
		rollback = 1
	}
	_, err = s.db.Exec(`INSERT INTO executions
		(incident_id, action_index, is_rollback, outcome, body, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.IncidentID, rec.ActionIndex, rollback, string(rec.Outcome),
		string(body), rec.ExecutedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append execution for %s: %w", rec.IncidentID, err)
	}
	return nil
}

// ExecutionsFor returns an incident's execution records in insertion
// order.
func (s *Store) ExecutionsFor(incidentID string) ([]model.ExecutionRecord, error) {
	rows, err := s.db.Query(
		`SELECT body FROM executions WHERE incident_id = ? ORDER BY id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec model.ExecutionRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode execution record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendVerification stores one verification result.
func (s *Store) AppendVerification(res model.VerificationResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal verification result: %w", err)
	}
	verified := 0
	if res.Verified {
		verified = 1
	}
	_, err = s.db.Exec(`INSERT INTO verifications
		(incident_id, action_index, verified, body, verified_at)
		VALUES (?, ?, ?, ?, ?)`,
		res.IncidentID, res.ActionIndex, verified,
		string(body), res.VerifiedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append verification for %s: %w", res.IncidentID, err)
	}
	return nil
}

// VerificationsFor returns an incident's verification results in
// insertion order.
func (s *Store) VerificationsFor(incidentID string) ([]model.VerificationResult, error) {
	rows, err := s.db.Query(
		`SELECT body FROM verifications WHERE incident_id = ? ORDER BY id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VerificationResult
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var res model.VerificationResult
		if err := json.Unmarshal([]byte(body), &res); err != nil {
			return nil, fmt.Errorf("decode verification result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// CountByState returns incident counts grouped by state, for the
// status surface.
func (s *Store) CountByState() (map[model.IncidentState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM incidents GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.IncidentState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[model.IncidentState(state)] = n
	}
	return out, rows.Err()
}
