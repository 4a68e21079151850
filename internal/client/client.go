// Package client is a thin HTTP client for the riposte API, used by
// the CLI commands that talk to a running server.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soarhq/riposte/internal/approval"
	"github.com/soarhq/riposte/internal/audit"
	"github.com/soarhq/riposte/internal/model"
	"github.com/soarhq/riposte/internal/override"
)

// Client talks to one riposte server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the given base address, e.g.
// "http://127.0.0.1:8080".
func New(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit sends an incident for processing and returns the incident ID.
func (c *Client) Submit(ev model.IncidentEvent, commanderOverride bool) (string, error) {
	var resp struct {
		IncidentID string `json:"incident_id"`
	}
	body := map[string]any{"event": ev, "commander_override": commanderOverride}
	if err := c.call(http.MethodPost, "/v1/incidents", body, &resp); err != nil {
		return "", err
	}
	return resp.IncidentID, nil
}

// IncidentDetail is everything the server knows about one incident.
type IncidentDetail struct {
	Incident      model.Incident             `json:"incident"`
	Executions    []model.ExecutionRecord    `json:"executions"`
	Verifications []model.VerificationResult `json:"verifications"`
	Trail         *audit.Trail               `json:"trail"`
}

// Incident fetches one incident with its records and trail.
func (c *Client) Incident(id string) (IncidentDetail, error) {
	var detail IncidentDetail
	err := c.call(http.MethodGet, "/v1/incidents/"+id, nil, &detail)
	return detail, err
}

// Incidents lists incidents, optionally filtered by state.
func (c *Client) Incidents(state string) ([]model.Incident, error) {
	var resp struct {
		Incidents []model.Incident `json:"incidents"`
	}
	path := "/v1/incidents"
	if state != "" {
		path += "?state=" + state
	}
	err := c.call(http.MethodGet, path, nil, &resp)
	return resp.Incidents, err
}

// ReviewQueue lists escalated incidents awaiting a human.
func (c *Client) ReviewQueue() ([]model.Incident, error) {
	var resp struct {
		Incidents []model.Incident `json:"incidents"`
	}
	err := c.call(http.MethodGet, "/v1/incidents/review", nil, &resp)
	return resp.Incidents, err
}

// Pending lists unresolved approval requests.
func (c *Client) Pending() ([]approval.Status, error) {
	var resp struct {
		Pending []approval.Status `json:"pending"`
	}
	err := c.call(http.MethodGet, "/v1/approvals", nil, &resp)
	return resp.Pending, err
}

// Resolve submits one approval decision.
func (c *Client) Resolve(handle, approver string, approve bool) error {
	body := map[string]any{"approver": approver, "approve": approve}
	return c.call(http.MethodPost, "/v1/approvals/"+handle, body, nil)
}

// Trail fetches the audit trail, optionally for one incident.
func (c *Client) Trail(incidentID string) (*audit.Trail, error) {
	path := "/v1/audit/export"
	if incidentID != "" {
		path += "?incident_id=" + incidentID
	}
	var trail audit.Trail
	if err := c.call(http.MethodGet, path, nil, &trail); err != nil {
		return nil, err
	}
	return &trail, nil
}

// Status is the server's status surface.
type Status struct {
	Autonomy   string         `json:"autonomy"`
	ConfigHash string         `json:"config_hash"`
	InFlight   int            `json:"in_flight"`
	Incidents  map[string]int `json:"incidents"`
}

// ServerStatus fetches autonomy level, config hash and incident counts.
func (c *Client) ServerStatus() (Status, error) {
	var st Status
	err := c.call(http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// GrantOverride creates an emergency override token.
func (c *Client) GrantOverride(reason, grantedBy string, duration time.Duration) (override.Token, error) {
	body := map[string]any{"reason": reason, "granted_by": grantedBy}
	if duration > 0 {
		body["duration"] = duration.String()
	}
	var token override.Token
	err := c.call(http.MethodPost, "/v1/admin/overrides", body, &token)
	return token, err
}

// RevokeOverride revokes an override token by ID.
func (c *Client) RevokeOverride(id string) error {
	return c.call(http.MethodDelete, "/v1/admin/overrides/"+id, nil, nil)
}

// Overrides lists override tokens.
func (c *Client) Overrides() ([]override.Token, error) {
	var resp struct {
		Overrides []override.Token `json:"overrides"`
	}
	err := c.call(http.MethodGet, "/v1/admin/overrides", nil, &resp)
	return resp.Overrides, err
}

// Reload asks the server to re-read config and catalogs.
func (c *Client) Reload() error {
	return c.call(http.MethodPost, "/v1/admin/reload", nil, nil)
}

func (c *Client) call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
