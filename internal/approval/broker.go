// Package approval manages pending approval requests and their
// resolution, decoupled from any UI or transport. Resolution is
// idempotent per approver identity; a dual-approval request needs two
// distinct identities.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal result of an approval request.
type Outcome string

const (
	Approved Outcome = "approved"
	Denied   Outcome = "denied"
	TimedOut Outcome = "timed_out"
)

// Errors returned by Resolve.
var (
	ErrNotFound          = errors.New("approval request not found")
	ErrAlreadyResolved   = errors.New("approval request already resolved")
	ErrDuplicateApprover = errors.New("duplicate approval from same identity")
)

// Request describes one action awaiting human sign-off.
type Request struct {
	IncidentID        string    `json:"incident_id"`
	ActionIndex       int       `json:"action_index"`
	RequiredApprovals int       `json:"required_approvals"`
	Reason            string    `json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Status is the externally visible state of a pending request.
type Status struct {
	Handle            string    `json:"handle"`
	IncidentID        string    `json:"incident_id"`
	ActionIndex       int       `json:"action_index"`
	RequiredApprovals int       `json:"required_approvals"`
	ApprovalsReceived []string  `json:"approvals_received"`
	Reason            string    `json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Resolved          bool      `json:"resolved"`
	Outcome           Outcome   `json:"outcome,omitempty"`
}

type pendingRequest struct {
	req       Request
	approvers map[string]bool
	resolved  bool
	outcome   Outcome
	done      chan struct{}
}

// Broker owns all in-flight approval requests. Awaiting callers block
// on a per-request channel; resolution never holds the broker lock
// while a waiter is suspended.
type Broker struct {
	mu       sync.Mutex
	requests map[string]*pendingRequest
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{requests: make(map[string]*pendingRequest)}
}

// Request registers a new approval request and returns its handle.
func (b *Broker) Request(req Request) (string, error) {
	if req.RequiredApprovals < 1 || req.RequiredApprovals > 2 {
		return "", fmt.Errorf("required approvals must be 1 or 2, got %d", req.RequiredApprovals)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	handle := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[handle] = &pendingRequest{
		req:       req,
		approvers: make(map[string]bool),
		done:      make(chan struct{}),
	}
	return handle, nil
}

// Resolve records one approver's decision. An approval only counts
// once per identity: a duplicate from the same approver is rejected
// and does not advance the threshold. A deny from any approver is
// terminal immediately.
func (b *Broker) Resolve(handle, approver string, approve bool) error {
	if approver == "" {
		return fmt.Errorf("approver identity is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.requests[handle]
	if !ok {
		return ErrNotFound
	}
	if p.resolved {
		return ErrAlreadyResolved
	}

	if !approve {
		p.resolved = true
		p.outcome = Denied
		close(p.done)
		return nil
	}

	if p.approvers[approver] {
		return ErrDuplicateApprover
	}
	p.approvers[approver] = true

	if len(p.approvers) >= p.req.RequiredApprovals {
		p.resolved = true
		p.outcome = Approved
		close(p.done)
	}
	return nil
}

// Await blocks until the request resolves, the timeout elapses, or ctx
// is cancelled. Timeout and cancellation both yield TimedOut — treated
// like Denied downstream, but logged with a distinct reason code.
func (b *Broker) Await(ctx context.Context, handle string, timeout time.Duration) Outcome {
	b.mu.Lock()
	p, ok := b.requests[handle]
	b.mu.Unlock()
	if !ok {
		return Denied
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.outcome
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out: resolve terminally unless a racing Resolve won.
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.resolved {
		return p.outcome
	}
	p.resolved = true
	p.outcome = TimedOut
	close(p.done)
	return TimedOut
}

// Get returns the status of one request.
func (b *Broker) Get(handle string) (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.requests[handle]
	if !ok {
		return Status{}, false
	}
	return b.statusLocked(handle, p), true
}

// Pending lists all unresolved requests, oldest first.
func (b *Broker) Pending() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Status
	for handle, p := range b.requests {
		if p.resolved {
			continue
		}
		out = append(out, b.statusLocked(handle, p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Forget drops a resolved request from the broker. The engine calls
// this after it has audited the outcome.
func (b *Broker) Forget(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.requests[handle]; ok && p.resolved {
		delete(b.requests, handle)
	}
}

func (b *Broker) statusLocked(handle string, p *pendingRequest) Status {
	approvers := make([]string, 0, len(p.approvers))
	for a := range p.approvers {
		approvers = append(approvers, a)
	}
	sort.Strings(approvers)
	return Status{
		Handle:            handle,
		IncidentID:        p.req.IncidentID,
		ActionIndex:       p.req.ActionIndex,
		RequiredApprovals: p.req.RequiredApprovals,
		ApprovalsReceived: approvers,
		Reason:            p.req.Reason,
		CreatedAt:         p.req.CreatedAt,
		ExpiresAt:         p.req.ExpiresAt,
		Resolved:          p.resolved,
		Outcome:           p.outcome,
	}
}
