// Package safety holds the shared mutable state every incident contends
// on: per-target cooldown timers and per-incident blast-radius counters.
// All reads and writes go through Store's mutex — never read-then-write
// as two separate unsynchronized steps, since that is exactly the race
// that would let two concurrent incidents both pass a blast-radius
// check that only one of them should pass.
package safety

import (
	"sync"
	"time"
)

// Reserver is the narrow interface the gate and executor depend on.
type Reserver interface {
	Reserve(incidentID string, ceiling int) bool
	Release(incidentID string)
	CooldownActive(targetKey string, now time.Time) (bool, time.Time)
}

// cooldown is one target's window plus the incident that set it. The
// owner is exempt from its own window so a multi-action runbook is not
// blocked by its own earlier actions.
type cooldown struct {
	until time.Time
	owner string
}

// Store tracks cooldowns and in-flight action counts.
type Store struct {
	mu        sync.Mutex
	cooldowns map[string]cooldown // target key → window
	inFlight  map[string]int      // incident ID → reserved actions
}

// NewStore creates an empty safety state store.
func NewStore() *Store {
	return &Store{
		cooldowns: make(map[string]cooldown),
		inFlight:  make(map[string]int),
	}
}

// Reserve atomically checks the incident's in-flight count against the
// ceiling and increments it when the check passes. Returns false when
// the reservation would exceed the ceiling; the count is untouched in
// that case. Every successful Reserve must be paired with exactly one
// Release.
func (s *Store) Reserve(incidentID string, ceiling int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ceiling > 0 && s.inFlight[incidentID]+1 > ceiling {
		return false
	}
	s.inFlight[incidentID]++
	return true
}

// Release decrements the incident's in-flight count. The entry is
// removed at zero so terminal incidents leave no residue.
func (s *Store) Release(incidentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.inFlight[incidentID]
	if n <= 1 {
		delete(s.inFlight, incidentID)
		return
	}
	s.inFlight[incidentID] = n - 1
}

// InFlight returns the incident's current reserved count.
func (s *Store) InFlight(incidentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[incidentID]
}

// TotalInFlight returns the sum of all reservations. Used by tests to
// check counter conservation once all incidents are terminal.
func (s *Store) TotalInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.inFlight {
		total += n
	}
	return total
}

// CooldownActive reports whether the target is inside its cooldown
// window, and when that window ends. Ownership is ignored: this is the
// gate's view, where any live window blocks a new incident.
func (s *Store) CooldownActive(targetKey string, now time.Time) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.cooldowns[targetKey]
	if !ok || !now.Before(cd.until) {
		return false, time.Time{}
	}
	return true, cd.until
}

// CooldownBlocks reports whether the target's cooldown window blocks
// the given incident. A window the incident set itself does not: its
// own later actions may proceed.
func (s *Store) CooldownBlocks(targetKey, incidentID string, now time.Time) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.cooldowns[targetKey]
	if !ok || !now.Before(cd.until) || cd.owner == incidentID {
		return false, time.Time{}
	}
	return true, cd.until
}

// SetCooldown records an unowned cooldown window for the target.
func (s *Store) SetCooldown(targetKey string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[targetKey] = cooldown{until: until}
}

// CommitExecution sets the target's cooldown, owned by the incident
// that executed, and invokes the record write inside one critical
// section, so a crash between the safety update and the
// ExecutionRecord write cannot leave them disagreeing. When write
// fails the cooldown is not applied.
func (s *Store) CommitExecution(targetKey, incidentID string, until time.Time, write func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := write(); err != nil {
		return err
	}
	s.cooldowns[targetKey] = cooldown{until: until, owner: incidentID}
	return nil
}

// Prune drops expired cooldown entries. Safe to call at any time.
func (s *Store) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cd := range s.cooldowns {
		if !now.Before(cd.until) {
			delete(s.cooldowns, key)
		}
	}
}
