package config

import "sync/atomic"

// Snapshot pairs an immutable Config with the content hash it was
// loaded from, so every audit entry can name the exact policy in force.
type Snapshot struct {
	Config *Config
	Hash   string
}

// Holder is the hot-reload point: readers load the current snapshot
// once per incident and keep it for the whole run, writers swap whole
// snapshots. No field of a published Config is ever mutated.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// NewHolder seeds the holder with the startup snapshot.
func NewHolder(cfg *Config, hash string) *Holder {
	h := &Holder{}
	h.p.Store(&Snapshot{Config: cfg, Hash: hash})
	return h
}

// Current returns the snapshot in force right now.
func (h *Holder) Current() *Snapshot {
	return h.p.Load()
}

// Swap publishes a new snapshot. In-flight incidents keep the one they
// started with.
func (h *Holder) Swap(cfg *Config, hash string) {
	h.p.Store(&Snapshot{Config: cfg, Hash: hash})
}
