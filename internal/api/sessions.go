package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tsidihealth/intake/internal/intake"
)

// Entry pairs a session with its own lock so concurrent turns for the
// same session serialize while distinct sessions proceed in parallel.
type Entry struct {
	mu sync.Mutex
	S  *intake.Session
}

// Lock acquires the per-session lock.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the per-session lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// Registry owns all live sessions and sweeps stale ones in the
// background.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Entry

	proc        *intake.Processor
	inactivity  time.Duration
	maxDuration time.Duration
}

// NewRegistry creates a session registry. Zero timeouts disable the
// corresponding sweep check.
func NewRegistry(proc *intake.Processor, inactivity, maxDuration time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[string]*Entry),
		proc:        proc,
		inactivity:  inactivity,
		maxDuration: maxDuration,
	}
}

// Create registers a new session and returns its entry.
func (r *Registry) Create() *Entry {
	e := &Entry{S: intake.NewSession(uuid.New().String())}
	r.mu.Lock()
	r.sessions[e.S.ID] = e
	r.mu.Unlock()
	return e
}

// Get returns the entry for id, if it exists.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	return e, ok
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run sweeps stale sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep forces timed-out sessions to termination and drops terminal
// sessions that have gone quiet, so the registry does not grow without
// bound.
func (r *Registry) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		switch {
		case !e.S.Terminal() && e.S.TimedOut(now, r.inactivity, r.maxDuration):
			slog.Info("session timed out", "session", e.S.ID, "phase", e.S.Phase)
			r.proc.ForceTimeout(ctx, e.S)
		case e.S.Terminal() && r.inactivity > 0 && now.Sub(e.S.LastActivity) > r.inactivity:
			r.mu.Lock()
			delete(r.sessions, e.S.ID)
			r.mu.Unlock()
		}
		e.mu.Unlock()
	}
}
