// Package session tracks per-research-session state that must outlive any
// single node invocation: the cancellation token and the LLM degradation
// flag. The registry is the single source of truth for both; nodes never hold
// a local copy. It also hosts the SSE connection monitor.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is returned (wrapped) from any suspension point once a
// session's cancellation token has been set. Cancellation is not an error
// condition for the client; the orchestrator translates it into a single
// `cancelled` event.
var ErrCancelled = errors.New("session cancelled")

// IsCancelled reports whether err is (or wraps) a session cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

type entry struct {
	cancelled bool
	degraded  bool
	createdAt time.Time
}

// Registry is a process-wide concurrent map from session ID to cancellation
// and degradation state. All operations are atomic with respect to
// concurrent readers. Both flags are monotonic: active→cancelled and
// primary→degraded only.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Create registers a session. Re-creating an existing ID resets any stale
// state from a previous run that reused the ID.
func (r *Registry) Create(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &entry{createdAt: time.Now()}
}

// SetCancelled flips the session's cancellation token. One-shot and
// idempotent; unknown IDs are ignored.
func (r *Registry) SetCancelled(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		e.cancelled = true
	}
}

// IsCancelled reports the cancellation token. Unknown sessions report false.
func (r *Registry) IsCancelled(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	return ok && e.cancelled
}

// CheckCancelled returns a wrapped ErrCancelled when the session has been
// cancelled. Called at every suspension point.
func (r *Registry) CheckCancelled(sessionID string) error {
	if r.IsCancelled(sessionID) {
		return fmt.Errorf("session %s: %w", sessionID, ErrCancelled)
	}
	return nil
}

// SetDegraded marks the session as running on the secondary model. Monotonic.
func (r *Registry) SetDegraded(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		e.degraded = true
	}
}

// IsDegraded reports the degradation flag. Unknown sessions report false.
func (r *Registry) IsDegraded(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	return ok && e.degraded
}

// Cleanup removes the session entry. Safe to call twice.
func (r *Registry) Cleanup(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
