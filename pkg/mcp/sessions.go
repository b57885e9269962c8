package mcp

import (
	"context"
	"sync"
)

// SessionRegistry tracks the run watches started by each MCP session so they
// end when the session disconnects.
type SessionRegistry struct {
	mu      sync.Mutex
	watches map[string]map[string]context.CancelFunc // sessionID → eventID → cancel
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watches: make(map[string]map[string]context.CancelFunc)}
}

// Register records a watch of eventID for sessionID.
func (r *SessionRegistry) Register(sessionID, eventID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[sessionID]
	if !ok {
		w = make(map[string]context.CancelFunc)
		r.watches[sessionID] = w
	}
	w[eventID] = cancel
}

// Done forgets a finished watch.
func (r *SessionRegistry) Done(sessionID, eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.watches[sessionID]; ok {
		delete(w, eventID)
		if len(w) == 0 {
			delete(r.watches, sessionID)
		}
	}
}

// Active returns the number of watches of sessionID.
func (r *SessionRegistry) Active(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches[sessionID])
}

// Remove cancels and forgets every watch of sessionID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	w := r.watches[sessionID]
	delete(r.watches, sessionID)
	r.mu.Unlock()
	for _, cancel := range w {
		cancel()
	}
}
