package session

import (
	"fmt"
	"sync"
)

// Registry tracks the live sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Orchestrator
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Orchestrator)}
}

// Add registers o. Registering an id twice is an error.
func (r *Registry) Add(o *Orchestrator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[o.ID()]; exists {
		return fmt.Errorf("session %s already registered", o.ID())
	}
	r.sessions[o.ID()] = o
	return nil
}

// Remove forgets the session with id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns the session with id
func (r *Registry) Get(id string) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.sessions[id]
	return o, ok
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
