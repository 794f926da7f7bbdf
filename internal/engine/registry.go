package engine

import "sync"

// Registry holds the live engine per user. One engine per user id;
// Set replaces any previous entry.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

func (r *Registry) Get(userID string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[userID]
	return e, ok
}

func (r *Registry) Set(userID string, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[userID] = e
}

func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, userID)
}

// All returns the current engines keyed by user id; the map is a copy.
func (r *Registry) All() map[string]*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Engine, len(r.engines))
	for id, e := range r.engines {
		out[id] = e
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}
