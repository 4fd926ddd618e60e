package guard

import "sync"

// Registry is an insertion-ordered set of hazards keyed by name.
//
// Registering a name twice replaces the earlier hazard in place: the new
// definition takes the original position in iteration order. Callers rarely
// want this; it is kept so configuration reloads stay order-stable.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Hazard
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Hazard)}
}

// Register validates and inserts or replaces a hazard.
func (r *Registry) Register(h Hazard) error {
	if errValidate := h.validate(); errValidate != nil {
		return errValidate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName == nil {
		r.byName = make(map[string]Hazard)
	}
	if _, exists := r.byName[h.Name]; !exists {
		r.order = append(r.order, h.Name)
	}
	r.byName[h.Name] = h
	return nil
}

// All returns the hazards in registration order.
func (r *Registry) All() []Hazard {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Hazard, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Lookup returns the hazard registered under name.
func (r *Registry) Lookup(name string) (Hazard, bool) {
	if r == nil {
		return Hazard{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Len returns the number of registered hazards.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
