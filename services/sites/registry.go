package sites

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Registry holds the closed set of known site adapters. Lookups by unknown
// shortname surface as errors rather than silent dispatch misses.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, rejecting duplicates and adapters without an id.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("malformed adapter: missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.ID()]; exists {
		return fmt.Errorf("duplicate adapter id %q", a.ID())
	}
	r.adapters[a.ID()] = a
	return nil
}

// MustRegister registers at startup and logs malformed adapters instead of
// aborting, so one broken module never takes down discovery.
func (r *Registry) MustRegister(adapters ...Adapter) {
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			log.Printf("[sites] skipping adapter: %v", err)
		}
	}
}

// Get returns the adapter for a shortname.
func (r *Registry) Get(key string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[key]
	return a, ok
}

// Known reports whether a shortname belongs to a registered adapter. It is
// the payload codec's source checker.
func (r *Registry) Known(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// All returns every registered adapter sorted by id.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Configured filters the registry down to adapters whose hostname is set.
func (r *Registry) Configured(env *Env) []Adapter {
	var out []Adapter
	for _, a := range r.All() {
		if env.Hostname(a.ID()) != "" {
			out = append(out, a)
		}
	}
	return out
}
