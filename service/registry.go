package service

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Registry holds the table of known knowledge services. Reads take a
// snapshot under a read lock; configuration reloads replace the table
// wholesale so in-flight sessions keep the descriptors they started with.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Descriptor
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]Descriptor),
	}
}

// Apply validates and replaces the whole service table, preserving the
// given order. On validation error the previous table is kept.
func (r *Registry) Apply(descs []Descriptor) error {
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate service id %q", d.ID)
		}
		seen[d.ID] = true
	}

	services := make(map[string]Descriptor, len(descs))
	order := make([]string, 0, len(descs))
	for _, d := range descs {
		services[d.ID] = d
		order = append(order, d.ID)
	}

	r.mu.Lock()
	r.services = services
	r.order = order
	r.mu.Unlock()
	return nil
}

// Set adds or updates a single descriptor.
func (r *Registry) Set(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.services[d.ID] = d
	return nil
}

// Get returns the descriptor for a service ID.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.services[id]
	return d, ok
}

// List returns all descriptors in configuration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// Enabled returns the enabled descriptors in configuration order.
func (r *Registry) Enabled() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		if d := r.services[id]; d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// ByCapability returns the enabled descriptors carrying a capability, in
// configuration order.
func (r *Registry) ByCapability(c Capability) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, id := range r.order {
		if d := r.services[id]; d.Enabled && d.Capability == c {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// MarshalJSON implements json.Marshaler, emitting the ordered service list.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.List())
}
