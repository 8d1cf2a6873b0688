// Package instanceregistry implements InstanceRegistry (spec.md §4.8): a
// thread-safe, insertion-ordered map of named instance.Instance values,
// consulted by the REST control plane as the sole authority over which
// instances exist.
package instanceregistry

import (
	"sync"

	"github.com/drasi-project/drasi-server/internal/apierrors"
	"github.com/drasi-project/drasi-server/internal/instance"
)

// Registry is the InstanceRegistry.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*instance.Instance
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*instance.Instance)}
}

// Add inserts inst keyed by its id. Duplicate ids are rejected.
func (r *Registry) Add(inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[inst.ID]; exists {
		return apierrors.AlreadyExists("instance", inst.ID)
	}
	r.byID[inst.ID] = inst
	r.order = append(r.order, inst.ID)
	return nil
}

// Remove deletes the instance named id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		return apierrors.ComponentNotFound("instance", id)
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the instance named id.
func (r *Registry) Get(id string) (*instance.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, exists := r.byID[id]
	if !exists {
		return nil, apierrors.ComponentNotFound("instance", id)
	}
	return inst, nil
}

// List returns every instance in insertion order.
func (r *Registry) List() []*instance.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*instance.Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// GetDefault returns the first-inserted instance, if any.
func (r *Registry) GetDefault() (*instance.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, apierrors.ComponentNotFound("instance", "<default>")
	}
	return r.byID[r.order[0]], nil
}

// Len reports how many instances are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
