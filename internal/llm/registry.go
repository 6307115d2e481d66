package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps feature IDs to their definitions. It is an explicit
// instance rather than package-level state so that tests and embedders can
// hold independent registries.
type Registry struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{features: make(map[string]*Feature)}
}

// Register adds or replaces a feature definition. Registering under an
// existing ID replaces the previous definition.
func (r *Registry) Register(f *Feature) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("feature must have a non-empty ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[f.ID] = f
	return nil
}

// Lookup returns the feature registered under id.
func (r *Registry) Lookup(id string) (*Feature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.features[id]
	if !ok {
		return nil, fmt.Errorf("feature %q not registered", id)
	}
	return f, nil
}

// IDs returns the registered feature IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.features))
	for id := range r.features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes all registered features.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = make(map[string]*Feature)
}
