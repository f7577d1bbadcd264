package engine

import (
	"fmt"

	"critbook/internal/clock"
)

// ErrPoolExists is returned by Registry.Create for a duplicate pool id.
var ErrPoolExists = fmt.Errorf("engine: %w", ErrInvariantViolation)

// ErrPoolNotFound is returned when a registry lookup misses.
var ErrPoolNotFound = fmt.Errorf("engine: pool not found: %w", ErrInvalidOrderID)

// Registry is the multi-instrument pool directory. Each entry is a fully
// independent Pool keyed by an opaque pool id; pools share nothing, so
// serializing operations per pool is enough for the whole registry.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Create validates cfg, constructs a new pool under id, and registers it.
// It fails if id is already taken.
func (r *Registry) Create(id string, cfg Config, src clock.Source, sink EventSink) (*Pool, error) {
	if _, exists := r.pools[id]; exists {
		return nil, fmt.Errorf("engine: pool %q already exists: %w", id, ErrPoolExists)
	}
	p, err := NewPool(id, cfg, src, sink)
	if err != nil {
		return nil, err
	}
	r.pools[id] = p
	return p, nil
}

// Get returns the pool registered under id, if any.
func (r *Registry) Get(id string) (*Pool, bool) {
	p, ok := r.pools[id]
	return p, ok
}

// MustGet returns the pool registered under id or ErrPoolNotFound.
func (r *Registry) MustGet(id string) (*Pool, error) {
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("engine: pool %q: %w", id, ErrPoolNotFound)
	}
	return p, nil
}

// List returns every registered pool id; order is unspecified.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	return ids
}
