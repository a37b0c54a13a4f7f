package controller

import (
	"context"
	"sync"

	"github.com/dmateu/syncanvas/pkg/schema"
)

// Factory builds a controller for one diagram. The registry calls it at most
// once per (kind, project) pair.
type Factory func(kind schema.DiagramKind, projectID string) (*Controller, error)

// Registry hands out one controller per open diagram, creating them lazily.
type Registry struct {
	factory Factory

	mu    sync.Mutex
	items map[string]*Controller
}

// NewRegistry creates an empty registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		items:   make(map[string]*Controller),
	}
}

// Get returns the controller for the given diagram, creating it on first use.
func (r *Registry) Get(kind schema.DiagramKind, projectID string) (*Controller, error) {
	if !kind.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram kind %q", kind)
	}
	if projectID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "project id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(kind) + "/" + projectID
	if c, ok := r.items[key]; ok {
		return c, nil
	}
	c, err := r.factory(kind, projectID)
	if err != nil {
		return nil, err
	}
	r.items[key] = c
	return c, nil
}

// CloseAll closes every open controller, returning the first error seen.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	items := make([]*Controller, 0, len(r.items))
	for _, c := range r.items {
		items = append(items, c)
	}
	r.items = make(map[string]*Controller)
	r.mu.Unlock()

	var first error
	for _, c := range items {
		if err := c.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
