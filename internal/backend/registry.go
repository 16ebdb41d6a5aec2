package backend

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Factory opens a backend for a downloaded model.
type Factory func(ctx context.Context, opts Options) (Backend, error)

// Registry maps providers to the factories that open them.
type Registry struct {
	factories map[Provider]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Provider]Factory),
	}
}

// Register adds a factory to the registry.
func (r *Registry) Register(p Provider, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[p]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, p)
	}

	r.factories[p] = f
	return nil
}

// Open opens a backend with the factory registered for p.
func (r *Registry) Open(ctx context.Context, p Provider, opts Options) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	return f(ctx, opts)
}

// Providers returns the registered providers, sorted.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	slices.Sort(out)

	return out
}
