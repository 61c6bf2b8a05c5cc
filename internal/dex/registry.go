// internal/dex/registry.go
package dex

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the venues available for routing, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]Venue
	logger *zap.Logger
}

// NewRegistry creates an empty venue registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		venues: make(map[string]Venue),
		logger: logger.Named("venue_registry"),
	}
}

// Register adds a venue under its own name.
func (r *Registry) Register(v Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := v.Name()
	if _, exists := r.venues[name]; exists {
		return fmt.Errorf("venue %s already registered", name)
	}
	r.venues[name] = v

	r.logger.Info("Venue registered", zap.String("name", name))
	return nil
}

// Get retrieves a venue by name.
func (r *Registry) Get(name string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.venues[name]
	if !exists {
		return nil, fmt.Errorf("venue %s not found", name)
	}
	return v, nil
}

// List returns all registered venue names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	return names
}
