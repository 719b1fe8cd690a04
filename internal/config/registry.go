package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/typeless/pkg/provider/asr"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered for the requested engine kind.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine kinds to the factories that load them. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[asr.Kind]asr.Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{engines: make(map[asr.Kind]asr.Factory)}
}

// RegisterEngine registers factory under kind. Subsequent calls with the same
// kind overwrite the previous registration.
func (r *Registry) RegisterEngine(kind asr.Kind, factory asr.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[kind] = factory
}

// CreateEngine loads files with the factory registered under kind.
func (r *Registry) CreateEngine(kind asr.Kind, files asr.ModelFiles) (asr.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, kind)
	}
	return factory(files)
}

// Engines returns the registered kinds in sorted order.
func (r *Registry) Engines() []asr.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]asr.Kind, 0, len(r.engines))
	for k := range r.engines {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
