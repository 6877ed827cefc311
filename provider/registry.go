package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory creates a Provider.
type Factory func() (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Names are trimmed; duplicates are rejected.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return ErrInvalidRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %q already registered", ErrInvalidRegistration, name)
	}
	r.factories[name] = factory
	return nil
}

// New instantiates the provider registered under name.
func (r *Registry) New(name string) (Provider, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("provider %q: %w", name, ErrNilProvider)
	}
	return p, nil
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in providers.
var DefaultRegistry = NewRegistry()

// Lookup instantiates a provider from DefaultRegistry.
func Lookup(name string) (Provider, error) {
	return DefaultRegistry.New(name)
}
