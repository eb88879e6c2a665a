package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a provider by name. Wired by the CLI so this package
// does not import the provider implementations.
type Factory func(name string) (Interface, error)

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	factory   Factory
	providers map[string]Interface
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		providers: make(map[string]Interface),
	}
}

// LoadProvider initializes and registers a provider by name.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}
	if r.factory == nil {
		return fmt.Errorf("unknown provider: %s", name)
	}

	p, err := r.factory(name)
	if err != nil {
		return err
	}
	r.providers[name] = p
	return nil
}

// Register installs a provider instance directly. Tests use this to inject
// fakes without going through the factory.
func (r *Registry) Register(name string, p Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
