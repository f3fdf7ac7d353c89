package providers

import (
	"errors"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when registering a duplicate name
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry holds the registered providers and their fallback order.
// Providers are registered once at startup; after that the registry is
// read-only, so lookups never contend.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	fallbackOrder   []string
	defaultProvider string
}

// NewRegistry creates an empty provider registry
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// Register adds a provider and appends it to the fallback order
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return ErrProviderAlreadyRegistered
	}

	r.providers[name] = provider
	r.fallbackOrder = append(r.fallbackOrder, name)
	return nil
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Default returns the configured default provider, or the first registered
// one when the configured default was never registered.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[r.defaultProvider]; ok {
		return p, nil
	}
	if len(r.fallbackOrder) > 0 {
		return r.providers[r.fallbackOrder[0]], nil
	}
	return nil, ErrProviderNotFound
}

// DefaultName returns the configured default provider name
func (r *Registry) DefaultName() string {
	return r.defaultProvider
}

// FallbackOrder returns provider names in registration order
func (r *Registry) FallbackOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := make([]string, len(r.fallbackOrder))
	copy(order, r.fallbackOrder)
	return order
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// List returns registry info for all providers in registration order
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.fallbackOrder))
	for _, name := range r.fallbackOrder {
		p := r.providers[name]
		infos = append(infos, ProviderInfo{
			Name:            name,
			SupportedModels: p.SupportedModels(),
			IsDefault:       name == r.defaultProvider,
		})
	}
	return infos
}
