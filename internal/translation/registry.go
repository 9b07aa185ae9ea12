package translation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultProviderName is used when no provider is configured.
const DefaultProviderName = "local"

// Registry maps provider names to providers. The engine translates through
// the default; the HTTP API may pick any registered provider by name.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
}

func NewRegistry(defaultProvider string) *Registry {
	name := providerKey(defaultProvider)
	if name == "" {
		name = DefaultProviderName
	}
	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: name,
	}
}

// Register adds provider under its Name. Names are case-insensitive and
// can be registered once.
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := providerKey(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("translation provider %q is already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Provider looks up name, or the default provider when name is empty.
func (r *Registry) Provider(name string) (Provider, error) {
	key := providerKey(name)
	if key == "" {
		key = r.defaultProvider
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if provider, ok := r.providers[key]; ok {
		return provider, nil
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no translation providers are registered")
	}
	return nil, fmt.Errorf("translation provider %q is not registered (available: %s)", key, strings.Join(r.namesLocked(), ", "))
}

// Default is the provider the engine normalizes through.
func (r *Registry) Default() (Provider, error) {
	return r.Provider("")
}

func (r *Registry) DefaultProvider() string {
	return r.defaultProvider
}

func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func providerKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
