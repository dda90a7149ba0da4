package providers

import (
	"fmt"
	"sort"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
)

// Constructor builds an adapter from the provider configuration section.
type Constructor func(cfg config.ProvidersConfig, opts Options) (Provider, error)

// Registry resolves adapters by provider identifier. It is built once at startup and read-only afterwards.
type Registry struct {
	adapters map[identity.Provider]Provider
}

// NewRegistry runs every constructor and indexes the resulting adapters.
func NewRegistry(cfg config.ProvidersConfig, opts Options, ctors map[identity.Provider]Constructor) (*Registry, error) {
	r := &Registry{adapters: make(map[identity.Provider]Provider, len(ctors))}
	for name, ctor := range ctors {
		p, err := ctor(cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("build %s provider: %w", name, err)
		}
		if p.Name() != name {
			return nil, fmt.Errorf("provider registered as %s reports name %s", name, p.Name())
		}
		r.adapters[name] = p
	}
	return r, nil
}

// NewStaticRegistry indexes already constructed adapters.
func NewStaticRegistry(adapters ...Provider) *Registry {
	r := &Registry{adapters: make(map[identity.Provider]Provider, len(adapters))}
	for _, p := range adapters {
		r.adapters[p.Name()] = p
	}
	return r
}

// Get returns the adapter for name.
func (r *Registry) Get(name identity.Provider) (Provider, bool) {
	p, ok := r.adapters[name]
	return p, ok
}

// Names lists registered providers in a stable order.
func (r *Registry) Names() []identity.Provider {
	out := make([]identity.Provider, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
