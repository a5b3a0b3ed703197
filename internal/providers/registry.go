package providers

import "fmt"

// Registry resolves a persona's configured provider name to a Provider
// implementation. Built once at worker startup from config.ProvidersConfig.
type Registry struct {
	byName map[string]Provider
	def    string
}

// NewRegistry builds a registry from already-constructed providers. def is
// used when a persona does not specify a provider.
func NewRegistry(def string, provs ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider, len(provs)), def: def}
	for _, p := range provs {
		r.byName[p.Name()] = p
	}
	return r
}

// Get returns the named provider, or the registry default if name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.def
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}
