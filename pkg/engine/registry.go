package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps operation-key aliases to plugin instances. Registration of
// a duplicate alias is rejected with an error rather than silently
// overwritten, so the set of operation keys is unambiguous by
// construction.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register registers p under every alias it declares. A plugin with no
// aliases or an alias that is already taken is rejected.
func (r *Registry) Register(p Plugin) error {
	aliases := p.Aliases()
	if len(aliases) == 0 {
		return fmt.Errorf("plugin declares no aliases")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alias := range aliases {
		if alias == "" {
			return fmt.Errorf("plugin declares an empty alias")
		}
		if _, exists := r.plugins[alias]; exists {
			return fmt.Errorf("alias %q is already registered", alias)
		}
	}
	for _, alias := range aliases {
		r.plugins[alias] = p
	}
	return nil
}

// MustRegister is Register that panics on error. Intended for the static
// plugin set wired at startup, where a duplicate alias is a programming
// error.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Resolve returns the plugin registered under op. An unknown operation key
// is a fatal configuration error, never a silent skip.
func (r *Registry) Resolve(op string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[op]
	if !ok {
		return nil, NewUnresolvedOpError(op)
	}
	return p, nil
}

// Aliases returns all registered operation keys, sorted.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.plugins))
	for alias := range r.plugins {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
