package registry

import (
	"fmt"
	"sort"
)

// Registry maps provider names to adapters. It is populated once at startup
// and only read afterwards.
type Registry struct {
	adapters map[string]ServiceAdapter
}

// New builds a registry from adapters. Duplicate names are an error.
func New(adapters ...ServiceAdapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]ServiceAdapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Must not be called once the engine is running.
func (r *Registry) Register(a ServiceAdapter) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("adapter has empty name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Lookup returns the adapter for provider.
func (r *Registry) Lookup(provider string) (ServiceAdapter, bool) {
	a, ok := r.adapters[provider]
	return a, ok
}

// Providers returns registered provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Action returns the descriptor of provider's action kind.
func (r *Registry) Action(provider, kind string) (ActionDescriptor, bool) {
	a, ok := r.adapters[provider]
	if !ok {
		return ActionDescriptor{}, false
	}
	for _, d := range a.DescribeActions() {
		if d.Kind == kind {
			return d, true
		}
	}
	return ActionDescriptor{}, false
}

// Reaction returns the descriptor of provider's reaction kind.
func (r *Registry) Reaction(provider, kind string) (ReactionDescriptor, bool) {
	a, ok := r.adapters[provider]
	if !ok {
		return ReactionDescriptor{}, false
	}
	for _, d := range a.DescribeReactions() {
		if d.Kind == kind {
			return d, true
		}
	}
	return ReactionDescriptor{}, false
}
