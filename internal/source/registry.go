package source

import (
	"fmt"
	"sort"
	"sync"
)

// Info pairs a registered source name with its capabilities.
type Info struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered sources keyed by the name stored on watch items.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source to the registry under the given name.
func (r *Registry) Register(name string, s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = s
}

// Resolve returns the source registered under name.
func (r *Registry) Resolve(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("source %q is not registered", name)
	}
	return s, nil
}

// Has reports whether a source is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[name]
	return ok
}

// MaxConcurrency returns the smallest non-zero MaxConcurrency among the
// registered sources, or 0 when none sets a limit.
func (r *Registry) MaxConcurrency() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := 0
	for _, s := range r.sources {
		if c := s.Capabilities().MaxConcurrency; c > 0 && (limit == 0 || c < limit) {
			limit = c
		}
	}
	return limit
}

// List returns information about all registered sources, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.sources))
	for name, s := range r.sources {
		infos = append(infos, Info{
			Name:         name,
			Capabilities: s.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
