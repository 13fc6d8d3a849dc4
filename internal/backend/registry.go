package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of backends available to this worker process and
// resolves task kinds to a concrete backend by fixed priority order: a
// name-keyed map guarded by a single RWMutex, with read-only accessors
// taking the read lock.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces a backend under its own Name().
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Remove drops a backend by name. It is a no-op if the name is unknown.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, name)
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// All returns every registered backend, sorted by name for determinism.
func (r *Registry) All() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FindFor returns the highest-priority backend whose capabilities support
// taskKind. The same task kind always picks the same backend given the
// same registry state: backends of equal Kind are tie-broken by name, so
// the result is deterministic across calls.
func (r *Registry) FindFor(taskKind TaskKind) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKind := make(map[Kind][]Backend)
	for _, b := range r.backends {
		info := b.Capabilities()
		if info.supports(taskKind) {
			byKind[info.Kind] = append(byKind[info.Kind], b)
		}
	}

	for _, kind := range priorityOrder {
		candidates := byKind[kind]
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name() < candidates[j].Name() })
		return candidates[0], nil
	}

	return nil, fmt.Errorf("no backend supports task kind %q", taskKind)
}

// CapabilitiesSnapshot returns the declared Info of every registered backend,
// used by the Supervisor's status reporting.
func (r *Registry) CapabilitiesSnapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b.Capabilities())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
