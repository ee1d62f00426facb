// Package registry tracks which bundle folder maps to which running
// container and published port.
package registry

import (
	"sync"

	"github.com/melih/lighthouse-paas/internal/core/domain"
)

// Registry is a process-wide, mutex-guarded map of folder -> entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]domain.RegistryEntry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]domain.RegistryEntry)}
}

// Put inserts or overwrites the entry for folder.
func (r *Registry) Put(folder string, entry domain.RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[folder] = entry
}

// Get returns the entry for folder, if any.
func (r *Registry) Get(folder string) (domain.RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[folder]
	return entry, ok
}

// Delete removes folder and returns the entry it held.
func (r *Registry) Delete(folder string) (domain.RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[folder]
	if ok {
		delete(r.entries, folder)
	}
	return entry, ok
}

// Snapshot returns a copy that callers may keep and modify.
func (r *Registry) Snapshot() map[string]domain.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.RegistryEntry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of tracked folders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
