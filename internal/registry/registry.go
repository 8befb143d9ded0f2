// Package registry stores the named tables of a run. Keys are upper-cased so
// lookups are case-insensitive.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/opdbt/opdbt/internal/table"
)

// Registry maps table names to tables.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tables: make(map[string]*table.Table)}
}

// Key normalizes a table name into its registry key.
func Key(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Get returns the table registered under name, ignoring case.
func (r *Registry) Get(name string) (*table.Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[Key(name)]
	return t, ok
}

// GetRaw looks a table up by its exact key without normalization. Tables are
// always stored under normalized keys, so this only matches names that are
// already upper-case.
func (r *Registry) GetRaw(name string) (*table.Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tables[name]
	return t, ok
}

// Set registers or replaces a table.
func (r *Registry) Set(name string, t *table.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tables[Key(name)] = t
}

// Concat appends the rows of t to the table registered under name. When no
// table exists yet it behaves like Set. The stored table is returned.
func (r *Registry) Concat(name string, t *table.Table) *table.Table {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key(name)
	existing, ok := r.tables[key]
	if !ok {
		r.tables[key] = t
		return t
	}
	merged := table.Concat(existing.Name, existing, t)
	r.tables[key] = merged
	return merged
}

// Delete removes a table. Missing names are ignored.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tables, Key(name))
}

// Names returns all registered keys, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tables))
	for k := range r.tables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}
