// Package registry holds the validated process definitions the runtime
// executes against. The registry is read-only after load; a reload swaps the
// whole definition set atomically, so in-flight readers keep the set they
// started with.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/bpml-go/bpml/storage"
	"github.com/bpml-go/bpml/types"
)

// Registry is a read-only mapping from process name to validated definition.
type Registry struct {
	defs atomic.Pointer[map[string]*types.ProcessDefinition]
}

// New builds a registry from already-validated definitions.
func New(defs []*types.ProcessDefinition) *Registry {
	r := &Registry{}
	r.Reload(defs)
	return r
}

// Load populates a registry from the definitions persisted in storage.
func Load(ctx context.Context, store storage.Storage) (*Registry, error) {
	defs, err := store.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	return New(defs), nil
}

// Lookup returns the definition with the given name.
func (r *Registry) Lookup(name string) (*types.ProcessDefinition, error) {
	m := *r.defs.Load()
	def, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrDefinitionNotFound, name)
	}
	return def, nil
}

// Names returns the registered process names in sorted order.
func (r *Registry) Names() []string {
	m := *r.defs.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload replaces the entire definition set atomically. Readers holding a
// definition from the previous set keep using it untouched.
func (r *Registry) Reload(defs []*types.ProcessDefinition) {
	m := make(map[string]*types.ProcessDefinition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	r.defs.Store(&m)
}
