package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpml-go/bpml/storage"
	"github.com/bpml-go/bpml/types"
)

func defNamed(name string) *types.ProcessDefinition {
	def := &types.ProcessDefinition{
		Name:   name,
		Roles:  []types.Role{{Name: "Clerk"}},
		States: []types.State{{Name: "Open"}},
	}
	def.BuildIndex()
	return def
}

func TestLookup(t *testing.T) {
	reg := New([]*types.ProcessDefinition{defNamed("a"), defNamed("b")})

	def, err := reg.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "a", def.Name)

	_, err = reg.Lookup("missing")
	assert.ErrorIs(t, err, storage.ErrDefinitionNotFound)
}

func TestNames(t *testing.T) {
	reg := New([]*types.ProcessDefinition{defNamed("b"), defNamed("a")})
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestReloadReplacesAtomically(t *testing.T) {
	reg := New([]*types.ProcessDefinition{defNamed("old")})

	held, err := reg.Lookup("old")
	require.NoError(t, err)

	reg.Reload([]*types.ProcessDefinition{defNamed("new")})

	_, err = reg.Lookup("old")
	assert.ErrorIs(t, err, storage.ErrDefinitionNotFound)
	_, err = reg.Lookup("new")
	assert.NoError(t, err)

	// The definition obtained before the reload stays usable.
	assert.Equal(t, "old", held.Name)
}

func TestLoadFromStorage(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.SaveDefinition(ctx, defNamed("persisted")))

	reg, err := Load(ctx, store)
	require.NoError(t, err)

	def, err := reg.Lookup("persisted")
	require.NoError(t, err)
	assert.Equal(t, "persisted", def.Name)
}

func TestConcurrentLookupDuringReload(t *testing.T) {
	reg := New([]*types.ProcessDefinition{defNamed("p")})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if def, err := reg.Lookup("p"); err == nil {
					assert.Equal(t, "p", def.Name)
				}
			}
		}()
	}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Reload([]*types.ProcessDefinition{defNamed("p")})
			}
		}()
	}
	wg.Wait()
}
