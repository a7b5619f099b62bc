package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bpml-go/bpml/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	definitions map[string]*types.ProcessDefinition
	instances   map[uint64]types.ProcessInstance
	tasks       map[uint64]types.TaskInstance
	mu          sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		definitions: make(map[string]*types.ProcessDefinition),
		instances:   make(map[uint64]types.ProcessInstance),
		tasks:       make(map[uint64]types.TaskInstance),
	}
}

// getItem is a standalone generic helper function.
func getItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, key K, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[key]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: %v", errNotFound, key)
		}
		return item, nil
	})
}

// SaveDefinition saves a validated definition to memory.
func (s *MemoryStorage) SaveDefinition(ctx context.Context, def *types.ProcessDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.definitions[def.Name] = def
		return nil
	})
}

// GetDefinition retrieves a definition from memory.
func (s *MemoryStorage) GetDefinition(ctx context.Context, name string) (*types.ProcessDefinition, error) {
	return getItem(ctx, &s.mu, s.definitions, name, ErrDefinitionNotFound)
}

// ListDefinitions returns every definition held in memory.
func (s *MemoryStorage) ListDefinitions(ctx context.Context) ([]*types.ProcessDefinition, error) {
	return withContext(ctx, func() ([]*types.ProcessDefinition, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		defs := make([]*types.ProcessDefinition, 0, len(s.definitions))
		for _, d := range s.definitions {
			defs = append(defs, d)
		}
		return defs, nil
	})
}

// SaveInstance saves a process instance to memory.
func (s *MemoryStorage) SaveInstance(ctx context.Context, inst types.ProcessInstance) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.instances[inst.ID] = inst
		return nil
	})
}

// GetInstance retrieves a process instance from memory.
func (s *MemoryStorage) GetInstance(ctx context.Context, id uint64) (types.ProcessInstance, error) {
	return getItem(ctx, &s.mu, s.instances, id, ErrInstanceNotFound)
}

// ListInstances returns every instance held in memory.
func (s *MemoryStorage) ListInstances(ctx context.Context) ([]types.ProcessInstance, error) {
	return withContext(ctx, func() ([]types.ProcessInstance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		insts := make([]types.ProcessInstance, 0, len(s.instances))
		for _, inst := range s.instances {
			insts = append(insts, inst)
		}
		return insts, nil
	})
}

// SaveTask saves a task instance to memory.
func (s *MemoryStorage) SaveTask(ctx context.Context, task types.TaskInstance) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tasks[task.ID] = task
		return nil
	})
}

// GetTask retrieves a task instance from memory.
func (s *MemoryStorage) GetTask(ctx context.Context, id uint64) (types.TaskInstance, error) {
	return getItem(ctx, &s.mu, s.tasks, id, ErrTaskNotFound)
}

// ListTasks returns the tasks matching the filter.
func (s *MemoryStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]types.TaskInstance, error) {
	return withContext(ctx, func() ([]types.TaskInstance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var tasks []types.TaskInstance
		for _, t := range s.tasks {
			if filter.Matches(t) {
				tasks = append(tasks, t)
			}
		}
		return tasks, nil
	})
}

// ClearFinished removes instances in a terminal status together with their tasks.
func (s *MemoryStorage) ClearFinished(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, inst := range s.instances {
			if inst.Terminal() {
				delete(s.instances, id)
				for tid, t := range s.tasks {
					if t.InstanceID == id {
						delete(s.tasks, tid)
					}
				}
			}
		}
		return nil
	})
}
