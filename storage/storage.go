package storage

import (
	"context"
	"errors"

	"github.com/bpml-go/bpml/types"
)

// Not-found errors shared by all implementations.
var (
	ErrDefinitionNotFound = errors.New("definition not found")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrTaskNotFound       = errors.New("task not found")
)

// TaskFilter narrows ListTasks results. Zero fields are ignored; a filter
// with InstanceID set lists the tasks of one instance, Role/User filter by
// assignment.
type TaskFilter struct {
	InstanceID uint64
	Role       string
	User       string
}

// Storage persists validated definitions, process instances and task
// instances. The engine treats it as write-through: every mutation is saved
// before the operation returns.
type Storage interface {
	// SaveDefinition persists a validated process definition by name.
	SaveDefinition(ctx context.Context, def *types.ProcessDefinition) error

	// GetDefinition retrieves a definition by name.
	GetDefinition(ctx context.Context, name string) (*types.ProcessDefinition, error)

	// ListDefinitions returns every persisted definition.
	ListDefinitions(ctx context.Context) ([]*types.ProcessDefinition, error)

	// SaveInstance persists a process instance.
	SaveInstance(ctx context.Context, inst types.ProcessInstance) error

	// GetInstance retrieves a process instance by ID.
	GetInstance(ctx context.Context, id uint64) (types.ProcessInstance, error)

	// ListInstances returns every persisted instance.
	ListInstances(ctx context.Context) ([]types.ProcessInstance, error)

	// SaveTask persists a task instance.
	SaveTask(ctx context.Context, task types.TaskInstance) error

	// GetTask retrieves a task instance by ID.
	GetTask(ctx context.Context, id uint64) (types.TaskInstance, error)

	// ListTasks returns the task instances matching the filter.
	ListTasks(ctx context.Context, filter TaskFilter) ([]types.TaskInstance, error)
}

// Matches reports whether a task passes the filter.
func (f TaskFilter) Matches(t types.TaskInstance) bool {
	if f.InstanceID != 0 && t.InstanceID != f.InstanceID {
		return false
	}
	if f.Role != "" && t.AssignedRole != f.Role {
		return false
	}
	if f.User != "" && t.AssignedUser != f.User {
		return false
	}
	return true
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
