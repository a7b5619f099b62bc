package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bpml-go/bpml/types"
)

const (
	definitionPrefix = "bpml:definition:"
	instancePrefix   = "bpml:instance:"
	taskPrefix       = "bpml:task:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with the settings this package uses.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// save marshals a value and stores it under the given key.
func (s *RedisStorage) save(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %v", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// get retrieves and unmarshals a value stored under the given key.
func get[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// scan lists and unmarshals every value under the given key prefix.
func scan[T any](ctx context.Context, client *redis.Client, prefix string) ([]T, error) {
	return withContext(ctx, func() ([]T, error) {
		keys, err := client.Keys(ctx, prefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s keys: %v", prefix, err)
		}

		items := make([]T, 0, len(keys))
		for _, key := range keys {
			data, err := client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get %s: %v", key, err)
			}
			var item T
			if err := json.Unmarshal(data, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			items = append(items, item)
		}
		return items, nil
	})
}

// SaveDefinition saves a validated definition to Redis.
func (s *RedisStorage) SaveDefinition(ctx context.Context, def *types.ProcessDefinition) error {
	return s.save(ctx, definitionPrefix+def.Name, def)
}

// GetDefinition retrieves a definition from Redis. The lookup tables are
// rebuilt after unmarshaling so the result is usable by the runtime.
func (s *RedisStorage) GetDefinition(ctx context.Context, name string) (*types.ProcessDefinition, error) {
	def, err := get[types.ProcessDefinition](ctx, s.client, definitionPrefix+name, ErrDefinitionNotFound)
	if err != nil {
		return nil, err
	}
	def.BuildIndex()
	return &def, nil
}

// ListDefinitions returns every definition stored in Redis.
func (s *RedisStorage) ListDefinitions(ctx context.Context) ([]*types.ProcessDefinition, error) {
	items, err := scan[types.ProcessDefinition](ctx, s.client, definitionPrefix)
	if err != nil {
		return nil, err
	}
	defs := make([]*types.ProcessDefinition, 0, len(items))
	for i := range items {
		items[i].BuildIndex()
		defs = append(defs, &items[i])
	}
	return defs, nil
}

// SaveInstance saves a process instance to Redis.
func (s *RedisStorage) SaveInstance(ctx context.Context, inst types.ProcessInstance) error {
	return s.save(ctx, fmt.Sprintf("%s%d", instancePrefix, inst.ID), inst)
}

// GetInstance retrieves a process instance from Redis.
func (s *RedisStorage) GetInstance(ctx context.Context, id uint64) (types.ProcessInstance, error) {
	return get[types.ProcessInstance](ctx, s.client, fmt.Sprintf("%s%d", instancePrefix, id), ErrInstanceNotFound)
}

// ListInstances returns every instance stored in Redis.
func (s *RedisStorage) ListInstances(ctx context.Context) ([]types.ProcessInstance, error) {
	return scan[types.ProcessInstance](ctx, s.client, instancePrefix)
}

// SaveTask saves a task instance to Redis.
func (s *RedisStorage) SaveTask(ctx context.Context, task types.TaskInstance) error {
	return s.save(ctx, fmt.Sprintf("%s%d", taskPrefix, task.ID), task)
}

// GetTask retrieves a task instance from Redis.
func (s *RedisStorage) GetTask(ctx context.Context, id uint64) (types.TaskInstance, error) {
	return get[types.TaskInstance](ctx, s.client, fmt.Sprintf("%s%d", taskPrefix, id), ErrTaskNotFound)
}

// ListTasks returns the tasks matching the filter.
func (s *RedisStorage) ListTasks(ctx context.Context, filter TaskFilter) ([]types.TaskInstance, error) {
	all, err := scan[types.TaskInstance](ctx, s.client, taskPrefix)
	if err != nil {
		return nil, err
	}
	tasks := make([]types.TaskInstance, 0, len(all))
	for _, t := range all {
		if filter.Matches(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// ClearFinished removes instances in a terminal status together with their
// tasks, using pipelining for the deletes.
func (s *RedisStorage) ClearFinished(ctx context.Context) error {
	return withContextError(ctx, func() error {
		insts, err := s.ListInstances(ctx)
		if err != nil {
			return err
		}

		finished := make(map[uint64]bool)
		pipe := s.client.Pipeline()
		for _, inst := range insts {
			if inst.Terminal() {
				finished[inst.ID] = true
				pipe.Del(ctx, fmt.Sprintf("%s%d", instancePrefix, inst.ID))
			}
		}
		if len(finished) == 0 {
			return nil
		}

		tasks, err := scan[types.TaskInstance](ctx, s.client, taskPrefix)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if finished[t.InstanceID] {
				pipe.Del(ctx, fmt.Sprintf("%s%d", taskPrefix, t.ID))
			}
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
