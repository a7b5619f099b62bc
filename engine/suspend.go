package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bpml-go/bpml/storage"
	"github.com/bpml-go/bpml/types"
)

// Suspend pauses a RUNNING instance, recording the reason and timestamp.
// Current state and task instances are left untouched; tasks stay claimable
// and completable, but ExecuteTransition rejects calls until Resume.
// Suspending an already SUSPENDED instance is a no-op returning the snapshot.
func (e *ProcessEngine) Suspend(ctx context.Context, instanceID uint64, reason string) (*types.ProcessInstance, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status == types.InstanceSuspended {
		return &inst, nil
	}
	if inst.Status != types.InstanceRunning {
		return nil, fmt.Errorf("%w: instance %d is %s", ErrTerminalStateReached, instanceID, inst.Status)
	}

	now := time.Now().UnixMilli()
	inst.Status = types.InstanceSuspended
	inst.SuspendReason = reason
	inst.SuspendedAt = now
	inst.UpdatedAt = now
	if err := e.storage.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	e.publishEvent(ctx, EventInstanceSuspended, inst.ID, 0, map[string]interface{}{
		"reason": reason,
	})
	return &inst, nil
}

// Resume puts a SUSPENDED instance back to RUNNING and clears the suspension
// fields. Resuming an already RUNNING instance is a no-op returning the
// snapshot.
func (e *ProcessEngine) Resume(ctx context.Context, instanceID uint64) (*types.ProcessInstance, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status == types.InstanceRunning {
		return &inst, nil
	}
	if inst.Status != types.InstanceSuspended {
		return nil, fmt.Errorf("%w: instance %d is %s", ErrNotSuspended, instanceID, inst.Status)
	}

	inst.Status = types.InstanceRunning
	inst.SuspendReason = ""
	inst.SuspendedAt = 0
	inst.UpdatedAt = time.Now().UnixMilli()
	if err := e.storage.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	e.publishEvent(ctx, EventInstanceResumed, inst.ID, 0, nil)
	return &inst, nil
}

// Terminate moves a non-terminal instance to TERMINATED and cancels its
// open tasks. Terminal instances cannot be terminated again.
func (e *ProcessEngine) Terminate(ctx context.Context, instanceID uint64, reason string) (*types.ProcessInstance, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Terminal() {
		return nil, fmt.Errorf("%w: instance %d is %s", ErrTerminalStateReached, instanceID, inst.Status)
	}

	now := time.Now().UnixMilli()
	inst.Status = types.InstanceTerminated
	inst.CompletedAt = now
	inst.UpdatedAt = now
	if err := e.storage.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	tasks, err := e.storage.ListTasks(ctx, storage.TaskFilter{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Terminal() {
			continue
		}
		t.Status = types.TaskCancelled
		t.CompletedAt = now
		if err := e.storage.SaveTask(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to save task: %w", err)
		}
	}
	// Released only after the open tasks are cancelled, so a claim cannot
	// slip in between the status flip and the cancellations.
	e.releaseLock(inst.ID)

	e.publishEvent(ctx, EventInstanceTerminated, inst.ID, 0, map[string]interface{}{
		"reason": reason,
	})
	return &inst, nil
}
