package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/bpml-go/bpml/authz"
	"github.com/bpml-go/bpml/events"
	"github.com/bpml-go/bpml/registry"
	"github.com/bpml-go/bpml/rules"
	"github.com/bpml-go/bpml/scheduler"
	"github.com/bpml-go/bpml/storage"
	"github.com/bpml-go/bpml/types"
)

// Standard error definitions
var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrTerminalStateReached = errors.New("instance is in a terminal state")
	ErrInvalidTaskState     = errors.New("task state does not allow this action")
	ErrRoleMismatch         = errors.New("acting role is not authorized")
	ErrNotSuspended         = errors.New("instance is not suspended")
)

// Event types
const (
	EventInstanceStarted    = "instance_started"
	EventStateChanged       = "state_changed"
	EventTaskCreated        = "task_created"
	EventTaskCompleted      = "task_completed"
	EventInstanceSuspended  = "instance_suspended"
	EventInstanceResumed    = "instance_resumed"
	EventInstanceTerminated = "instance_terminated"
)

// ProcessEngine drives process instances through their definition's state
// machine. Every mutating operation on one instance id is serialized through
// a per-instance lock; operations on different instances run in parallel.
type ProcessEngine struct {
	registry  *registry.Registry
	storage   storage.Storage
	eventBus  *events.EventBus
	evaluator rules.Evaluator
	generate  generator.Generator

	locks   map[uint64]*sync.Mutex
	locksMu sync.Mutex

	warn func(instanceID uint64, err error)
}

// Option configures a ProcessEngine.
type Option func(*ProcessEngine)

// WithEvaluator sets a custom evaluator for onComplete conditions.
func WithEvaluator(evaluator rules.Evaluator) Option {
	return func(e *ProcessEngine) {
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// WithEventBus sets a custom event bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *ProcessEngine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// WithWarnHandler sets the sink for side-effect warnings: failures of
// delegated actions after a state change has already committed. Warnings are
// reported, never rolled back.
func WithWarnHandler(fn func(instanceID uint64, err error)) Option {
	return func(e *ProcessEngine) {
		if fn != nil {
			e.warn = fn
		}
	}
}

// NewProcessEngine creates a ProcessEngine reading definitions from reg and
// persisting instances/tasks through store.
func NewProcessEngine(generate generator.Generator, reg *registry.Registry, store storage.Storage, opts ...Option) (*ProcessEngine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &ProcessEngine{
		registry:  reg,
		storage:   store,
		eventBus:  events.NewEventBus(),
		evaluator: rules.NewExprEvaluator(),
		generate:  generate,
		locks:     make(map[uint64]*sync.Mutex),
		warn: func(instanceID uint64, err error) {
			log.Printf("side effect warning (instance %d): %v", instanceID, err)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *ProcessEngine) SubscribeEvent(eventType string, handler events.EventHandler) {
	e.eventBus.Subscribe(eventType, handler)
}

// Stop gracefully stops the engine's event processing.
func (e *ProcessEngine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

// lockInstance takes the per-instance lock and returns its release function.
func (e *ProcessEngine) lockInstance(id uint64) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// releaseLock drops an instance's lock entry once the instance is terminal,
// keeping the lock map bounded by the live instance count. Terminal status
// is sticky, so a caller racing onto a fresh mutex still fails its status
// guard.
func (e *ProcessEngine) releaseLock(id uint64) {
	e.locksMu.Lock()
	delete(e.locks, id)
	e.locksMu.Unlock()
}

// publishEvent delivers an event best-effort. A delivery failure is a side
// effect warning; it never affects the committed state change.
func (e *ProcessEngine) publishEvent(ctx context.Context, eventType string, instanceID, taskID uint64, data map[string]interface{}) {
	err := e.eventBus.Publish(ctx, events.Event{
		Type:       eventType,
		InstanceID: instanceID,
		TaskID:     taskID,
		Data:       data,
	})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.warn(instanceID, fmt.Errorf("failed to publish %s: %w", eventType, err))
	}
}

// StartOptions carries the optional arguments of StartInstance.
type StartOptions struct {
	// InitialState overrides the definition's start state.
	InitialState string
	// EntityID links the instance to a business entity.
	EntityID string
	// Variables seeds the instance variable bag.
	Variables map[string]interface{}
}

// StartInstance creates a RUNNING instance of the named definition at its
// initial state and schedules every step that is eligible at position zero.
func (e *ProcessEngine) StartInstance(ctx context.Context, definitionName string, opts StartOptions) (*types.ProcessInstance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	def, err := e.registry.Lookup(definitionName)
	if err != nil {
		return nil, err
	}

	initial := def.InitialState()
	if opts.InitialState != "" {
		if !def.HasState(opts.InitialState) {
			return nil, fmt.Errorf("%w: unknown initial state %q", ErrInvalidTransition, opts.InitialState)
		}
		initial = opts.InitialState
	}
	if initial == "" {
		return nil, fmt.Errorf("%w: definition %q has no states", ErrInvalidTransition, definitionName)
	}

	id, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}

	variables := opts.Variables
	if variables == nil {
		variables = make(map[string]interface{})
	}

	now := time.Now().UnixMilli()
	inst := types.ProcessInstance{
		ID:           id,
		Definition:   definitionName,
		CurrentState: initial,
		Status:       types.InstanceRunning,
		EntityID:     opts.EntityID,
		Variables:    variables,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.storage.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	if err := e.scheduleTasks(ctx, def, &inst); err != nil {
		return nil, err
	}

	e.publishEvent(ctx, EventInstanceStarted, inst.ID, 0, map[string]interface{}{
		"definition": definitionName,
		"state":      inst.CurrentState,
	})
	return &inst, nil
}

// GetInstance retrieves a process instance by ID.
func (e *ProcessEngine) GetInstance(ctx context.Context, instanceID uint64) (*types.ProcessInstance, error) {
	inst, err := e.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns every known process instance.
func (e *ProcessEngine) ListInstances(ctx context.Context) ([]types.ProcessInstance, error) {
	return e.storage.ListInstances(ctx)
}

// ListTasks returns the task instances matching the filter.
func (e *ProcessEngine) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]types.TaskInstance, error) {
	return e.storage.ListTasks(ctx, filter)
}

// ExecuteTransition moves the instance along the named transition out of its
// current state. The instance must be RUNNING and actingRole must equal or
// supervise the transition's authorizing role. Reaching a state with no
// outgoing transitions completes the instance.
func (e *ProcessEngine) ExecuteTransition(ctx context.Context, instanceID uint64, transitionName, actingRole string) (*types.ProcessInstance, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Terminal() {
		return nil, fmt.Errorf("%w: instance %d is %s", ErrTerminalStateReached, instanceID, inst.Status)
	}
	if inst.Status != types.InstanceRunning {
		return nil, fmt.Errorf("%w: instance %d is %s", ErrInvalidTransition, instanceID, inst.Status)
	}

	def, err := e.registry.Lookup(inst.Definition)
	if err != nil {
		return nil, err
	}

	t := def.TransitionFrom(inst.CurrentState, transitionName)
	if t == nil {
		return nil, fmt.Errorf("%w: no transition %q from state %q", ErrInvalidTransition, transitionName, inst.CurrentState)
	}
	if !authz.AuthorizedTransition(def, t, actingRole) {
		return nil, fmt.Errorf("%w: role %q may not execute transition %q", ErrRoleMismatch, actingRole, transitionName)
	}

	now := time.Now().UnixMilli()
	inst.CurrentState = t.To
	inst.UpdatedAt = now
	if def.TerminalState(t.To) {
		inst.Status = types.InstanceCompleted
		inst.CompletedAt = now
	}
	if err := e.storage.SaveInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}
	if inst.Terminal() {
		e.releaseLock(inst.ID)
	}

	e.publishEvent(ctx, EventStateChanged, inst.ID, 0, map[string]interface{}{
		"state":      inst.CurrentState,
		"status":     inst.Status,
		"transition": transitionName,
	})
	return &inst, nil
}

// ClaimTask assigns the task to userID. The assignment is a compare-and-set
// under the instance lock: a task already claimed by someone else is not
// reassigned, and reclaiming by the same user is a no-op.
func (e *ProcessEngine) ClaimTask(ctx context.Context, taskID uint64, userID string) (*types.TaskInstance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrRoleMismatch)
	}

	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockInstance(task.InstanceID)
	defer unlock()

	// Reread under the lock so the claim is a real compare-and-set.
	task, err = e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Terminal() {
		return nil, fmt.Errorf("%w: task %d is %s", ErrInvalidTaskState, taskID, task.Status)
	}
	if task.AssignedUser == userID {
		return &task, nil
	}
	if task.AssignedUser != "" {
		return nil, fmt.Errorf("%w: task %d already claimed by %q", ErrRoleMismatch, taskID, task.AssignedUser)
	}

	task.AssignedUser = userID
	task.Status = types.TaskInProgress
	if err := e.storage.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}
	return &task, nil
}

// CompleteTask marks the task COMPLETED, merges outputData into its data
// bag, and schedules every step whose preconditions the completion newly
// satisfies. The actor must be the assigned user; for unclaimed tasks, the
// assigned role or a role supervising it. onComplete branches are decided
// against the merged output before anything is committed: an evaluation
// failure leaves the task untouched and completable again.
func (e *ProcessEngine) CompleteTask(ctx context.Context, taskID uint64, actor string, outputData map[string]interface{}) (*types.TaskInstance, error) {
	task, err := e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockInstance(task.InstanceID)
	defer unlock()

	task, err = e.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskPending && task.Status != types.TaskInProgress {
		return nil, fmt.Errorf("%w: task %d is %s", ErrInvalidTaskState, taskID, task.Status)
	}

	inst, err := e.storage.GetInstance(ctx, task.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Terminal() {
		return nil, fmt.Errorf("%w: instance %d is %s", ErrTerminalStateReached, inst.ID, inst.Status)
	}

	def, err := e.registry.Lookup(inst.Definition)
	if err != nil {
		return nil, err
	}

	if task.AssignedUser != "" {
		if actor != task.AssignedUser {
			return nil, fmt.Errorf("%w: task %d is claimed by %q", ErrRoleMismatch, taskID, task.AssignedUser)
		}
	} else if !authz.Authorized(def, task.AssignedRole, actor) {
		return nil, fmt.Errorf("%w: %q may not complete a task assigned to role %q", ErrRoleMismatch, actor, task.AssignedRole)
	}

	if task.Data == nil {
		task.Data = make(map[string]interface{})
	}
	for k, v := range outputData {
		task.Data[k] = v
	}

	// Decide the branch outcome before committing anything: a condition
	// that fails at runtime must not strand the task in COMPLETED.
	step := def.StepNamed(task.Step)
	skipped, err := e.branchOutcome(step, task.Data)
	if err != nil {
		return nil, err
	}

	task.Status = types.TaskCompleted
	task.CompletedAt = time.Now().UnixMilli()
	if err := e.storage.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	e.publishEvent(ctx, EventTaskCompleted, inst.ID, task.ID, map[string]interface{}{
		"step": task.Step,
	})

	if err := e.skipSteps(ctx, inst.ID, skipped); err != nil {
		return nil, err
	}
	if err := e.scheduleTasks(ctx, def, &inst); err != nil {
		return nil, err
	}
	return &task, nil
}

// branchOutcome evaluates a step's onComplete rules against the task output
// and returns the branch targets to skip. With no condition holding every
// target is off this path, so all of them are skipped.
func (e *ProcessEngine) branchOutcome(step *types.Step, data map[string]interface{}) ([]string, error) {
	if step == nil || len(step.OnComplete) == 0 {
		return nil, nil
	}
	selected, skipped, err := scheduler.SelectBranch(step, data, e.evaluator)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate onComplete condition of step %q: %w", step.Name, err)
	}
	if selected == "" {
		skipped = make([]string, 0, len(step.OnComplete))
		for _, b := range step.OnComplete {
			skipped = append(skipped, b.Then)
		}
	}
	return skipped, nil
}

// skipSteps materializes a SKIPPED task for every named step that has no
// task yet, taking the step off the instance's path.
func (e *ProcessEngine) skipSteps(ctx context.Context, instanceID uint64, steps []string) error {
	if len(steps) == 0 {
		return nil
	}
	existing, err := e.existingTaskSteps(ctx, instanceID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, name := range steps {
		if existing[name] {
			continue
		}
		id, err := e.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate ID: %w", err)
		}
		skip := types.TaskInstance{
			ID:          id,
			InstanceID:  instanceID,
			Step:        name,
			Status:      types.TaskSkipped,
			CreatedAt:   now,
			CompletedAt: now,
		}
		if err := e.storage.SaveTask(ctx, skip); err != nil {
			return fmt.Errorf("failed to save task: %w", err)
		}
		existing[name] = true
	}
	return nil
}

// existingTaskSteps returns the set of step names that already have a task
// for the instance.
func (e *ProcessEngine) existingTaskSteps(ctx context.Context, instanceID uint64) (map[string]bool, error) {
	tasks, err := e.storage.ListTasks(ctx, storage.TaskFilter{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		existing[t.Step] = true
	}
	return existing, nil
}

// scheduleTasks materializes a task for every newly eligible step, looping
// because auto steps complete immediately and can unlock further steps. The
// loop is bounded by the step count: each pass creates at least one task or
// stops.
func (e *ProcessEngine) scheduleTasks(ctx context.Context, def *types.ProcessDefinition, inst *types.ProcessInstance) error {
	tasks, err := e.storage.ListTasks(ctx, storage.TaskFilter{InstanceID: inst.ID})
	if err != nil {
		return err
	}
	done := make(map[string]bool)
	existing := make(map[string]bool)
	for _, t := range tasks {
		existing[t.Step] = true
		if t.Status == types.TaskCompleted || t.Status == types.TaskSkipped {
			done[t.Step] = true
		}
	}

	for {
		eligible := scheduler.Eligible(def, done, existing)
		if len(eligible) == 0 {
			return nil
		}
		for _, step := range eligible {
			// An auto step completes on the spot, so its branches are
			// decided here, against its empty output. The upstream
			// completion has already committed, so an evaluation failure
			// degrades to a warning with no branch selected.
			var branchSkips []string
			if step.Auto && len(step.OnComplete) > 0 {
				var err error
				branchSkips, err = e.branchOutcome(step, nil)
				if err != nil {
					e.warn(inst.ID, err)
					branchSkips = make([]string, 0, len(step.OnComplete))
					for _, b := range step.OnComplete {
						branchSkips = append(branchSkips, b.Then)
					}
				}
			}

			id, err := e.generate.NextID()
			if err != nil {
				return fmt.Errorf("failed to generate ID: %w", err)
			}
			task := scheduler.NewTask(step, inst.ID, id, time.Now().UnixMilli())
			if err := e.storage.SaveTask(ctx, task); err != nil {
				return fmt.Errorf("failed to save task: %w", err)
			}
			existing[step.Name] = true
			if task.Status == types.TaskCompleted {
				done[step.Name] = true
			}
			e.publishEvent(ctx, EventTaskCreated, inst.ID, task.ID, map[string]interface{}{
				"step":   step.Name,
				"status": task.Status,
				"role":   task.AssignedRole,
			})

			for _, name := range branchSkips {
				if existing[name] {
					continue
				}
				id, err := e.generate.NextID()
				if err != nil {
					return fmt.Errorf("failed to generate ID: %w", err)
				}
				now := time.Now().UnixMilli()
				skip := types.TaskInstance{
					ID:          id,
					InstanceID:  inst.ID,
					Step:        name,
					Status:      types.TaskSkipped,
					CreatedAt:   now,
					CompletedAt: now,
				}
				if err := e.storage.SaveTask(ctx, skip); err != nil {
					return fmt.Errorf("failed to save task: %w", err)
				}
				existing[name] = true
				done[name] = true
			}
		}
	}
}
