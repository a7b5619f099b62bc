package types

// Instance statuses.
const (
	InstanceRunning    = "RUNNING"
	InstanceCompleted  = "COMPLETED"
	InstanceSuspended  = "SUSPENDED"
	InstanceTerminated = "TERMINATED"
	InstanceError      = "ERROR"
)

// Task statuses.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskSkipped    = "SKIPPED"
	TaskCancelled  = "CANCELLED"
)

// Entity field types.
const (
	FieldString  = "string"
	FieldInt     = "int"
	FieldFloat   = "float"
	FieldBoolean = "boolean"
	FieldEnum    = "enum"
)

// Field is a typed attribute of an Entity. Variants is only set for enum fields.
type Field struct {
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type" yaml:"type"`
	Variants []string `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// Entity describes a business object a step operates on.
type Entity struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Role names an actor kind. Supervises optionally names another role whose
// authorizations this role inherits; the supervises pointers form a forest.
type Role struct {
	Name       string `json:"name" yaml:"name"`
	Supervises string `json:"supervises,omitempty" yaml:"supervises,omitempty"`
}

// State is a node in the instance state machine.
type State struct {
	Name string `json:"name" yaml:"name"`
}

// Branch is an onComplete rule: when the condition evaluates true against the
// completed task's output data, the named step is selected as a successor.
type Branch struct {
	When string `json:"when" yaml:"when"`
	Then string `json:"then" yaml:"then"`
}

// Step is a unit of work owned by a role, affecting an entity, optionally
// gated on other steps. Auto steps execute without a human actor.
type Step struct {
	Name       string   `json:"name" yaml:"name"`
	Role       string   `json:"role,omitempty" yaml:"role,omitempty"`
	Entity     string   `json:"entity,omitempty" yaml:"entity,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"dependsOn,omitempty"`
	Auto       bool     `json:"auto,omitempty" yaml:"auto,omitempty"`
	OnComplete []Branch `json:"on_complete,omitempty" yaml:"onComplete,omitempty"`
}

// Transition is a role-gated edge between two states.
type Transition struct {
	Name string `json:"name" yaml:"name"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	By   string `json:"by" yaml:"by"`
}

// ProcessDefinition is a validated, immutable process schema. All name
// references inside it resolve; callers that deserialize a definition must
// call BuildIndex before handing it to the runtime.
type ProcessDefinition struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	StartState  string       `json:"start_state,omitempty" yaml:"startState,omitempty"`
	Entities    []Entity     `json:"entities,omitempty" yaml:"entities,omitempty"`
	Roles       []Role       `json:"roles" yaml:"roles"`
	States      []State      `json:"states" yaml:"states"`
	Steps       []Step       `json:"steps" yaml:"steps"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
	Flow        []string     `json:"flow,omitempty" yaml:"flow,omitempty"`

	roles       map[string]*Role
	steps       map[string]*Step
	states      map[string]bool
	byFrom      map[string][]*Transition
	hasIncoming map[string]bool
}

// ProcessInstance is one execution of a ProcessDefinition. Mutated only
// through engine operations; terminal statuses freeze further transitions.
type ProcessInstance struct {
	ID            uint64                 `json:"id"`
	Definition    string                 `json:"definition"`
	CurrentState  string                 `json:"current_state"`
	Status        string                 `json:"status"`
	EntityID      string                 `json:"entity_id,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	SuspendReason string                 `json:"suspend_reason,omitempty"`
	CreatedAt     int64                  `json:"created_at"`
	UpdatedAt     int64                  `json:"updated_at"`
	CompletedAt   int64                  `json:"completed_at,omitempty"`
	SuspendedAt   int64                  `json:"suspended_at,omitempty"`
}

// Terminal reports whether the instance can no longer change state.
func (i *ProcessInstance) Terminal() bool {
	switch i.Status {
	case InstanceCompleted, InstanceTerminated, InstanceError:
		return true
	}
	return false
}

// TaskInstance is the runtime occurrence of a Step within one instance.
type TaskInstance struct {
	ID           uint64                 `json:"id"`
	InstanceID   uint64                 `json:"instance_id"`
	Step         string                 `json:"step"`
	Status       string                 `json:"status"`
	AssignedRole string                 `json:"assigned_role,omitempty"`
	AssignedUser string                 `json:"assigned_user,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	CreatedAt    int64                  `json:"created_at"`
	CompletedAt  int64                  `json:"completed_at,omitempty"`
}

// Terminal reports whether the task can no longer be acted on.
func (t *TaskInstance) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskSkipped, TaskCancelled:
		return true
	}
	return false
}
