// Package scheduler computes task eligibility over a definition's step
// dependency graph. It is a pure decision layer: the engine owns persistence
// and ID generation and feeds the results back in as the done/existing sets.
package scheduler

import (
	"github.com/bpml-go/bpml/rules"
	"github.com/bpml-go/bpml/types"
)

// Eligible returns the steps that should get a task instance now: every
// dependsOn step is in done (COMPLETED or SKIPPED) and no task for the step
// exists yet. Steps are returned in flow order where the flow names them,
// declaration order otherwise, so cascades are deterministic.
func Eligible(def *types.ProcessDefinition, done, existing map[string]bool) []*types.Step {
	var eligible []*types.Step

	consider := func(name string) {
		s := def.StepNamed(name)
		if s == nil || existing[s.Name] {
			return
		}
		for _, dep := range s.DependsOn {
			if !done[dep] {
				return
			}
		}
		eligible = append(eligible, s)
	}

	inFlow := make(map[string]bool, len(def.Flow))
	for _, name := range def.Flow {
		inFlow[name] = true
		consider(name)
	}
	for _, s := range def.Steps {
		if !inFlow[s.Name] {
			consider(s.Name)
		}
	}
	return eligible
}

// NewTask materializes a task instance for an eligible step. Auto steps are
// created directly COMPLETED with no human interaction; other steps start
// PENDING with the step's role visible for claiming.
func NewTask(step *types.Step, instanceID, taskID uint64, now int64) types.TaskInstance {
	task := types.TaskInstance{
		ID:         taskID,
		InstanceID: instanceID,
		Step:       step.Name,
		Status:     types.TaskPending,
		CreatedAt:  now,
	}
	if step.Auto {
		task.Status = types.TaskCompleted
		task.CompletedAt = now
	} else {
		task.AssignedRole = step.Role
	}
	return task
}

// SelectBranch evaluates a completed step's onComplete rules against its
// output data. The first condition that holds selects its target; every other
// branch target is returned as skipped. A step without branches selects
// nothing and skips nothing.
func SelectBranch(step *types.Step, data map[string]interface{}, eval rules.Evaluator) (selected string, skipped []string, err error) {
	if len(step.OnComplete) == 0 {
		return "", nil, nil
	}
	for _, b := range step.OnComplete {
		ok, evalErr := eval.Evaluate(b.When, data)
		if evalErr != nil {
			return "", nil, evalErr
		}
		if ok {
			selected = b.Then
			break
		}
	}
	if selected == "" {
		return "", nil, nil
	}
	for _, b := range step.OnComplete {
		if b.Then != selected {
			skipped = append(skipped, b.Then)
		}
	}
	return selected, skipped, nil
}
