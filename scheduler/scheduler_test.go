package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpml-go/bpml/rules"
	"github.com/bpml-go/bpml/types"
)

func testDefinition() *types.ProcessDefinition {
	def := &types.ProcessDefinition{
		Name: "test",
		Roles: []types.Role{
			{Name: "Clerk"},
		},
		States: []types.State{{Name: "Open"}, {Name: "Done"}},
		Steps: []types.Step{
			{Name: "A", Role: "Clerk"},
			{Name: "B", Role: "Clerk", DependsOn: []string{"A"}},
			{Name: "C", Role: "Clerk", DependsOn: []string{"A", "B"}},
			{Name: "D", Auto: true, DependsOn: []string{"C"}},
		},
		Flow: []string{"A", "B", "C", "D"},
	}
	def.BuildIndex()
	return def
}

func names(steps []*types.Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Name)
	}
	return out
}

func TestEligibleInitially(t *testing.T) {
	def := testDefinition()
	eligible := Eligible(def, map[string]bool{}, map[string]bool{})
	assert.Equal(t, []string{"A"}, names(eligible))
}

func TestEligibleAfterCompletion(t *testing.T) {
	def := testDefinition()

	eligible := Eligible(def, map[string]bool{"A": true}, map[string]bool{"A": true})
	assert.Equal(t, []string{"B"}, names(eligible))

	// Skipped dependencies count as done.
	eligible = Eligible(def, map[string]bool{"A": true, "B": true}, map[string]bool{"A": true, "B": true})
	assert.Equal(t, []string{"C"}, names(eligible))
}

func TestEligibleNeverDuplicates(t *testing.T) {
	def := testDefinition()
	done := map[string]bool{"A": true}
	existing := map[string]bool{"A": true, "B": true}
	assert.Empty(t, Eligible(def, done, existing))
}

func TestEligibleFollowsFlowOrder(t *testing.T) {
	def := &types.ProcessDefinition{
		Name:  "order",
		Roles: []types.Role{{Name: "Clerk"}},
		Steps: []types.Step{
			{Name: "X", Role: "Clerk"},
			{Name: "Y", Role: "Clerk"},
		},
		Flow: []string{"Y", "X"},
	}
	def.BuildIndex()
	eligible := Eligible(def, map[string]bool{}, map[string]bool{})
	assert.Equal(t, []string{"Y", "X"}, names(eligible))
}

func TestNewTask(t *testing.T) {
	def := testDefinition()
	now := int64(1234)

	pending := NewTask(def.StepNamed("A"), 7, 42, now)
	assert.Equal(t, types.TaskPending, pending.Status)
	assert.Equal(t, "Clerk", pending.AssignedRole)
	assert.Equal(t, uint64(7), pending.InstanceID)
	assert.Zero(t, pending.CompletedAt)

	auto := NewTask(def.StepNamed("D"), 7, 43, now)
	assert.Equal(t, types.TaskCompleted, auto.Status)
	assert.Empty(t, auto.AssignedRole)
	assert.Equal(t, now, auto.CompletedAt)
}

func TestSelectBranch(t *testing.T) {
	step := &types.Step{
		Name: "Decide",
		Role: "Clerk",
		OnComplete: []types.Branch{
			{When: `decision == "approve"`, Then: "Approve"},
			{When: `decision == "reject"`, Then: "Reject"},
		},
	}
	eval := rules.NewExprEvaluator()

	selected, skipped, err := SelectBranch(step, map[string]interface{}{"decision": "approve"}, eval)
	require.NoError(t, err)
	assert.Equal(t, "Approve", selected)
	assert.Equal(t, []string{"Reject"}, skipped)

	selected, skipped, err = SelectBranch(step, map[string]interface{}{"decision": "reject"}, eval)
	require.NoError(t, err)
	assert.Equal(t, "Reject", selected)
	assert.Equal(t, []string{"Approve"}, skipped)

	// No condition holds: nothing selected, nothing skipped here; the engine
	// decides what to do with the targets.
	selected, skipped, err = SelectBranch(step, map[string]interface{}{"decision": "hold"}, eval)
	require.NoError(t, err)
	assert.Empty(t, selected)
	assert.Empty(t, skipped)
}

func TestSelectBranchWithoutBranches(t *testing.T) {
	step := &types.Step{Name: "Plain", Role: "Clerk"}
	selected, skipped, err := SelectBranch(step, nil, rules.NewExprEvaluator())
	require.NoError(t, err)
	assert.Empty(t, selected)
	assert.Empty(t, skipped)
}
