package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bpml-go/bpml/types"
)

func hierarchy(roles ...types.Role) *types.ProcessDefinition {
	def := &types.ProcessDefinition{Name: "test", Roles: roles}
	def.BuildIndex()
	return def
}

func TestAuthorized(t *testing.T) {
	def := hierarchy(
		types.Role{Name: "Director", Supervises: "Manager"},
		types.Role{Name: "Manager", Supervises: "Employee"},
		types.Role{Name: "Employee"},
		types.Role{Name: "Auditor"},
	)

	tests := []struct {
		name     string
		required string
		acting   string
		want     bool
	}{
		{"same role", "Employee", "Employee", true},
		{"direct supervisor", "Employee", "Manager", true},
		{"transitive supervisor", "Employee", "Director", true},
		{"subordinate cannot act up", "Manager", "Employee", false},
		{"unrelated role", "Employee", "Auditor", false},
		{"unknown acting role", "Employee", "Ghost", false},
		{"empty acting role", "Employee", "", false},
		{"empty required role", "", "Manager", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorized(def, tt.required, tt.acting))
		})
	}
}

// A malformed supervises chain must not loop; the walk is bounded by the
// role count. Such a definition never passes validation, but the authorizer
// stays safe regardless.
func TestAuthorizedBoundedWalk(t *testing.T) {
	def := hierarchy(
		types.Role{Name: "A", Supervises: "B"},
		types.Role{Name: "B", Supervises: "A"},
	)
	assert.False(t, Authorized(def, "C", "A"))
	assert.True(t, Authorized(def, "B", "A"))
}

func TestAuthorizedTransition(t *testing.T) {
	def := hierarchy(
		types.Role{Name: "Manager", Supervises: "Employee"},
		types.Role{Name: "Employee"},
	)
	tr := &types.Transition{Name: "approve", From: "Open", To: "Done", By: "Employee"}

	assert.True(t, AuthorizedTransition(def, tr, "Employee"))
	assert.True(t, AuthorizedTransition(def, tr, "Manager"))
	assert.False(t, AuthorizedTransition(def, tr, "Intern"))
}
