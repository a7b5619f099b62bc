// Package authz decides whether an acting role may perform a role-gated
// action. It is a pure decision layer with no state of its own; the role
// forest lives in the process definition.
package authz

import (
	"github.com/bpml-go/bpml/types"
)

// Authorized reports whether acting may act in place of required: either the
// roles are equal, or acting directly or transitively supervises required.
// The walk down the supervises pointers is bounded by the role count, so a
// malformed hierarchy cannot loop.
func Authorized(def *types.ProcessDefinition, required, acting string) bool {
	if required == "" || acting == "" {
		return false
	}
	cur := acting
	for hops := 0; hops <= len(def.Roles); hops++ {
		if cur == required {
			return true
		}
		r := def.RoleNamed(cur)
		if r == nil || r.Supervises == "" {
			return false
		}
		cur = r.Supervises
	}
	return false
}

// AuthorizedTransition reports whether acting may execute the transition.
func AuthorizedTransition(def *types.ProcessDefinition, t *types.Transition, acting string) bool {
	return Authorized(def, t.By, acting)
}
