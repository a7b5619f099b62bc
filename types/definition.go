package types

// BuildIndex resolves the definition's internal lookup tables. The validator
// calls it once after all checks pass; storage implementations call it again
// after deserialization. The runtime relies on these tables and never
// re-resolves name strings itself.
func (d *ProcessDefinition) BuildIndex() {
	d.roles = make(map[string]*Role, len(d.Roles))
	for i := range d.Roles {
		d.roles[d.Roles[i].Name] = &d.Roles[i]
	}
	d.steps = make(map[string]*Step, len(d.Steps))
	for i := range d.Steps {
		d.steps[d.Steps[i].Name] = &d.Steps[i]
	}
	d.states = make(map[string]bool, len(d.States))
	for _, s := range d.States {
		d.states[s.Name] = true
	}
	d.byFrom = make(map[string][]*Transition)
	d.hasIncoming = make(map[string]bool)
	for i := range d.Transitions {
		t := &d.Transitions[i]
		d.byFrom[t.From] = append(d.byFrom[t.From], t)
		d.hasIncoming[t.To] = true
	}
}

// RoleNamed returns the role with the given name, or nil.
func (d *ProcessDefinition) RoleNamed(name string) *Role {
	return d.roles[name]
}

// StepNamed returns the step with the given name, or nil.
func (d *ProcessDefinition) StepNamed(name string) *Step {
	return d.steps[name]
}

// HasState reports whether the definition declares the named state.
func (d *ProcessDefinition) HasState(name string) bool {
	return d.states[name]
}

// TransitionsFrom returns the transitions whose source is the given state.
func (d *ProcessDefinition) TransitionsFrom(state string) []*Transition {
	return d.byFrom[state]
}

// TransitionFrom returns the named transition out of the given state, or nil.
func (d *ProcessDefinition) TransitionFrom(state, name string) *Transition {
	for _, t := range d.byFrom[state] {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// InitialState is the explicitly configured start state, or the first
// declared state with no incoming transitions.
func (d *ProcessDefinition) InitialState() string {
	if d.StartState != "" {
		return d.StartState
	}
	for _, s := range d.States {
		if !d.hasIncoming[s.Name] {
			return s.Name
		}
	}
	if len(d.States) > 0 {
		return d.States[0].Name
	}
	return ""
}

// TerminalState reports whether the named state has no outgoing transitions.
func (d *ProcessDefinition) TerminalState(name string) bool {
	return len(d.byFrom[name]) == 0
}
