package validator

import (
	"fmt"

	"github.com/bpml-go/bpml/rules"
	"github.com/bpml-go/bpml/types"
)

// Validation error codes.
const (
	CodeMissingProjectName = "MissingProjectName"
	CodeMissingProcessName = "MissingProcessName"
	CodeDuplicateName      = "DuplicateName"
	CodeUnknownReference   = "UnknownReference"
	CodeCyclicDependency   = "CyclicDependency"
	CodeInvalidFlowOrder   = "InvalidFlowOrder"
	CodeInvalidElement     = "InvalidElement"
)

// ValidationError describes one integrity violation found in a document.
type ValidationError struct {
	Code    string `json:"code"`
	Process string `json:"process,omitempty"`
	Element string `json:"element,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Process != "" {
		return fmt.Sprintf("%s: %s (process %q)", e.Code, e.Message, e.Process)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Project holds document metadata. Only the name is checked; the rest is
// carried through for tooling.
type Project struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
}

// Document is the structured form of a process description, as produced by
// the grammar front end or the definition loader. Processes are unvalidated
// until Validate accepts them.
type Document struct {
	Project   Project                   `json:"project" yaml:"project"`
	Processes []types.ProcessDefinition `json:"processes" yaml:"processes"`
}

// Validate runs every integrity check over the document and collects all
// violations rather than stopping at the first. On success it returns the
// validated definitions with their lookup tables built; on failure it returns
// no definitions at all. Validation is idempotent and has no side effects on
// the input.
func Validate(doc Document) ([]*types.ProcessDefinition, []ValidationError) {
	var errs []ValidationError

	errs = append(errs, checkProject(doc.Project)...)
	errs = append(errs, checkProcessNames(doc.Processes)...)

	for i := range doc.Processes {
		p := &doc.Processes[i]
		errs = append(errs, checkUniqueNames(p)...)
		errs = append(errs, checkEntities(p)...)
		errs = append(errs, checkRoles(p)...)
		errs = append(errs, checkSteps(p)...)
		errs = append(errs, checkDependencyCycles(p)...)
		errs = append(errs, checkFlow(p)...)
		errs = append(errs, checkTransitions(p)...)
		errs = append(errs, checkBranches(p)...)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	defs := make([]*types.ProcessDefinition, 0, len(doc.Processes))
	for i := range doc.Processes {
		d := doc.Processes[i]
		d.BuildIndex()
		defs = append(defs, &d)
	}
	return defs, nil
}

func checkProject(p Project) []ValidationError {
	if p.Name == "" {
		return []ValidationError{{
			Code:    CodeMissingProjectName,
			Message: "project name is required",
		}}
	}
	return nil
}

func checkProcessNames(processes []types.ProcessDefinition) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, p := range processes {
		if p.Name == "" {
			errs = append(errs, ValidationError{
				Code:    CodeMissingProcessName,
				Message: "process name is required",
			})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateName,
				Process: p.Name,
				Message: fmt.Sprintf("duplicate process name %q", p.Name),
			})
		}
		seen[p.Name] = true
	}
	return errs
}

// checkUniqueNames enforces per-kind name uniqueness inside one process.
func checkUniqueNames(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError

	dup := func(kind, name string) ValidationError {
		return ValidationError{
			Code:    CodeDuplicateName,
			Process: p.Name,
			Element: name,
			Message: fmt.Sprintf("duplicate %s name %q", kind, name),
		}
	}

	seen := make(map[string]bool)
	for _, e := range p.Entities {
		if seen[e.Name] {
			errs = append(errs, dup("entity", e.Name))
		}
		seen[e.Name] = true
	}
	seen = make(map[string]bool)
	for _, r := range p.Roles {
		if seen[r.Name] {
			errs = append(errs, dup("role", r.Name))
		}
		seen[r.Name] = true
	}
	seen = make(map[string]bool)
	for _, s := range p.States {
		if seen[s.Name] {
			errs = append(errs, dup("state", s.Name))
		}
		seen[s.Name] = true
	}
	seen = make(map[string]bool)
	for _, s := range p.Steps {
		if seen[s.Name] {
			errs = append(errs, dup("step", s.Name))
		}
		seen[s.Name] = true
	}
	seen = make(map[string]bool)
	for _, t := range p.Transitions {
		if seen[t.Name] {
			errs = append(errs, dup("transition", t.Name))
		}
		seen[t.Name] = true
	}
	return errs
}

var fieldTypes = map[string]bool{
	types.FieldString:  true,
	types.FieldInt:     true,
	types.FieldFloat:   true,
	types.FieldBoolean: true,
	types.FieldEnum:    true,
}

func checkEntities(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError
	for _, e := range p.Entities {
		seen := make(map[string]bool)
		for _, f := range e.Fields {
			if seen[f.Name] {
				errs = append(errs, ValidationError{
					Code:    CodeDuplicateName,
					Process: p.Name,
					Element: e.Name,
					Message: fmt.Sprintf("duplicate field %q in entity %q", f.Name, e.Name),
				})
			}
			seen[f.Name] = true
			if !fieldTypes[f.Type] {
				errs = append(errs, ValidationError{
					Code:    CodeInvalidElement,
					Process: p.Name,
					Element: e.Name,
					Message: fmt.Sprintf("field %q of entity %q has unknown type %q", f.Name, e.Name, f.Type),
				})
			}
			if f.Type == types.FieldEnum && len(f.Variants) == 0 {
				errs = append(errs, ValidationError{
					Code:    CodeInvalidElement,
					Process: p.Name,
					Element: e.Name,
					Message: fmt.Sprintf("enum field %q of entity %q has no variants", f.Name, e.Name),
				})
			}
		}
	}
	return errs
}

// checkRoles verifies supervises references and rejects supervision cycles.
// The supervises pointers form a forest, so a bounded walk suffices.
func checkRoles(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError
	names := make(map[string]string, len(p.Roles)) // name -> supervises
	for _, r := range p.Roles {
		names[r.Name] = r.Supervises
	}
	for _, r := range p.Roles {
		if r.Supervises == "" {
			continue
		}
		if r.Supervises == r.Name {
			errs = append(errs, ValidationError{
				Code:    CodeCyclicDependency,
				Process: p.Name,
				Element: r.Name,
				Message: fmt.Sprintf("role %q cannot supervise itself", r.Name),
			})
			continue
		}
		if _, ok := names[r.Supervises]; !ok {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: r.Name,
				Message: fmt.Sprintf("role %q supervises unknown role %q", r.Name, r.Supervises),
			})
			continue
		}
		// Walk the chain; more hops than roles means a cycle.
		cur := r.Supervises
		for hops := 0; cur != ""; hops++ {
			if cur == r.Name {
				errs = append(errs, ValidationError{
					Code:    CodeCyclicDependency,
					Process: p.Name,
					Element: r.Name,
					Message: fmt.Sprintf("role %q is part of a supervision cycle", r.Name),
				})
				break
			}
			if hops > len(p.Roles) {
				break // cycle not involving r; reported for its own member
			}
			cur = names[cur]
		}
	}
	return errs
}

func checkSteps(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError

	roles := make(map[string]bool, len(p.Roles))
	for _, r := range p.Roles {
		roles[r.Name] = true
	}
	entities := make(map[string]bool, len(p.Entities))
	for _, e := range p.Entities {
		entities[e.Name] = true
	}
	steps := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		steps[s.Name] = true
	}

	for _, s := range p.Steps {
		hasRole := s.Role != ""
		if s.Auto == hasRole {
			errs = append(errs, ValidationError{
				Code:    CodeInvalidElement,
				Process: p.Name,
				Element: s.Name,
				Message: fmt.Sprintf("step %q must be either auto or owned by a role", s.Name),
			})
		}
		if hasRole && !roles[s.Role] {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: s.Name,
				Message: fmt.Sprintf("step %q references unknown role %q", s.Name, s.Role),
			})
		}
		if s.Entity != "" && !entities[s.Entity] {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: s.Name,
				Message: fmt.Sprintf("step %q references unknown entity %q", s.Name, s.Entity),
			})
		}
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				errs = append(errs, ValidationError{
					Code:    CodeCyclicDependency,
					Process: p.Name,
					Element: s.Name,
					Message: fmt.Sprintf("step %q cannot depend on itself", s.Name),
				})
				continue
			}
			if !steps[dep] {
				errs = append(errs, ValidationError{
					Code:    CodeUnknownReference,
					Process: p.Name,
					Element: s.Name,
					Message: fmt.Sprintf("step %q depends on unknown step %q", s.Name, dep),
				})
			}
		}
	}
	return errs
}

// checkDependencyCycles runs a DFS over the dependsOn graph with a
// recursion-stack marker; a back-edge to a step on the stack is a cycle.
func checkDependencyCycles(p *types.ProcessDefinition) []ValidationError {
	deps := make(map[string][]string, len(p.Steps))
	known := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		known[s.Name] = true
	}
	for _, s := range p.Steps {
		for _, d := range s.DependsOn {
			if known[d] && d != s.Name {
				deps[s.Name] = append(deps[s.Name], d)
			}
		}
	}

	var errs []ValidationError
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(name string) bool
	visit = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		for _, d := range deps[name] {
			if onStack[d] {
				errs = append(errs, ValidationError{
					Code:    CodeCyclicDependency,
					Process: p.Name,
					Element: name,
					Message: fmt.Sprintf("dependency cycle through steps %q and %q", name, d),
				})
				onStack[name] = false
				return true
			}
			if !visited[d] && visit(d) {
				onStack[name] = false
				return true
			}
		}
		onStack[name] = false
		return false
	}

	for _, s := range p.Steps {
		if !visited[s.Name] {
			visit(s.Name)
		}
	}
	return errs
}

// checkFlow verifies every flow element names a declared step and that the
// flow order is a valid topological order of the dependency DAG: a step may
// not precede any of its dependencies that also appear in the flow.
func checkFlow(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError

	steps := make(map[string]*types.Step, len(p.Steps))
	for i := range p.Steps {
		steps[p.Steps[i].Name] = &p.Steps[i]
	}

	pos := make(map[string]int, len(p.Flow))
	for i, name := range p.Flow {
		if _, ok := steps[name]; !ok {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: name,
				Message: fmt.Sprintf("flow references unknown step %q", name),
			})
			continue
		}
		if prev, dup := pos[name]; dup {
			errs = append(errs, ValidationError{
				Code:    CodeInvalidFlowOrder,
				Process: p.Name,
				Element: name,
				Message: fmt.Sprintf("step %q appears twice in flow (positions %d and %d)", name, prev, i),
			})
			continue
		}
		pos[name] = i
	}

	for i, name := range p.Flow {
		s, ok := steps[name]
		if !ok {
			continue
		}
		for _, dep := range s.DependsOn {
			if depPos, inFlow := pos[dep]; inFlow && depPos > i {
				errs = append(errs, ValidationError{
					Code:    CodeInvalidFlowOrder,
					Process: p.Name,
					Element: name,
					Message: fmt.Sprintf("step %q precedes its dependency %q in flow", name, dep),
				})
			}
		}
	}
	return errs
}

func checkTransitions(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError

	states := make(map[string]bool, len(p.States))
	for _, s := range p.States {
		states[s.Name] = true
	}
	roles := make(map[string]bool, len(p.Roles))
	for _, r := range p.Roles {
		roles[r.Name] = true
	}

	type edge struct{ from, to, by string }
	seenEdges := make(map[edge]bool)

	for _, t := range p.Transitions {
		if !states[t.From] {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: t.Name,
				Message: fmt.Sprintf("transition %q references unknown from state %q", t.Name, t.From),
			})
		}
		if !states[t.To] {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: t.Name,
				Message: fmt.Sprintf("transition %q references unknown to state %q", t.Name, t.To),
			})
		}
		if t.From != "" && t.From == t.To {
			errs = append(errs, ValidationError{
				Code:    CodeInvalidElement,
				Process: p.Name,
				Element: t.Name,
				Message: fmt.Sprintf("transition %q has identical from and to state %q", t.Name, t.From),
			})
		}
		if !roles[t.By] {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownReference,
				Process: p.Name,
				Element: t.Name,
				Message: fmt.Sprintf("transition %q references unknown role %q", t.Name, t.By),
			})
		}
		e := edge{t.From, t.To, t.By}
		if seenEdges[e] {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateName,
				Process: p.Name,
				Element: t.Name,
				Message: fmt.Sprintf("transition %q duplicates %s -> %s by %s", t.Name, t.From, t.To, t.By),
			})
		}
		seenEdges[e] = true
	}

	if p.StartState != "" && !states[p.StartState] {
		errs = append(errs, ValidationError{
			Code:    CodeUnknownReference,
			Process: p.Name,
			Element: p.StartState,
			Message: fmt.Sprintf("start state %q is not declared", p.StartState),
		})
	}
	return errs
}

// checkBranches validates onComplete rules: the target must be a declared
// step that depends on the branching step (so branch gating is the only way
// it becomes eligible), and the condition must compile.
func checkBranches(p *types.ProcessDefinition) []ValidationError {
	var errs []ValidationError

	steps := make(map[string]*types.Step, len(p.Steps))
	for i := range p.Steps {
		steps[p.Steps[i].Name] = &p.Steps[i]
	}

	for _, s := range p.Steps {
		for _, b := range s.OnComplete {
			target, declared := steps[b.Then]
			if !declared {
				errs = append(errs, ValidationError{
					Code:    CodeUnknownReference,
					Process: p.Name,
					Element: s.Name,
					Message: fmt.Sprintf("step %q onComplete targets unknown step %q", s.Name, b.Then),
				})
			} else {
				depends := false
				for _, dep := range target.DependsOn {
					if dep == s.Name {
						depends = true
						break
					}
				}
				if !depends {
					errs = append(errs, ValidationError{
						Code:    CodeInvalidElement,
						Process: p.Name,
						Element: s.Name,
						Message: fmt.Sprintf("onComplete target %q must depend on step %q", b.Then, s.Name),
					})
				}
			}
			if err := rules.Check(b.When); err != nil {
				errs = append(errs, ValidationError{
					Code:    CodeInvalidElement,
					Process: p.Name,
					Element: s.Name,
					Message: fmt.Sprintf("step %q onComplete condition %q does not compile: %v", s.Name, b.When, err),
				})
			}
		}
	}
	return errs
}
