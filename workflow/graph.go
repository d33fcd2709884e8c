package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// RiskLevel grades how dangerous a step is to execute.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Step is the atomic unit of work in a workflow graph.
// Action is an opaque payload interpreted only by the external executor;
// the engine never inspects it.
type Step struct {
	ID               string    `json:"id" yaml:"id"`
	Action           any       `json:"action" yaml:"action"`
	DependsOn        []string  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Risk             RiskLevel `json:"risk,omitempty" yaml:"risk,omitempty"`
	RequiresApproval bool      `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
}

// DuplicateStepIDError reports two steps sharing an id.
type DuplicateStepIDError struct {
	ID string
}

func (e *DuplicateStepIDError) Error() string {
	return fmt.Sprintf("duplicate step id: %s", e.ID)
}

// DanglingDependencyError reports a dependency on a step not present in the
// same graph.
type DanglingDependencyError struct {
	StepID       string
	DependencyID string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("step %s depends on unknown step %s", e.StepID, e.DependencyID)
}

// CyclicDependencyError reports that the step set admits no topological
// order. Members lists the step ids involved in (or downstream of) a cycle.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency involving steps: %s", strings.Join(e.Members, ", "))
}

// DependencyGraph is an immutable directed graph of steps. Built once per
// workflow invocation and never mutated afterwards, so it is safe for
// concurrent reads without locking.
type DependencyGraph struct {
	steps      map[string]Step
	dependents map[string][]string // dependency id -> ids of steps that need it
	order      []string            // precomputed topological order
}

// BuildGraph validates the step set and constructs a graph. It fails with
// DuplicateStepIDError, DanglingDependencyError or CyclicDependencyError.
// A step depending on itself counts as a cycle.
func BuildGraph(steps []Step) (*DependencyGraph, error) {
	g := &DependencyGraph{
		steps:      make(map[string]Step, len(steps)),
		dependents: make(map[string][]string),
	}

	for _, s := range steps {
		if _, exists := g.steps[s.ID]; exists {
			return nil, &DuplicateStepIDError{ID: s.ID}
		}
		if s.Risk == "" {
			s.Risk = RiskLow
		}
		g.steps[s.ID] = s
	}

	inDegree := make(map[string]int, len(steps))
	for id := range g.steps {
		inDegree[id] = 0
	}
	for _, s := range g.steps {
		for _, dep := range s.DependsOn {
			if _, exists := g.steps[dep]; !exists {
				return nil, &DanglingDependencyError{StepID: s.ID, DependencyID: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], s.ID)
			inDegree[s.ID]++
		}
	}
	for dep := range g.dependents {
		sort.Strings(g.dependents[dep])
	}

	// Kahn's algorithm. Ready steps are drained in ascending id order so the
	// resulting order is deterministic across identical inputs; any step that
	// never reaches in-degree zero is part of or downstream of a cycle.
	ready := make([]string, 0, len(steps))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := false
		for _, dependent := range g.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.steps) {
		var members []string
		for id, deg := range inDegree {
			if deg > 0 {
				members = append(members, id)
			}
		}
		sort.Strings(members)
		return nil, &CyclicDependencyError{Members: members}
	}

	g.order = order
	return g, nil
}

// Len returns the number of steps in the graph.
func (g *DependencyGraph) Len() int {
	return len(g.steps)
}

// Step returns the step with the given id.
func (g *DependencyGraph) Step(id string) (Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Steps returns all steps in topological order.
func (g *DependencyGraph) Steps() []Step {
	out := make([]Step, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.steps[id])
	}
	return out
}

// TopologicalOrder returns one valid total order of step ids. The order is
// stable and deterministic for identical inputs (ascending-id tie-break).
func (g *DependencyGraph) TopologicalOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ReadySteps returns the ids of steps whose dependencies are all contained
// in completed and which are not themselves completed, sorted ascending.
func (g *DependencyGraph) ReadySteps(completed map[string]bool) []string {
	var ready []string
	for id, s := range g.steps {
		if completed[id] {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// Dependents returns the ids of steps that directly depend on the given id.
func (g *DependencyGraph) Dependents(id string) []string {
	out := make([]string, len(g.dependents[id]))
	copy(out, g.dependents[id])
	return out
}
