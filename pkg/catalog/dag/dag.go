// Package dag validates a workflow definition's step graph and computes
// the adjacency/topological-order view persisted alongside the
// definition so the executor never recomputes it at dispatch time.
package dag

import (
	"sort"

	catalogerrors "github.com/flowforge/catalog/pkg/errors"
	"github.com/flowforge/catalog/pkg/catalog/expression"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

// Build validates the step graph of a workflow definition and returns the
// computed DAG. It returns a *catalogerrors.ValidationError for duplicate
// or empty ids, a *catalogerrors.DependencyMissingError for a dangling
// dependsOn, a *catalogerrors.CycleDetectedError for a cycle (with one
// witness cycle), and a *catalogerrors.ValidationError if a fan-out
// template declares its own dependents.
func Build(steps []model.Step) (*model.DAG, error) {
	if err := validateIDs(steps); err != nil {
		return nil, err
	}
	if err := validateDependsOn(steps); err != nil {
		return nil, err
	}
	if err := validateFanoutTemplates(steps); err != nil {
		return nil, err
	}
	if err := validateConditions(steps); err != nil {
		return nil, err
	}

	adjacency := computeAdjacency(steps)
	order, err := topologicalSort(steps, adjacency)
	if err != nil {
		return nil, err
	}

	return &model.DAG{
		Adjacency:        adjacency,
		Roots:            computeRoots(steps),
		TopologicalOrder: order,
		Edges:            computeEdges(steps),
	}, nil
}

func validateIDs(steps []model.Step) error {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return &catalogerrors.ValidationError{
				Field:   "steps[].id",
				Message: "step id must not be empty",
			}
		}
		if seen[s.ID] {
			return &catalogerrors.ValidationError{
				Field:   "steps[].id",
				Message: "duplicate step id: " + s.ID,
			}
		}
		seen[s.ID] = true
	}
	return nil
}

func validateDependsOn(steps []model.Step) error {
	known := make(map[string]bool, len(steps))
	for _, s := range steps {
		known[s.ID] = true
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !known[dep] {
				return &catalogerrors.DependencyMissingError{StepID: s.ID, DependsOn: dep}
			}
		}
	}
	return nil
}

// validateFanoutTemplates rejects a fan-out step whose template declares
// its own dependents; templates cannot branch outward.
func validateFanoutTemplates(steps []model.Step) error {
	for _, s := range steps {
		if s.Type != model.StepTypeFanout || s.Template == nil {
			continue
		}
		if len(s.Template.Dependents) > 0 {
			return &catalogerrors.ValidationError{
				Field:   s.ID + ".template",
				Message: "fan-out template must not declare dependents",
			}
		}
	}
	return nil
}

// validateConditions rejects a step whose Condition references a step
// ID absent from the definition, so a typo surfaces at registration
// time rather than as a run-time evaluation failure.
func validateConditions(steps []model.Step) error {
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	for _, s := range steps {
		if s.Condition == "" {
			continue
		}
		if err := expression.ValidateStepReferences(s.Condition, ids); err != nil {
			return &catalogerrors.ValidationError{Field: s.ID + ".condition", Message: err.Error()}
		}
	}
	return nil
}

func computeAdjacency(steps []model.Step) map[string][]string {
	adjacency := make(map[string][]string, len(steps))
	for _, s := range steps {
		if _, ok := adjacency[s.ID]; !ok {
			adjacency[s.ID] = nil
		}
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			adjacency[dep] = append(adjacency[dep], s.ID)
		}
	}
	for id := range adjacency {
		sort.Strings(adjacency[id])
	}
	return adjacency
}

func computeRoots(steps []model.Step) []string {
	var roots []string
	for _, s := range steps {
		if len(s.DependsOn) == 0 {
			roots = append(roots, s.ID)
		}
	}
	sort.Strings(roots)
	return roots
}

func computeEdges(steps []model.Step) [][2]string {
	var edges [][2]string
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			edges = append(edges, [2]string{dep, s.ID})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// topologicalSort performs Kahn's algorithm over dependsOn edges,
// breaking ties by step id for a deterministic order, and reports one
// witness cycle via DFS if the in-degree queue empties early.
func topologicalSort(steps []model.Step, adjacency map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(steps))
	for _, s := range steps {
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
	}
	for _, s := range steps {
		inDegree[s.ID] += len(s.DependsOn)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	remaining := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		remaining[k] = v
	}

	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		successors := append([]string(nil), adjacency[next]...)
		sort.Strings(successors)
		for _, succ := range successors {
			remaining[succ]--
			if remaining[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) != len(steps) {
		cycle := findCycle(steps)
		return nil, &catalogerrors.CycleDetectedError{Cycle: cycle}
	}

	return order, nil
}

// findCycle performs a DFS with a recursion stack to report one witness
// cycle among the remaining (unordered) steps.
func findCycle(steps []model.Step) []string {
	dependsOn := make(map[string][]string, len(steps))
	for _, s := range steps {
		dependsOn[s.ID] = s.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range dependsOn[id] {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge id -> dep; extract the cycle portion
				// of the stack from dep's first occurrence to id.
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), stack[start:]...), dep)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
