// Package graph provides a dependency graph over named nodes, used to
// validate workflow templates and to release steps whose dependencies are done.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleDetected indicates a circular dependency.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrDuplicateNode indicates a node name was added twice.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownDependency indicates an edge to a node that does not exist.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// DependencyGraph is a directed graph where edges point from a node to the
// nodes it depends on. Iteration order follows insertion order.
// A DependencyGraph is not safe for concurrent mutation.
type DependencyGraph struct {
	order []string
	edges map[string][]string
}

// New creates an empty graph.
func New() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string][]string)}
}

// Add registers a node and the names it depends on.
func (g *DependencyGraph) Add(name string, dependsOn ...string) error {
	if _, exists := g.edges[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	g.order = append(g.order, name)
	g.edges[name] = append([]string(nil), dependsOn...)
	return nil
}

// Validate checks that every dependency exists and the graph is acyclic.
func (g *DependencyGraph) Validate() error {
	for _, name := range g.order {
		for _, dep := range g.edges[name] {
			if _, ok := g.edges[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return fmt.Errorf("%w: %v", ErrCycleDetected, cycle)
	}
	return nil
}

// HasCycle reports whether the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	return g.findCycle() != nil
}

// findCycle returns the nodes of one cycle, or nil. Uses DFS with coloring.
func (g *DependencyGraph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case gray:
				for i, s := range stack {
					if s == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case white:
				if _, known := g.edges[dep]; !known {
					continue
				}
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range g.order {
		if colors[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// TopologicalSort returns node names with dependencies before dependents.
// Ties keep insertion order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	if g.HasCycle() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.order))
	result := make([]string, 0, len(g.order))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			if _, known := g.edges[dep]; known {
				visit(dep)
			}
		}
		result = append(result, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Roots returns nodes without dependencies.
func (g *DependencyGraph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Ready returns nodes not in done whose dependencies are all in done.
func (g *DependencyGraph) Ready(done map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if done[id] {
			continue
		}
		if g.satisfied(id, done) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *DependencyGraph) satisfied(id string, done map[string]bool) bool {
	for _, dep := range g.edges[id] {
		if !done[dep] {
			return false
		}
	}
	return true
}

// Dependencies returns the names the node depends on.
func (g *DependencyGraph) Dependencies(name string) []string {
	return append([]string(nil), g.edges[name]...)
}

// Dependents returns nodes that depend directly on name.
func (g *DependencyGraph) Dependents(name string) []string {
	var dependents []string
	for _, id := range g.order {
		for _, dep := range g.edges[id] {
			if dep == name {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// Size returns the number of nodes.
func (g *DependencyGraph) Size() int {
	return len(g.order)
}
