// Package dag builds a task dependency graph and stages it for parallel
// execution, using a full Kahn's-algorithm staging over an arbitrary Task
// dependency graph, plus explicit cycle enumeration when the graph is not
// a DAG.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aren13/momentum/internal/task"
)

// CycleError reports one or more cycles found while staging a task set.
// Staging fails atomically: if any cycle exists, no stages are produced.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = strings.Join(c, " -> ")
	}
	return fmt.Sprintf("dependency cycle(s) detected: %s", strings.Join(parts, "; "))
}

// Stage is a set of task IDs with no edges between them; every task in a
// stage may run concurrently once all prior stages have completed.
type Stage struct {
	TaskIDs []string
}

// Parallelizable reports whether more than one task can run concurrently in
// this stage.
func (s Stage) Parallelizable() bool {
	return len(s.TaskIDs) > 1
}

// graph is the transient adjacency representation DependencyResolver builds
// from a Task set: edges run dep -> dependent.
type graph struct {
	nodes    []string
	edges    map[string][]string // dep -> dependents
	inDegree map[string]int
}

func buildGraph(tasks []task.Task) *graph {
	g := &graph{
		edges:    make(map[string][]string),
		inDegree: make(map[string]int),
	}
	for _, t := range tasks {
		g.nodes = append(g.nodes, t.ID)
		if _, ok := g.inDegree[t.ID]; !ok {
			g.inDegree[t.ID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			g.edges[dep] = append(g.edges[dep], t.ID)
			g.inDegree[t.ID]++
		}
	}
	sort.Strings(g.nodes)
	for dep := range g.edges {
		sort.Strings(g.edges[dep])
	}
	return g
}

// Resolve builds the task DAG and returns deterministic execution stages.
// It fails with a *CycleError if the task set is not acyclic, and
// with a plain error if a dependency references an unknown task.
func Resolve(tasks []task.Task) ([]Stage, error) {
	if err := task.Validate(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	g := buildGraph(tasks)

	if cycles := detectCycles(g); len(cycles) > 0 {
		return nil, &CycleError{Cycles: cycles}
	}

	return stage(g), nil
}

// detectCycles runs DFS coloring over the dependency graph (edges dep ->
// dependent) and returns every cycle found, each listed node-to-node in the
// order the cycle closes.
func detectCycles(g *graph) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var path []string
	var cycles [][]string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		path = append(path, node)
		for _, next := range g.edges[node] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				cycles = append(cycles, extractCycle(path, next))
			}
		}
		path = path[:len(path)-1]
		color[node] = black
	}

	for _, n := range g.nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// extractCycle slices path from the first occurrence of target to the end,
// then appends target again to show the closing edge.
func extractCycle(path []string, target string) []string {
	for i, n := range path {
		if n == target {
			cycle := append([]string{}, path[i:]...)
			return append(cycle, target)
		}
	}
	return append(append([]string{}, path...), target)
}

// stage runs Kahn's algorithm: repeatedly emit the set of zero-in-degree
// nodes as one stage, decrement their dependents' in-degree, and iterate
// until drained. Node order within a stage is sorted for determinism.
func stage(g *graph) []Stage {
	inDegree := make(map[string]int, len(g.inDegree))
	for k, v := range g.inDegree {
		inDegree[k] = v
	}

	remaining := len(g.nodes)
	var stages []Stage

	for remaining > 0 {
		var ready []string
		for _, n := range g.nodes {
			if inDegree[n] == 0 {
				ready = append(ready, n)
			}
		}
		sort.Strings(ready)

		for _, n := range ready {
			inDegree[n] = -1 // mark emitted, keeps it out of future rounds
			remaining--
			for _, dependent := range g.edges[n] {
				inDegree[dependent]--
			}
		}

		stages = append(stages, Stage{TaskIDs: ready})
	}

	return stages
}

// ReadyTasks returns every task whose dependencies are all present in
// completed and which is not itself in completed, in stable ID order.
func ReadyTasks(tasks []task.Task, completed map[string]bool) []task.Task {
	var ready []task.Task
	for _, t := range tasks {
		if completed[t.ID] {
			continue
		}
		allDepsMet := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				allDepsMet = false
				break
			}
		}
		if allDepsMet {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}
