// Package buildsys runs named build tasks in dependency order.
//
// A task pulls its Deps into a run and only starts once they succeeded. After orders a task
// behind other tasks that happen to be part of the same run and, like Deps, skips it if one of
// them did not succeed.
package buildsys

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidGraph is wrapped by every validation failure of NewGraph
	ErrInvalidGraph = errors.New("invalid task graph")
	// ErrCycle is wrapped by the error NewGraph returns for cyclic declarations
	ErrCycle = errors.New("cycle detected")
	// ErrSkipped is reported for tasks that never started because a dependency failed
	ErrSkipped = errors.New("skipped because a dependency did not succeed")
)

// Task is a named unit of work
type Task struct {
	Name string
	Desc string
	// Deps are run before this task and have to succeed
	Deps []string
	// After orders this task behind the listed tasks if they are part of the same run. A failed
	// or skipped task listed here skips this one.
	After []string
	// Action may be nil for tasks that only group their Deps
	Action func(ctx context.Context) error
	Hidden bool
}

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Name, t.Desc)
}

// GraphError describes why a task declaration was rejected
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...interface{}) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

// Graph is a validated, immutable set of tasks
type Graph struct {
	tasks map[string]*Task
	names []string
}

// NewGraph validates the task declarations. Names have to be unique and non-empty, every
// referenced task must exist and Deps and After together must not form a cycle.
func NewGraph(tasks ...*Task) (*Graph, error) {
	g := &Graph{
		tasks: make(map[string]*Task, len(tasks)),
		names: make([]string, 0, len(tasks)),
	}

	for _, task := range tasks {
		if task == nil || task.Name == "" {
			return nil, invalidf("task without name")
		}
		if _, ok := g.tasks[task.Name]; ok {
			return nil, invalidf("task %s declared twice", task.Name)
		}

		g.tasks[task.Name] = task
		g.names = append(g.names, task.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		task := g.tasks[name]
		for _, ref := range task.Deps {
			if _, ok := g.tasks[ref]; !ok {
				return nil, invalidf("task %s depends on unknown task %s", name, ref)
			}
		}
		for _, ref := range task.After {
			if _, ok := g.tasks[ref]; !ok {
				return nil, invalidf("task %s runs after unknown task %s", name, ref)
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &GraphError{Kind: ErrCycle, Msg: strings.Join(cycle, " -> ")}
	}

	return g, nil
}

// predecessors returns every task name must wait for, regardless of whether it's part of a run
func (g *Graph) predecessors(name string) []string {
	task := g.tasks[name]
	result := make([]string, 0, len(task.Deps)+len(task.After))
	result = append(result, task.Deps...)
	result = append(result, task.After...)
	return result
}

func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g.names))
	stack := []string{}

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)

		for _, pred := range g.predecessors(name) {
			switch color[pred] {
			case gray:
				start := 0
				for idx, item := range stack {
					if item == pred {
						start = idx
						break
					}
				}

				cycle := append([]string{}, stack[start:]...)
				return append(cycle, pred)
			case white:
				if cycle := visit(pred); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.names {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// Task looks up a task by name
func (g *Graph) Task(name string) (*Task, bool) {
	task, ok := g.tasks[name]
	return task, ok
}

// Tasks returns all tasks sorted by name
func (g *Graph) Tasks() []*Task {
	result := make([]*Task, len(g.names))
	for idx, name := range g.names {
		result[idx] = g.tasks[name]
	}
	return result
}

// Plan returns the given targets and everything they (transitively) depend on in an order that
// satisfies Deps and After. Ties are broken by name so the order is stable.
func (g *Graph) Plan(targets ...string) ([]string, error) {
	included := map[string]bool{}

	var include func(name string) error
	include = func(name string) error {
		if included[name] {
			return nil
		}

		task, ok := g.tasks[name]
		if !ok {
			return eris.Errorf("task %s not found", name)
		}

		included[name] = true
		for _, dep := range task.Deps {
			if err := include(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, target := range targets {
		if err := include(target); err != nil {
			return nil, err
		}
	}

	indeg := make(map[string]int, len(included))
	successors := make(map[string][]string, len(included))
	for name := range included {
		indeg[name] = 0
	}
	for name := range included {
		for _, pred := range g.predecessors(name) {
			if included[pred] {
				indeg[name]++
				successors[pred] = append(successors[pred], name)
			}
		}
	}

	ready := []string{}
	for name, deg := range indeg {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(included))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, next := range successors[name] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	return order, nil
}
