// Package planner holds the task graph and the scheduler that executes it:
// dependency validation, topological dispatch, context propagation between
// tasks, delegation of failed tasks and the per-run trace.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smkhb/Stock-Agent/pkg/agent"
	"github.com/smkhb/Stock-Agent/pkg/core"
	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// Task is a unit of work assigned to an agent role.
type Task struct {
	ID             string     `json:"id" yaml:"id"`
	Description    string     `json:"description" yaml:"description"`
	ExpectedOutput string     `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	Agent          agent.Role `json:"agent" yaml:"agent"`
	DependsOn      []string   `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Tags           []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Graph is a set of tasks connected by depends_on edges. Tasks keep their
// declaration order, which breaks ties in the topological order.
type Graph struct {
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Inputs lists run inputs required beyond the template placeholders.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Tasks  []Task   `json:"tasks" yaml:"tasks"`
}

// NewGraph builds and validates a graph.
func NewGraph(id string, tasks ...Task) (*Graph, error) {
	g := &Graph{ID: id}
	for _, t := range tasks {
		if err := g.AddTask(t); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddTask appends t. Dependencies may reference tasks added later; they are
// checked by Validate.
func (g *Graph) AddTask(t Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New(errors.CodeConfig, "task id is required", nil)
	}
	if _, ok := g.index(t.ID); ok {
		return errors.New(errors.CodeConfig, "duplicate task id", nil).WithTask(t.ID)
	}
	t.DependsOn = append([]string(nil), t.DependsOn...)
	t.Tags = append([]string(nil), t.Tags...)
	g.Tasks = append(g.Tasks, t)
	return nil
}

// Task returns the task with id.
func (g *Graph) Task(id string) (Task, bool) {
	i, ok := g.index(id)
	if !ok {
		return Task{}, false
	}
	return g.Tasks[i], true
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.Tasks) }

func (g *Graph) index(id string) (int, bool) {
	for i, t := range g.Tasks {
		if t.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Validate checks the graph is executable: non-empty, unique ids, every
// dependency declared, acyclic and with exactly one terminal task.
func (g *Graph) Validate() error {
	if g == nil || len(g.Tasks) == 0 {
		return errors.New(errors.CodeConfig, "graph has no tasks", nil)
	}
	seen := make(map[string]bool, len(g.Tasks))
	for _, t := range g.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return errors.New(errors.CodeConfig, "task id is required", nil)
		}
		if seen[t.ID] {
			return errors.New(errors.CodeConfig, "duplicate task id", nil).WithTask(t.ID)
		}
		seen[t.ID] = true
		if strings.TrimSpace(string(t.Agent)) == "" {
			return errors.New(errors.CodeConfig, "task has no agent", nil).WithTask(t.ID)
		}
	}
	for _, t := range g.Tasks {
		deps := make(map[string]bool, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return errors.Newf(errors.CodeConfig, "depends on unknown task %q", dep).WithTask(t.ID)
			}
			if deps[dep] {
				return errors.Newf(errors.CodeConfig, "duplicate dependency %q", dep).WithTask(t.ID)
			}
			deps[dep] = true
		}
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	_, err := g.Terminal()
	return err
}

// TopologicalOrder returns the tasks with every dependency before its
// dependents, using Kahn's algorithm. Among tasks whose dependencies are all
// placed, the earliest declared goes first.
func (g *Graph) TopologicalOrder() ([]Task, error) {
	pending := make(map[string]int, len(g.Tasks))
	for _, t := range g.Tasks {
		pending[t.ID] = len(t.DependsOn)
	}
	dependents := g.dependents()

	placed := make([]bool, len(g.Tasks))
	order := make([]Task, 0, len(g.Tasks))
	for len(order) < len(g.Tasks) {
		next := -1
		for i, t := range g.Tasks {
			if !placed[i] && pending[t.ID] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, t := range g.Tasks {
				if !placed[i] {
					stuck = append(stuck, t.ID)
				}
			}
			return nil, errors.New(errors.CodeCycleDetected, "task graph contains a cycle", nil).
				WithContext("tasks", stuck)
		}
		placed[next] = true
		t := g.Tasks[next]
		order = append(order, t)
		for _, d := range dependents[t.ID] {
			pending[d]--
		}
	}
	return order, nil
}

// Terminal returns the single task nothing depends on.
func (g *Graph) Terminal() (Task, error) {
	dependents := g.dependents()
	var terminals []Task
	for _, t := range g.Tasks {
		if len(dependents[t.ID]) == 0 {
			terminals = append(terminals, t)
		}
	}
	switch len(terminals) {
	case 1:
		return terminals[0], nil
	case 0:
		return Task{}, errors.New(errors.CodeCycleDetected, "task graph has no terminal task", nil)
	default:
		ids := make([]string, len(terminals))
		for i, t := range terminals {
			ids[i] = t.ID
		}
		return Task{}, errors.New(errors.CodeMultipleTerminalTasks,
			fmt.Sprintf("exactly one terminal task is required, found %d", len(terminals)), nil).
			WithContext("tasks", ids)
	}
}

// Dependents returns the ids of tasks that depend on id, in declaration order.
func (g *Graph) Dependents(id string) []string {
	return g.dependents()[id]
}

func (g *Graph) dependents() map[string][]string {
	out := make(map[string][]string, len(g.Tasks))
	for _, t := range g.Tasks {
		for _, dep := range t.DependsOn {
			out[dep] = append(out[dep], t.ID)
		}
	}
	return out
}

// Roles returns the distinct agent roles referenced by the graph.
func (g *Graph) Roles() []agent.Role {
	seen := make(map[agent.Role]bool)
	var out []agent.Role
	for _, t := range g.Tasks {
		if !seen[t.Agent] {
			seen[t.Agent] = true
			out = append(out, t.Agent)
		}
	}
	return out
}

// RequiredInputs returns the declared inputs plus every placeholder used by
// task descriptions and expected outputs, sorted. Builtins are excluded.
func (g *Graph) RequiredInputs() []string {
	set := make(map[string]bool)
	for _, in := range g.Inputs {
		set[in] = true
	}
	for _, t := range g.Tasks {
		for _, p := range core.Placeholders(t.Description) {
			set[p] = true
		}
		for _, p := range core.Placeholders(t.ExpectedOutput) {
			set[p] = true
		}
	}
	delete(set, core.CurrentDateInput)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
