package plan

import (
	"errors"
	"fmt"
)

var (
	// ErrCycle indicates the dependency relation contains a cycle.
	ErrCycle = errors.New("task dependencies contain a cycle")
	// ErrMissingDep indicates a dependency references an ID not present in the plan.
	ErrMissingDep = errors.New("task dependency references unknown task")
)

// Wave is one topological layer of the plan: the set of tasks whose
// dependencies all sit in strictly earlier waves, eligible to run concurrently.
type Wave struct {
	Index   int      `json:"index"`
	TaskIDs []string `json:"task_ids"`
}

// ComputeWaves partitions the plan's tasks into execution waves using
// iterative Kahn-style layering. Tasks with no dependencies form wave 0;
// each subsequent wave holds the tasks whose dependencies are all scheduled
// in earlier waves. Within a wave, tasks keep plan insertion order so that
// generated snapshots are reproducible on identical input.
//
// A cycle or a dangling dependency is a hard error: no partial wave list
// is returned.
func ComputeWaves(p *Plan) ([]Wave, error) {
	ids := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		ids[p.Tasks[i].ID] = true
	}
	for i := range p.Tasks {
		for _, dep := range p.Tasks[i].DependsOn {
			if !ids[dep] {
				return nil, fmt.Errorf("task %s depends on %q: %w", p.Tasks[i].ID, dep, ErrMissingDep)
			}
		}
	}

	scheduled := make(map[string]bool, len(p.Tasks))
	var waves []Wave

	for len(scheduled) < len(p.Tasks) {
		var layer []string
		for i := range p.Tasks {
			t := &p.Tasks[i]
			if scheduled[t.ID] {
				continue
			}
			depsDone := true
			for _, dep := range t.DependsOn {
				if !scheduled[dep] {
					depsDone = false
					break
				}
			}
			if depsDone {
				layer = append(layer, t.ID)
			}
		}
		if len(layer) == 0 {
			// No progress with tasks remaining: the rest form a cycle.
			return nil, ErrCycle
		}
		waves = append(waves, Wave{Index: len(waves), TaskIDs: layer})
		for _, id := range layer {
			scheduled[id] = true
		}
	}

	return waves, nil
}

// DownstreamOf returns the transitive set of task IDs that depend, directly
// or indirectly, on the given task, in plan order. Each node is visited at
// most once, so diamond-shaped graphs yield no duplicates. The target itself
// is not included.
func DownstreamOf(p *Plan, taskID string) []string {
	// dependents[u] = tasks that list u as a dependency
	dependents := make(map[string][]string, len(p.Tasks))
	for i := range p.Tasks {
		for _, dep := range p.Tasks[i].DependsOn {
			dependents[dep] = append(dependents[dep], p.Tasks[i].ID)
		}
	}

	reached := map[string]bool{}
	queue := []string{taskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range dependents[id] {
			if reached[next] {
				continue
			}
			reached[next] = true
			queue = append(queue, next)
		}
	}

	// Emit in plan order for stable output.
	var out []string
	for i := range p.Tasks {
		if reached[p.Tasks[i].ID] {
			out = append(out, p.Tasks[i].ID)
		}
	}
	return out
}
