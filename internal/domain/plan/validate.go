package plan

import (
	"errors"
	"fmt"
)

var (
	ErrNameRequired    = errors.New("name is required")
	ErrInvalidStrategy = errors.New("invalid strategy: must be serial or parallel")
	ErrNoTasks         = errors.New("at least one task is required")
	ErrDuplicateTaskID = errors.New("duplicate task id")
	ErrTaskMissingID   = errors.New("task id is required")
)

// Report lists every structural problem found in a plan. Unlike ComputeWaves,
// diagnostics never fail: all problems are collected for pre-flight checks.
type Report struct {
	// Cycles holds the IDs of tasks that cannot be topologically ordered.
	Cycles []string `json:"cycles,omitempty"`
	// MissingDeps maps a task ID to the dependency IDs it references
	// that do not exist in the plan.
	MissingDeps map[string][]string `json:"missing_deps,omitempty"`
	// Orphans holds tasks that no other task depends on and that have no
	// dependencies themselves, in plans with more than one task.
	Orphans []string `json:"orphans,omitempty"`
}

// OK returns true when the report found no structural problems.
func (r Report) OK() bool {
	return len(r.Cycles) == 0 && len(r.MissingDeps) == 0 && len(r.Orphans) == 0
}

// Diagnose reports all structural problems in the plan without failing.
func Diagnose(p *Plan) Report {
	rep := Report{MissingDeps: map[string][]string{}}

	ids := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		ids[p.Tasks[i].ID] = true
	}

	referenced := map[string]bool{}
	for i := range p.Tasks {
		t := &p.Tasks[i]
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				rep.MissingDeps[t.ID] = append(rep.MissingDeps[t.ID], dep)
				continue
			}
			referenced[dep] = true
		}
	}
	if len(rep.MissingDeps) == 0 {
		rep.MissingDeps = nil
	}

	// Peel off topologically orderable tasks; whatever remains is cyclic.
	// Missing deps are ignored here so one problem does not mask another.
	scheduled := make(map[string]bool, len(p.Tasks))
	for {
		progress := false
		for i := range p.Tasks {
			t := &p.Tasks[i]
			if scheduled[t.ID] {
				continue
			}
			depsDone := true
			for _, dep := range t.DependsOn {
				if ids[dep] && !scheduled[dep] {
					depsDone = false
					break
				}
			}
			if depsDone {
				scheduled[t.ID] = true
				progress = true
			}
		}
		if !progress {
			break
		}
	}
	for i := range p.Tasks {
		if !scheduled[p.Tasks[i].ID] {
			rep.Cycles = append(rep.Cycles, p.Tasks[i].ID)
		}
	}

	if len(p.Tasks) > 1 {
		for i := range p.Tasks {
			t := &p.Tasks[i]
			if len(t.DependsOn) == 0 && !referenced[t.ID] {
				rep.Orphans = append(rep.Orphans, t.ID)
			}
		}
	}

	return rep
}

// Validate checks the plan for structural correctness before scheduling.
func Validate(p *Plan) error {
	if p.Name == "" {
		return ErrNameRequired
	}
	switch p.Strategy {
	case StrategySerial, StrategyParallel:
		// ok
	default:
		return ErrInvalidStrategy
	}
	if len(p.Tasks) == 0 {
		return ErrNoTasks
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		id := p.Tasks[i].ID
		if id == "" {
			return fmt.Errorf("task %d: %w", i, ErrTaskMissingID)
		}
		if seen[id] {
			return fmt.Errorf("task %q: %w", id, ErrDuplicateTaskID)
		}
		seen[id] = true
	}

	if _, err := ComputeWaves(p); err != nil {
		return err
	}
	return nil
}
