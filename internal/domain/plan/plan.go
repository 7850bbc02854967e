// Package plan defines the task-graph domain entities for orchestration.
package plan

import "time"

// Strategy defines the execution strategy declared on a plan.
type Strategy string

const (
	StrategySerial   Strategy = "serial"
	StrategyParallel Strategy = "parallel"
)

// Status represents the lifecycle state of a plan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TaskStatus represents the lifecycle state of an individual task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true if the task is in a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Tier is the ordinal complexity scale used to match tasks to worker capability.
type Tier string

const (
	TierTrivial  Tier = "trivial"
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
	TierExpert   Tier = "expert"
)

// tierLadder is the fixed escalation order, least to most capable.
var tierLadder = []Tier{TierTrivial, TierSimple, TierModerate, TierComplex, TierExpert}

// Escalate returns the next tier up the ladder, clamped at the top.
// Unknown tiers are returned unchanged.
func (t Tier) Escalate() Tier {
	for i, tier := range tierLadder {
		if tier == t {
			if i == len(tierLadder)-1 {
				return t
			}
			return tierLadder[i+1]
		}
	}
	return t
}

// Task is one unit of work in a plan. Status, Result, Attempts and WorkerID
// are mutated only by the orchestrator.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Tier      Tier       `json:"tier"`
	Status    TaskStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	WorkerID  string     `json:"worker_id,omitempty"`
	Result    string     `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Plan organizes Tasks as a DAG with a declared execution strategy.
// Identity is immutable; task state mutates as execution proceeds,
// bumping Version on every mutation.
type Plan struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Strategy  Strategy  `json:"strategy"`
	Status    Status    `json:"status"`
	Tasks     []Task    `json:"tasks"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy sharing no memory with p. Readers hold clones;
// only the orchestrator touches the live plan, under its own lock.
func (p *Plan) Clone() *Plan {
	out := *p
	out.Tasks = make([]Task, len(p.Tasks))
	for i := range p.Tasks {
		out.Tasks[i] = p.Tasks[i]
		if deps := p.Tasks[i].DependsOn; deps != nil {
			out.Tasks[i].DependsOn = append([]string(nil), deps...)
		}
	}
	return &out
}

// Task returns a pointer to the task with the given ID, or nil.
func (p *Plan) Task(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// RunningCount returns the number of tasks currently running.
func (p *Plan) RunningCount() int {
	count := 0
	for i := range p.Tasks {
		if p.Tasks[i].Status == TaskStatusRunning {
			count++
		}
	}
	return count
}

// AllTerminal returns true if every task is in a terminal state.
func (p *Plan) AllTerminal() bool {
	for i := range p.Tasks {
		if !p.Tasks[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one task has failed.
func (p *Plan) AnyFailed() bool {
	for i := range p.Tasks {
		if p.Tasks[i].Status == TaskStatusFailed {
			return true
		}
	}
	return false
}

// ReadyTasks returns the IDs of pending tasks whose dependencies are all completed.
func (p *Plan) ReadyTasks() []string {
	completed := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		if p.Tasks[i].Status == TaskStatusCompleted {
			completed[p.Tasks[i].ID] = true
		}
	}

	var ready []string
	for i := range p.Tasks {
		if p.Tasks[i].Status != TaskStatusPending {
			continue
		}
		allDepsComplete := true
		for _, dep := range p.Tasks[i].DependsOn {
			if !completed[dep] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, p.Tasks[i].ID)
		}
	}
	return ready
}
