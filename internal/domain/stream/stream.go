// Package stream defines the work-stream domain: independently progressing
// lines of work, each in its own isolated working copy, coordinated at a
// coarser granularity than individual tasks.
package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/leventea/orchid/internal/domain/plan"
)

// Status represents the lifecycle state of a work stream.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusMerging      Status = "merging"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// ErrBadTransition indicates a lifecycle transition the state machine forbids.
var ErrBadTransition = errors.New("invalid stream transition")

// transitions lists the permitted next states per state.
var transitions = map[Status][]Status{
	StatusInitializing: {StatusActive},
	StatusActive:       {StatusInitializing, StatusMerging}, // pause or begin merge
	StatusMerging:      {StatusCompleted, StatusFailed},
}

// WorkStream is one isolated line of work: a working-copy path plus the
// branch identifying it, ordered against sibling streams by DependsOn.
type WorkStream struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WorktreePath string    `json:"worktree_path"`
	Branch       string    `json:"branch"`
	Status       Status    `json:"status"`
	DependsOn    []string  `json:"depends_on,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transition moves the stream to next if the state machine permits it.
func (w *WorkStream) Transition(next Status) error {
	for _, allowed := range transitions[w.Status] {
		if allowed == next {
			w.Status = next
			w.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, w.Status, next)
}

// Terminal returns true when the stream has finished, successfully or not.
func (w *WorkStream) Terminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}

// ToPlan builds a synthetic plan with streams as tasks, so cross-stream
// ordering reuses the task-level wave scheduler: the same algorithm applied
// at a coarser granularity.
func ToPlan(streams []WorkStream) *plan.Plan {
	p := &plan.Plan{ID: "streams", Name: "stream ordering", Strategy: plan.StrategyParallel}
	for _, w := range streams {
		status := plan.TaskStatusPending
		switch w.Status {
		case StatusCompleted:
			status = plan.TaskStatusCompleted
		case StatusFailed:
			status = plan.TaskStatusFailed
		case StatusActive, StatusMerging:
			status = plan.TaskStatusRunning
		}
		p.Tasks = append(p.Tasks, plan.Task{
			ID:        w.ID,
			Title:     w.Name,
			DependsOn: w.DependsOn,
			Status:    status,
		})
	}
	return p
}

// Merge overlays incoming streams onto current by ID, returning the merged
// registry in current-then-new order. Used when reading the persisted
// registry back at startup.
func Merge(current, incoming []WorkStream) []WorkStream {
	index := make(map[string]int, len(current))
	out := make([]WorkStream, len(current))
	copy(out, current)
	for i := range out {
		index[out[i].ID] = i
	}
	for _, w := range incoming {
		if i, ok := index[w.ID]; ok {
			out[i] = w
			continue
		}
		index[w.ID] = len(out)
		out = append(out, w)
	}
	return out
}
