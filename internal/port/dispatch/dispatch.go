// Package dispatch defines the port through which the orchestrator hands
// tasks to the external worker executor and receives results back.
package dispatch

import (
	"context"

	"github.com/leventea/orchid/internal/domain/plan"
)

// Assignment describes one task handed to a worker for execution.
// ID is unique per dispatch: a task invalidated and re-dispatched while a
// worker is still running gets a fresh ID, so the superseded worker's
// result can be told apart from the live attempt's. Attempt numbers cannot
// serve here because invalidation resets them.
type Assignment struct {
	ID      string    `json:"id"`
	PlanID  string    `json:"plan_id"`
	TaskID  string    `json:"task_id"`
	Title   string    `json:"title"`
	Tier    plan.Tier `json:"tier"`
	Wave    int       `json:"wave"`
	Attempt int       `json:"attempt"`
	// Context carries execution context to prepend for the worker,
	// such as an accumulated correction notice.
	Context string `json:"context,omitempty"`
}

// Result is a worker's completion report for one assignment. Workers echo
// the assignment's ID and Attempt back unchanged.
type Result struct {
	AssignmentID string `json:"assignment_id"`
	PlanID       string `json:"plan_id"`
	TaskID       string `json:"task_id"`
	WorkerID     string `json:"worker_id"`
	Attempt      int    `json:"attempt"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ResultHandler processes one result delivered by the executor.
type ResultHandler func(ctx context.Context, res Result) error

// Dispatcher is the port interface to the worker executor.
type Dispatcher interface {
	// Dispatch hands an assignment to a worker. Delivery, not completion.
	Dispatch(ctx context.Context, a Assignment) error

	// SubscribeResults registers a handler for completion reports.
	// The returned function cancels the subscription.
	SubscribeResults(ctx context.Context, handler ResultHandler) (cancel func(), err error)
}
