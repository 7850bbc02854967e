// Package correction lets a downstream task report a defective upstream
// result and mechanically invalidates the minimum affected subgraph.
package correction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leventea/orchid/internal/domain/plan"
)

// Request reports that a target task's output was defective.
// Ephemeral: consumed immediately by the Manager.
type Request struct {
	RequesterID string    `json:"requester_id"`
	TargetID    string    `json:"target_id"`
	Problem     string    `json:"problem"`
	FixHint     string    `json:"fix_hint,omitempty"`
	At          time.Time `json:"at"`
}

// History accumulates the corrections applied to one task within a session.
type History struct {
	TaskID   string    `json:"task_id"`
	Count    int       `json:"count"`
	Requests []Request `json:"requests"`
}

// Outcome is the value returned for every correction request.
// Budget exhaustion is a reported reason, never an error: the requester
// must fall back to a non-automatic path.
type Outcome struct {
	Accepted    bool     `json:"accepted"`
	Reason      string   `json:"reason,omitempty"`
	Invalidated []string `json:"invalidated,omitempty"`
}

// Config bounds the correction ping-pong to a finite number of re-runs.
type Config struct {
	MaxPerTask   int
	MaxTotal     int
	EscalateTier bool
}

// Manager owns the per-session correction budgets and histories.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	histories map[string]*History
	total     int
}

// NewManager creates a Manager for one orchestration session.
func NewManager(cfg Config) *Manager {
	if cfg.MaxPerTask < 1 {
		cfg.MaxPerTask = 1
	}
	if cfg.MaxTotal < 1 {
		cfg.MaxTotal = cfg.MaxPerTask * 4
	}
	return &Manager{cfg: cfg, histories: make(map[string]*History)}
}

// Apply validates the request against both budgets and, when accepted,
// resets the target task and everything downstream of it back to pending.
// Only the target's complexity tier is escalated: dependents re-run at
// their original tier once the corrected input is available.
//
// The plan is left unmodified when the request is rejected.
func (m *Manager) Apply(req Request, p *plan.Plan) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := p.Task(req.TargetID)
	if target == nil {
		return Outcome{Reason: fmt.Sprintf("target task %q not found in plan", req.TargetID)}
	}

	if h := m.histories[req.TargetID]; h != nil && h.Count >= m.cfg.MaxPerTask {
		return Outcome{Reason: fmt.Sprintf(
			"correction budget for task %s exhausted (%d of %d)",
			req.TargetID, h.Count, m.cfg.MaxPerTask)}
	}
	if m.total >= m.cfg.MaxTotal {
		return Outcome{Reason: fmt.Sprintf(
			"session correction budget exhausted (%d of %d)", m.total, m.cfg.MaxTotal)}
	}

	if req.At.IsZero() {
		req.At = time.Now()
	}

	invalidated := append([]string{req.TargetID}, plan.DownstreamOf(p, req.TargetID)...)
	now := time.Now()
	for _, id := range invalidated {
		t := p.Task(id)
		t.Status = plan.TaskStatusPending
		t.Result = ""
		t.Attempts = 0
		t.WorkerID = ""
		t.UpdatedAt = now
	}
	if m.cfg.EscalateTier {
		target.Tier = target.Tier.Escalate()
	}
	p.Version++
	p.UpdatedAt = now

	h := m.histories[req.TargetID]
	if h == nil {
		h = &History{TaskID: req.TargetID}
		m.histories[req.TargetID] = h
	}
	h.Count++
	h.Requests = append(h.Requests, req)
	m.total++

	slog.Info("correction applied",
		"target", req.TargetID,
		"requester", req.RequesterID,
		"invalidated", len(invalidated),
		"task_corrections", h.Count,
		"session_corrections", m.total)

	return Outcome{Accepted: true, Invalidated: invalidated}
}

// HistoryFor returns a copy of the accumulated corrections for a task.
func (m *Manager) HistoryFor(taskID string) History {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.histories[taskID]
	if h == nil {
		return History{TaskID: taskID}
	}
	out := History{TaskID: h.TaskID, Count: h.Count}
	out.Requests = append(out.Requests, h.Requests...)
	return out
}

// Total returns the session-wide correction count.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Reset clears all histories and budgets at the session boundary.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories = make(map[string]*History)
	m.total = 0
}
