// Package guard implements bounded admission control for delegated work.
//
// A Guard decides whether a new delegated unit of work may start, based on
// an immutable per-session Policy and mutable session counters. Admission
// outcomes are decision values, never errors: denial is a normal, frequent
// outcome. Guards are constructor-injected so multiple sessions can run
// isolated guards in one process.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mode controls how much delegation a session permits.
type Mode string

const (
	// ModeNone forbids all delegation; workers are pure leaf executors.
	ModeNone Mode = "none"
	// ModeSingle permits one level of delegation (depth 0 only).
	ModeSingle Mode = "single"
	// ModeRecursive permits delegation up to Policy.MaxDepth.
	ModeRecursive Mode = "recursive"
)

// Policy is the immutable per-session delegation configuration.
// Set once at session start; never mutated.
type Policy struct {
	Mode             Mode
	MaxDepth         int
	MaxParallel      int
	RunawayThreshold int
	// RunawayPhrases overrides the default detection phrase list.
	// The phrase set is heuristic policy, not a contract.
	RunawayPhrases []string
}

// Reason classifies why an admission request was denied.
type Reason string

const (
	ReasonModeForbids Reason = "mode_forbids_delegation"
	ReasonFrozen      Reason = "guard_frozen"
	ReasonDepth       Reason = "max_depth_reached"
	ReasonCapacity    Reason = "at_capacity"
	ReasonBudget      Reason = "session_budget_exhausted"
	ReasonCancelled   Reason = "wait_cancelled"
	ReasonRunaway     Reason = "runaway_detected"
)

// Decision is the value returned for every admission request.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  Reason `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// AuditEntry records one blocked request or protective transition.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Reason Reason    `json:"reason"`
	Detail string    `json:"detail"`
}

// Stats is a point-in-time snapshot of guard counters.
type Stats struct {
	Mode           Mode         `json:"mode"`
	TotalSpawned   int          `json:"total_spawned"`
	Active         int          `json:"active"`
	MaxDepthSeen   int          `json:"max_depth_seen"`
	Blocked        int          `json:"blocked"`
	RunawaySignals int          `json:"runaway_signals"`
	Frozen         bool         `json:"frozen"`
	Waiting        int          `json:"waiting"`
	Audit          []AuditEntry `json:"audit,omitempty"`
}

// waiter is one caller parked in WaitForSlot.
type waiter struct {
	depth int
	ch    chan Decision
}

// Guard tracks delegation counters for one orchestration session.
type Guard struct {
	mu             sync.Mutex
	policy         Policy
	detector       *detector
	totalSpawned   int
	active         int
	maxDepthSeen   int
	blocked        int
	runawaySignals int
	frozen         bool
	audit          []AuditEntry
	waiters        []*waiter // FIFO
	now            func() time.Time
}

// New creates a Guard for one session with the given policy.
func New(policy Policy) *Guard {
	if policy.MaxParallel < 1 {
		policy.MaxParallel = 1
	}
	if policy.RunawayThreshold < 1 {
		policy.RunawayThreshold = 1
	}
	if policy.MaxDepth < 1 {
		policy.MaxDepth = 1
	}
	return &Guard{
		policy:   policy,
		detector: newDetector(policy.RunawayPhrases),
		now:      time.Now,
	}
}

// Policy returns the immutable session policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Request attempts immediate admission for a delegation at the given depth.
// It never blocks. On success the active and total counters are incremented
// and the caller must pair the grant with a Release.
func (g *Guard) Request(depth int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestLocked(depth)
}

// requestLocked must be called with g.mu held.
func (g *Guard) requestLocked(depth int) Decision {
	if d, ok := g.checkLocked(depth); !ok {
		g.blocked++
		g.audit = append(g.audit, AuditEntry{At: g.now(), Reason: d.Reason, Detail: d.Detail})
		return d
	}
	g.active++
	g.totalSpawned++
	if depth > g.maxDepthSeen {
		g.maxDepthSeen = depth
	}
	return Decision{Granted: true}
}

// checkLocked evaluates admission without mutating counters.
// Must be called with g.mu held.
func (g *Guard) checkLocked(depth int) (Decision, bool) {
	switch {
	// Frozen wins over everything else: after a runaway freeze the denial
	// must name the freeze, not the mode that allowed it to happen.
	case g.frozen:
		return Decision{Reason: ReasonFrozen,
			Detail: "guard is frozen; manual reset required"}, false
	case g.policy.Mode == ModeNone:
		return Decision{Reason: ReasonModeForbids,
			Detail: "session policy forbids delegation"}, false
	case depth >= g.maxDepthAllowed():
		return Decision{Reason: ReasonDepth,
			Detail: fmt.Sprintf("depth %d reaches limit %d", depth, g.maxDepthAllowed())}, false
	case g.totalSpawned >= g.policy.RunawayThreshold*g.policy.MaxParallel:
		// Last-resort circuit breaker; the per-request caps are the
		// primary control.
		return Decision{Reason: ReasonBudget,
			Detail: fmt.Sprintf("session spawned %d of %d allowed",
				g.totalSpawned, g.policy.RunawayThreshold*g.policy.MaxParallel)}, false
	case g.active >= g.policy.MaxParallel:
		return Decision{Reason: ReasonCapacity,
			Detail: fmt.Sprintf("%d of %d slots in use", g.active, g.policy.MaxParallel)}, false
	}
	return Decision{Granted: true}, true
}

func (g *Guard) maxDepthAllowed() int {
	if g.policy.Mode == ModeSingle {
		return 1
	}
	return g.policy.MaxDepth
}

// Release returns a previously granted slot. If callers are parked in
// WaitForSlot, the oldest one is woken with a fresh admission decision.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
	g.wakeOneLocked()
}

// wakeOneLocked pops the head waiter and delivers its admission decision.
// Must be called with g.mu held.
func (g *Guard) wakeOneLocked() {
	if len(g.waiters) == 0 {
		return
	}
	w := g.waiters[0]
	g.waiters = g.waiters[1:]
	w.ch <- g.requestLocked(w.depth)
}

// WaitForSlot attempts admission and, when denied purely due to capacity,
// parks the caller in a FIFO queue until a slot frees up or ctx is done.
// Cancellation removes the caller from the queue and returns a denied
// decision; any grant that raced the cancellation is released.
func (g *Guard) WaitForSlot(ctx context.Context, depth int) Decision {
	g.mu.Lock()
	d := g.requestLocked(depth)
	if d.Granted || d.Reason != ReasonCapacity {
		g.mu.Unlock()
		return d
	}

	w := &waiter{depth: depth, ch: make(chan Decision, 1)}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case d := <-w.ch:
		return d
	case <-ctx.Done():
		g.mu.Lock()
		for i, q := range g.waiters {
			if q == w {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
		// A wake may have raced the cancellation; give back the slot.
		select {
		case d := <-w.ch:
			if d.Granted {
				g.Release()
			}
		default:
		}
		return Decision{Reason: ReasonCancelled, Detail: ctx.Err().Error()}
	}
}

// Freeze sets the terminal frozen flag and rejects every queued waiter.
// There is no automatic unfreeze: resuming a runaway process could repeat
// the failure, so only Reset clears the flag.
func (g *Guard) Freeze(detail string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.freezeLocked(detail)
}

// freezeLocked must be called with g.mu held.
func (g *Guard) freezeLocked(detail string) {
	if g.frozen {
		return
	}
	g.frozen = true
	g.audit = append(g.audit, AuditEntry{At: g.now(), Reason: ReasonFrozen, Detail: detail})
	denial := Decision{Reason: ReasonFrozen, Detail: detail}
	for _, w := range g.waiters {
		g.blocked++
		w.ch <- denial
	}
	g.waiters = nil
}

// IsFrozen reports whether the guard has been frozen.
func (g *Guard) IsFrozen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozen
}

// Reset clears all session counters, the audit log, and the frozen flag.
// This is the only path out of the frozen state.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	denial := Decision{Reason: ReasonCancelled, Detail: "guard reset"}
	for _, w := range g.waiters {
		w.ch <- denial
	}
	g.waiters = nil
	g.totalSpawned = 0
	g.active = 0
	g.maxDepthSeen = 0
	g.blocked = 0
	g.runawaySignals = 0
	g.frozen = false
	g.audit = nil
}

// Snapshot returns a copy of the guard's counters and audit log.
func (g *Guard) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	audit := make([]AuditEntry, len(g.audit))
	copy(audit, g.audit)
	return Stats{
		Mode:           g.policy.Mode,
		TotalSpawned:   g.totalSpawned,
		Active:         g.active,
		MaxDepthSeen:   g.maxDepthSeen,
		Blocked:        g.blocked,
		RunawaySignals: g.runawaySignals,
		Frozen:         g.frozen,
		Waiting:        len(g.waiters),
		Audit:          audit,
	}
}
