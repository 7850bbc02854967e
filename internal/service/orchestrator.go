package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leventea/orchid/internal/config"
	"github.com/leventea/orchid/internal/domain"
	"github.com/leventea/orchid/internal/domain/correction"
	"github.com/leventea/orchid/internal/domain/guard"
	"github.com/leventea/orchid/internal/domain/plan"
	"github.com/leventea/orchid/internal/port/cache"
	"github.com/leventea/orchid/internal/port/dispatch"
	"github.com/leventea/orchid/internal/storage"
)

const (
	plansDir  = "plans"
	eventsLog = "events.log"
)

// waveCacheTTL bounds how long a computed wave snapshot may be reused.
// Snapshots are keyed by plan version, so staleness only costs memory.
const waveCacheTTL = 10 * time.Minute

// Metrics is the subset of telemetry the orchestrator reports.
// A nil Metrics disables reporting.
type Metrics interface {
	TaskDispatched(ctx context.Context)
	TaskCompleted(ctx context.Context, failed bool)
	DelegationDecided(ctx context.Context, granted bool)
	CorrectionDecided(ctx context.Context, accepted bool)
	GuardFrozen(ctx context.Context)
	WavesComputed(ctx context.Context)
}

// OrchestratorService drives execution plans: it computes wave schedules,
// dispatches ready tasks through the executor port under the delegation
// guard, and routes correction signals from worker output back into the
// plan. All plan state mutations happen here and are persisted immediately.
type OrchestratorService struct {
	store         *storage.SafeStore
	dispatcher    dispatch.Dispatcher
	guard         *guard.Guard
	corrections   *correction.Manager
	cache         cache.Cache
	metrics       Metrics
	correctionCfg config.Correction
	maxParallel   int

	mu    sync.Mutex // serializes plan advancement
	plans map[string]*plan.Plan
	// inflight maps planID/taskID to the assignment ID of the attempt the
	// task is currently running; only that assignment's result applies.
	inflight map[string]string
	// outstanding maps every dispatched-but-unreported assignment ID to its
	// task key. Each entry holds exactly one guard slot, released when the
	// result arrives whether or not the attempt was superseded meanwhile.
	outstanding map[string]string

	onPlanComplete []func(ctx context.Context, planID string, status plan.Status)
}

// NewOrchestratorService creates an OrchestratorService with all dependencies.
// cache and metrics may be nil.
func NewOrchestratorService(
	store *storage.SafeStore,
	dispatcher dispatch.Dispatcher,
	g *guard.Guard,
	corrections *correction.Manager,
	c cache.Cache,
	metrics Metrics,
	cfg config.Orchestrator,
	correctionCfg config.Correction,
) *OrchestratorService {
	maxParallel := cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &OrchestratorService{
		store:         store,
		dispatcher:    dispatcher,
		guard:         g,
		corrections:   corrections,
		cache:         c,
		metrics:       metrics,
		correctionCfg: correctionCfg,
		maxParallel:   maxParallel,
		plans:         make(map[string]*plan.Plan),
		inflight:      make(map[string]string),
		outstanding:   make(map[string]string),
	}
}

// AddOnPlanComplete appends a callback invoked when a plan completes or fails.
func (s *OrchestratorService) AddOnPlanComplete(fn func(ctx context.Context, planID string, status plan.Status)) {
	s.onPlanComplete = append(s.onPlanComplete, fn)
}

// Load reads persisted plans back from storage and sweeps temp files left
// by interrupted writes. Called once at startup.
func (s *OrchestratorService) Load(ctx context.Context) error {
	s.store.CleanupTemp(plansDir)

	names, err := s.store.List(plansDir)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		var p plan.Plan
		ok, err := s.store.ReadJSON(plansDir+"/"+name, &p)
		if err != nil {
			slog.Warn("skipping unreadable plan file", "file", name, "error", err)
			continue
		}
		if ok && p.ID != "" {
			s.plans[p.ID] = &p
		}
	}
	slog.Info("plans loaded", "count", len(s.plans))
	_ = ctx
	return nil
}

// CreatePlan validates and persists a new execution plan.
func (s *OrchestratorService) CreatePlan(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if p.Strategy == "" {
		p.Strategy = plan.StrategyParallel
	}
	if err := plan.Validate(p); err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.Status = plan.StatusPending
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	for i := range p.Tasks {
		p.Tasks[i].Status = plan.TaskStatusPending
		if p.Tasks[i].Tier == "" {
			p.Tasks[i].Tier = plan.TierModerate
		}
		p.Tasks[i].CreatedAt = now
		p.Tasks[i].UpdatedAt = now
	}

	s.mu.Lock()
	s.plans[p.ID] = p
	err := s.persistLocked(p)
	snapshot := p.Clone()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.appendEvent(p.ID, "plan_created")
	slog.Info("plan created", "plan_id", p.ID, "strategy", p.Strategy, "tasks", len(p.Tasks))
	_ = ctx
	return snapshot, nil
}

// StartPlan transitions the plan to running and dispatches the first wave.
func (s *OrchestratorService) StartPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.planLocked(planID)
	if err != nil {
		return nil, err
	}
	if p.Status != plan.StatusPending {
		return nil, fmt.Errorf("plan %s is %s, expected pending", planID, p.Status)
	}

	// Structural problems surface here, before any task is dispatched.
	if _, err := s.wavesLocked(ctx, p); err != nil {
		return nil, err
	}

	p.Status = plan.StatusRunning
	p.UpdatedAt = time.Now()
	if err := s.persistLocked(p); err != nil {
		return nil, err
	}

	s.appendEvent(p.ID, "plan_started")
	slog.Info("plan started", "plan_id", p.ID, "strategy", p.Strategy)

	if err := s.advanceLocked(ctx, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// GetPlan returns a copy of the plan with the given ID. Callers read the
// copy outside the lock while execution keeps mutating the original.
func (s *OrchestratorService) GetPlan(_ context.Context, planID string) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.planLocked(planID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// ListPlans returns copies of all known plans.
func (s *OrchestratorService) ListPlans(_ context.Context) []*plan.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	return out
}

// Waves returns the wave schedule for a plan, cached per plan version.
// The schedule is recomputed from scratch whenever the plan mutates; it is
// never incrementally patched.
func (s *OrchestratorService) Waves(ctx context.Context, planID string) ([]plan.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.planLocked(planID)
	if err != nil {
		return nil, err
	}
	return s.wavesLocked(ctx, p)
}

func (s *OrchestratorService) wavesLocked(ctx context.Context, p *plan.Plan) ([]plan.Wave, error) {
	key := fmt.Sprintf("waves:%s:%d", p.ID, p.Version)
	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, key); ok {
			var waves []plan.Wave
			if err := json.Unmarshal(data, &waves); err == nil {
				return waves, nil
			}
		}
	}

	waves, err := plan.ComputeWaves(p)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.WavesComputed(ctx)
	}
	if s.cache != nil {
		if data, err := json.Marshal(waves); err == nil {
			_ = s.cache.Set(ctx, key, data, waveCacheTTL)
		}
	}
	return waves, nil
}

// advanceLocked dispatches every ready task the strategy, the per-plan cap,
// and the delegation guard allow. Must be called with s.mu held.
func (s *OrchestratorService) advanceLocked(ctx context.Context, p *plan.Plan) error {
	waves, err := s.wavesLocked(ctx, p)
	if err != nil {
		return err
	}
	waveOf := make(map[string]int, len(p.Tasks))
	for _, w := range waves {
		for _, id := range w.TaskIDs {
			waveOf[id] = w.Index
		}
	}

	for _, id := range p.ReadyTasks() {
		if p.Strategy == plan.StrategySerial && p.RunningCount() > 0 {
			break
		}
		if p.RunningCount() >= s.maxParallel {
			break
		}

		decision := s.guard.Request(0)
		if s.metrics != nil {
			s.metrics.DelegationDecided(ctx, decision.Granted)
		}
		if !decision.Granted {
			// Capacity frees up via Release; anything else needs outside
			// intervention, so stop dispatching either way.
			slog.Warn("dispatch blocked by guard",
				"plan_id", p.ID, "task_id", id,
				"reason", decision.Reason, "detail", decision.Detail)
			s.appendEvent(p.ID, "dispatch_blocked:"+string(decision.Reason))
			break
		}

		t := p.Task(id)
		t.Status = plan.TaskStatusRunning
		t.Attempts++
		t.UpdatedAt = time.Now()
		p.Version++

		a := dispatch.Assignment{
			ID:      uuid.NewString(),
			PlanID:  p.ID,
			TaskID:  t.ID,
			Title:   t.Title,
			Tier:    t.Tier,
			Wave:    waveOf[t.ID],
			Attempt: t.Attempts,
			Context: correction.BuildContext(
				s.corrections.HistoryFor(t.ID), s.correctionCfg.MaxPerTask),
		}
		if err := s.dispatcher.Dispatch(ctx, a); err != nil {
			t.Status = plan.TaskStatusPending
			t.Attempts--
			p.Version++
			s.guard.Release()
			return fmt.Errorf("dispatch task %s: %w", t.ID, err)
		}
		key := taskKey(p.ID, t.ID)
		s.inflight[key] = a.ID
		s.outstanding[a.ID] = key
		if s.metrics != nil {
			s.metrics.TaskDispatched(ctx)
		}
		slog.Info("task dispatched",
			"plan_id", p.ID, "task_id", t.ID,
			"wave", waveOf[t.ID], "tier", t.Tier, "attempt", t.Attempts)
	}

	return s.persistLocked(p)
}

// HandleResult consumes one worker completion report: it releases the
// guard slot held by the reported assignment, scans the output for
// correction signals and runaway delegation attempts, records the task
// outcome, and advances the plan.
func (s *OrchestratorService) HandleResult(ctx context.Context, res dispatch.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.planLocked(res.PlanID)
	if err != nil {
		return err
	}
	t := p.Task(res.TaskID)
	if t == nil {
		return fmt.Errorf("task %s not found in plan %s", res.TaskID, res.PlanID)
	}

	// Every dispatched assignment holds one guard slot until its result
	// arrives. Release it even when the attempt was superseded, or the
	// slot leaks and dispatch wedges at capacity.
	if _, dispatched := s.outstanding[res.AssignmentID]; dispatched {
		delete(s.outstanding, res.AssignmentID)
		s.guard.Release()
	}

	key := taskKey(p.ID, t.ID)
	if t.Status != plan.TaskStatusRunning || s.inflight[key] != res.AssignmentID {
		// The task was invalidated (and possibly re-dispatched) while this
		// worker ran; its result no longer applies.
		slog.Warn("dropping stale result",
			"plan_id", p.ID, "task_id", t.ID, "assignment_id", res.AssignmentID,
			"attempt", res.Attempt, "status", t.Status)
		if p.Status == plan.StatusRunning {
			// The freed slot may admit a ready task.
			return s.advanceLocked(ctx, p)
		}
		return nil
	}
	delete(s.inflight, key)

	now := time.Now()
	t.WorkerID = res.WorkerID
	t.Result = res.Output
	t.UpdatedAt = now
	if res.Error != "" {
		t.Status = plan.TaskStatusFailed
	} else {
		t.Status = plan.TaskStatusCompleted
	}
	p.Version++
	if s.metrics != nil {
		s.metrics.TaskCompleted(ctx, res.Error != "")
	}

	wasFrozen := s.guard.IsFrozen()
	if s.guard.CheckForRunaway(res.Output) {
		s.appendEvent(p.ID, "runaway_signal:"+res.TaskID)
	}
	if !wasFrozen && s.guard.IsFrozen() {
		s.appendEvent(p.ID, "guard_frozen")
		if s.metrics != nil {
			s.metrics.GuardFrozen(ctx)
		}
	}

	// Reviewer-style output may carry correction signals for upstream tasks.
	for _, req := range correction.ExtractSignals(res.TaskID, res.Output) {
		outcome := s.corrections.Apply(req, p)
		if s.metrics != nil {
			s.metrics.CorrectionDecided(ctx, outcome.Accepted)
		}
		if !outcome.Accepted {
			slog.Warn("correction rejected",
				"plan_id", p.ID, "target", req.TargetID, "reason", outcome.Reason)
			s.appendEvent(p.ID, "correction_rejected:"+req.TargetID)
			continue
		}
		s.appendEvent(p.ID, "correction_applied:"+req.TargetID)
	}

	if p.AllTerminal() {
		return s.finishLocked(ctx, p)
	}
	return s.advanceLocked(ctx, p)
}

// RequestCorrection applies an external correction request against a plan.
// Budget exhaustion is reported in the outcome, never as an error.
func (s *OrchestratorService) RequestCorrection(ctx context.Context, planID string, req correction.Request) (correction.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.planLocked(planID)
	if err != nil {
		return correction.Outcome{}, err
	}

	outcome := s.corrections.Apply(req, p)
	if s.metrics != nil {
		s.metrics.CorrectionDecided(ctx, outcome.Accepted)
	}
	if !outcome.Accepted {
		s.appendEvent(p.ID, "correction_rejected:"+req.TargetID)
		return outcome, nil
	}
	s.appendEvent(p.ID, "correction_applied:"+req.TargetID)

	// The invalidated set reverted to pending; a running plan re-queues it.
	if p.Status == plan.StatusRunning {
		if err := s.advanceLocked(ctx, p); err != nil {
			return outcome, err
		}
		return outcome, nil
	}
	return outcome, s.persistLocked(p)
}

// GuardSnapshot exposes the session guard's counters.
func (s *OrchestratorService) GuardSnapshot() guard.Stats {
	return s.guard.Snapshot()
}

// ResetGuard performs the explicit manual session reset, the only path out
// of a frozen guard.
func (s *OrchestratorService) ResetGuard() {
	s.guard.Reset()
	s.corrections.Reset()
	slog.Info("session guard and correction budgets reset")
}

// finishLocked closes out a fully terminal plan. Must be called with s.mu held.
func (s *OrchestratorService) finishLocked(ctx context.Context, p *plan.Plan) error {
	if p.AnyFailed() {
		p.Status = plan.StatusFailed
	} else {
		p.Status = plan.StatusCompleted
	}
	p.UpdatedAt = time.Now()
	p.Version++
	if err := s.persistLocked(p); err != nil {
		return err
	}

	s.appendEvent(p.ID, "plan_"+string(p.Status))
	slog.Info("plan finished", "plan_id", p.ID, "status", p.Status)
	for _, fn := range s.onPlanComplete {
		fn(ctx, p.ID, p.Status)
	}
	return nil
}

func taskKey(planID, taskID string) string {
	return planID + "/" + taskID
}

func (s *OrchestratorService) planLocked(planID string) (*plan.Plan, error) {
	p, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, domain.ErrNotFound)
	}
	return p, nil
}

func (s *OrchestratorService) persistLocked(p *plan.Plan) error {
	return s.store.WriteJSON(plansDir+"/"+p.ID+".json", p)
}

// appendEvent records an orchestration event in the append-only ledger.
// Best-effort: the ledger is an audit aid, not the source of truth.
func (s *OrchestratorService) appendEvent(planID, event string) {
	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), planID, event)
	if err := s.store.Append(eventsLog, line); err != nil {
		slog.Warn("event append failed", "plan_id", planID, "event", event, "error", err)
	}
}
