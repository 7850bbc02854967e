package http

import (
	"net/http"

	"github.com/leventea/orchid/internal/domain/correction"
	"github.com/leventea/orchid/internal/domain/plan"
	"github.com/leventea/orchid/internal/service"
)

// defaultBodyLimit bounds request bodies when no limit is configured.
const defaultBodyLimit = 1 << 20 // 1 MiB

// Handlers bundles the services the API exposes.
type Handlers struct {
	Orchestrator *service.OrchestratorService
	Streams      *service.StreamService
	BodyLimit    int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

// --- Plan endpoints ---

// CreatePlan handles POST /api/v1/plans
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[plan.Plan](w, r, h.bodyLimit())
	if !ok {
		return
	}
	p, err := h.Orchestrator.CreatePlan(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPlans handles GET /api/v1/plans
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.Orchestrator.ListPlans(r.Context())
	if plans == nil {
		plans = []*plan.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// GetPlan handles GET /api/v1/plans/{id}
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Orchestrator.GetPlan(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// StartPlan handles POST /api/v1/plans/{id}/start
func (h *Handlers) StartPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Orchestrator.StartPlan(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PlanWaves handles GET /api/v1/plans/{id}/waves
func (h *Handlers) PlanWaves(w http.ResponseWriter, r *http.Request) {
	waves, err := h.Orchestrator.Waves(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, waves)
}

// DiagnosePlan handles POST /api/v1/plans/diagnose. It runs the structural
// diagnostics over a plan document without registering it.
func (h *Handlers) DiagnosePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[plan.Plan](w, r, h.bodyLimit())
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, plan.Diagnose(&req))
}

// RequestCorrection handles POST /api/v1/plans/{id}/corrections
func (h *Handlers) RequestCorrection(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[correction.Request](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}
	outcome, err := h.Orchestrator.RequestCorrection(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	// Budget exhaustion is a reasoned outcome, not an HTTP failure.
	writeJSON(w, http.StatusOK, outcome)
}

// --- Guard endpoints ---

// GuardStatus handles GET /api/v1/guard
func (h *Handlers) GuardStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.GuardSnapshot())
}

// ResetGuard handles POST /api/v1/guard/reset, the only way to thaw a
// frozen session.
func (h *Handlers) ResetGuard(w http.ResponseWriter, _ *http.Request) {
	h.Orchestrator.ResetGuard()
	writeJSON(w, http.StatusOK, h.Orchestrator.GuardSnapshot())
}
