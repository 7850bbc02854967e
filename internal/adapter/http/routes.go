package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Plans
		r.Get("/plans", h.ListPlans)
		r.Post("/plans", h.CreatePlan)
		r.Post("/plans/diagnose", h.DiagnosePlan)
		r.Get("/plans/{id}", h.GetPlan)
		r.Post("/plans/{id}/start", h.StartPlan)
		r.Get("/plans/{id}/waves", h.PlanWaves)
		r.Post("/plans/{id}/corrections", h.RequestCorrection)

		// Session guard
		r.Get("/guard", h.GuardStatus)
		r.Post("/guard/reset", h.ResetGuard)

		// Work streams
		r.Get("/streams", h.ListStreams)
		r.Post("/streams", h.CreateStream)
		r.Get("/streams/waves", h.StreamWaves)
		r.Get("/streams/{id}", h.GetStream)
		r.Post("/streams/{id}/start", h.StartStream)
		r.Post("/streams/{id}/pause", h.PauseStream)
		r.Post("/streams/{id}/complete", h.CompleteStream)
		r.Delete("/streams/{id}", h.CleanupStream)
	})
}
