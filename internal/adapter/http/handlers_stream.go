package http

import (
	"net/http"

	"github.com/leventea/orchid/internal/domain/stream"
)

// --- Work-stream endpoints ---

type createStreamRequest struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// CreateStream handles POST /api/v1/streams
func (h *Handlers) CreateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createStreamRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	ws, err := h.Streams.Create(r.Context(), req.Name, req.DependsOn)
	if err != nil {
		writeDomainError(w, err, "stream dependency not found")
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

// ListStreams handles GET /api/v1/streams
func (h *Handlers) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.Streams.List(r.Context())
	if streams == nil {
		streams = []stream.WorkStream{}
	}
	writeJSON(w, http.StatusOK, streams)
}

// GetStream handles GET /api/v1/streams/{id}
func (h *Handlers) GetStream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Streams.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// StartStream handles POST /api/v1/streams/{id}/start
func (h *Handlers) StartStream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Streams.Start(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// PauseStream handles POST /api/v1/streams/{id}/pause
func (h *Handlers) PauseStream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Streams.Pause(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// CompleteStream handles POST /api/v1/streams/{id}/complete. A merge
// conflict leaves the stream failed with its worktree intact; the response
// carries the failed stream alongside a 409.
func (h *Handlers) CompleteStream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Streams.Complete(r.Context(), urlParam(r, "id"))
	if err != nil {
		if ws != nil && ws.Status == stream.StatusFailed {
			writeJSON(w, http.StatusConflict, ws)
			return
		}
		writeDomainError(w, err, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// CleanupStream handles DELETE /api/v1/streams/{id}
func (h *Handlers) CleanupStream(w http.ResponseWriter, r *http.Request) {
	if err := h.Streams.Cleanup(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

// StreamWaves handles GET /api/v1/streams/waves
func (h *Handlers) StreamWaves(w http.ResponseWriter, r *http.Request) {
	waves, err := h.Streams.Waves(r.Context())
	if err != nil {
		writeDomainError(w, err, "stream graph invalid")
		return
	}
	writeJSON(w, http.StatusOK, waves)
}
