package api

import (
	"encoding/json"
	"net/http"

	"github.com/dotcelery/dotcelery/internal/revocation"
)

// GetTaskResult returns the stored result for a task id.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		Unavailable(w, "result backend not configured")
		return
	}

	id := r.PathValue("id")
	result, err := h.results.Get(r.Context(), id)
	if HandleLookupError(w, h.logger, err, "task result not found") {
		return
	}

	Success(w, (*TaskResultResponse)(result))
}

// RevokeTask marks a task as revoked, optionally signaling a handler
// already running.
// POST /api/v1/tasks/{id}/revoke
func (h *Handler) RevokeTask(w http.ResponseWriter, r *http.Request) {
	if h.revocations == nil {
		Unavailable(w, "revocation store not configured")
		return
	}

	id := r.PathValue("id")

	var req RevokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	opts := revocation.Options{Terminate: req.Terminate, Signal: req.Signal, Expiry: req.Expiry}
	if err := h.revocations.Revoke(r.Context(), id, opts); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Accepted(w, map[string]string{"task_id": id, "status": "revoked"})
}

// GetTaskHistory returns every recorded attempt for a task id,
// oldest-first.
// GET /api/v1/tasks/{id}/history
func (h *Handler) GetTaskHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Unavailable(w, "history store not configured")
		return
	}

	id := r.PathValue("id")
	records, err := h.history.ListByTaskID(r.Context(), id)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	List(w, records, len(records))
}

// GetRevocationStatus reports whether a task has been revoked.
// GET /api/v1/tasks/{id}/revocation
func (h *Handler) GetRevocationStatus(w http.ResponseWriter, r *http.Request) {
	if h.revocations == nil {
		Unavailable(w, "revocation store not configured")
		return
	}

	id := r.PathValue("id")
	revoked, err := h.revocations.IsRevoked(r.Context(), id)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, map[string]bool{"revoked": revoked})
}
