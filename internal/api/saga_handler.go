package api

import (
	"net/http"
)

// GetSaga returns the current state of a saga.
// GET /api/v1/sagas/{id}
func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	if h.sagas == nil {
		Unavailable(w, "saga orchestrator not configured")
		return
	}

	id := r.PathValue("id")
	s, err := h.sagas.Get(r.Context(), id)
	if HandleLookupError(w, h.logger, err, "saga not found") {
		return
	}

	Success(w, SagaFromDomain(s))
}

// RetrySaga resets a saga's current step and republishes it.
// POST /api/v1/sagas/{id}/retry
func (h *Handler) RetrySaga(w http.ResponseWriter, r *http.Request) {
	if h.sagas == nil {
		Unavailable(w, "saga orchestrator not configured")
		return
	}

	id := r.PathValue("id")
	if err := h.sagas.Retry(r.Context(), id); err != nil {
		if HandleLookupError(w, h.logger, err, "saga not found") {
			return
		}
		InvalidState(w, err.Error())
		return
	}

	s, err := h.sagas.Get(r.Context(), id)
	if HandleLookupError(w, h.logger, err, "saga not found") {
		return
	}
	Success(w, SagaFromDomain(s))
}

// CancelSaga cancels a saga, triggering compensation if any step already
// completed.
// POST /api/v1/sagas/{id}/cancel
func (h *Handler) CancelSaga(w http.ResponseWriter, r *http.Request) {
	if h.sagas == nil {
		Unavailable(w, "saga orchestrator not configured")
		return
	}

	id := r.PathValue("id")
	if err := h.sagas.Cancel(r.Context(), id); err != nil {
		if HandleLookupError(w, h.logger, err, "saga not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	s, err := h.sagas.Get(r.Context(), id)
	if HandleLookupError(w, h.logger, err, "saga not found") {
		return
	}
	Success(w, SagaFromDomain(s))
}
