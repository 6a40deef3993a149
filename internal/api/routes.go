package api

import (
	"net/http"
)

// RegisterRoutes registers every operator API route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Tasks
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTaskResult)))
	mux.Handle("POST /api/v1/tasks/{id}/revoke", chain(http.HandlerFunc(h.RevokeTask)))
	mux.Handle("GET /api/v1/tasks/{id}/revocation", chain(http.HandlerFunc(h.GetRevocationStatus)))
	mux.Handle("GET /api/v1/tasks/{id}/history", chain(http.HandlerFunc(h.GetTaskHistory)))

	// Sagas
	mux.Handle("GET /api/v1/sagas/{id}", chain(http.HandlerFunc(h.GetSaga)))
	mux.Handle("POST /api/v1/sagas/{id}/retry", chain(http.HandlerFunc(h.RetrySaga)))
	mux.Handle("POST /api/v1/sagas/{id}/cancel", chain(http.HandlerFunc(h.CancelSaga)))

	// Queue/partition/kill-switch status
	mux.Handle("GET /api/v1/queue/partitions/{key}", chain(http.HandlerFunc(h.GetPartitionStatus)))
	mux.Handle("GET /api/v1/queue/kill-switch", chain(http.HandlerFunc(h.GetKillSwitchStatus)))
	mux.Handle("POST /api/v1/queue/kill-switch/reset", chain(http.HandlerFunc(h.ResetKillSwitch)))

	// Dead letters
	mux.Handle("GET /api/v1/deadletters", chain(http.HandlerFunc(h.ListDeadLetters)))
	mux.Handle("POST /api/v1/deadletters/cleanup", chain(http.HandlerFunc(h.CleanupDeadLetters)))
}
