package api

import (
	"net/http"
	"strconv"
	"time"
)

// GetPartitionStatus reports whether a partition key is currently locked
// and, if so, its holder.
// GET /api/v1/queue/partitions/{key}
func (h *Handler) GetPartitionStatus(w http.ResponseWriter, r *http.Request) {
	if h.partitions == nil {
		Unavailable(w, "partition lock not configured")
		return
	}

	key := r.PathValue("key")
	locked, err := h.partitions.IsLocked(r.Context(), key)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	resp := PartitionStatusResponse{Key: key, Locked: locked}
	if locked {
		holder, err := h.partitions.GetHolder(r.Context(), key)
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		resp.Holder = holder
	}

	Success(w, resp)
}

// GetKillSwitchStatus reports whether the worker's kill switch is tripped.
// GET /api/v1/queue/kill-switch
func (h *Handler) GetKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	if h.killSwitch == nil {
		Unavailable(w, "kill switch not configured")
		return
	}
	Success(w, KillSwitchStatusResponse{State: h.killSwitch.State().String()})
}

// ResetKillSwitch forces the kill switch back to Active, bypassing its
// restart timeout.
// POST /api/v1/queue/kill-switch/reset
func (h *Handler) ResetKillSwitch(w http.ResponseWriter, r *http.Request) {
	if h.killSwitch == nil {
		Unavailable(w, "kill switch not configured")
		return
	}
	h.killSwitch.Reset()
	Success(w, KillSwitchStatusResponse{State: h.killSwitch.State().String()})
}

// ListDeadLetters returns dead-lettered entries newest-first.
// GET /api/v1/deadletters?limit=&offset=
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		Unavailable(w, "dead-letter store not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.deadLetters.List(r.Context(), limit, offset)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	List(w, entries, len(entries))
}

// CleanupDeadLetters removes dead-letter entries older than 168 hours, or
// older than a positive ?olderThanHours= when one is given.
// POST /api/v1/deadletters/cleanup
func (h *Handler) CleanupDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		Unavailable(w, "dead-letter store not configured")
		return
	}

	hours := 168
	if v := r.URL.Query().Get("olderThanHours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	removed, err := h.deadLetters.Cleanup(r.Context(), cutoff)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, map[string]int{"removed": removed})
}
