package handlers

import (
	"net/http"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/store"
)

// StatisticsResponse is the system-wide aggregate view.
type StatisticsResponse struct {
	System *store.SystemStatistics `json:"system"`
	Cache  *store.CacheStatistics  `json:"cache"`
	Queues map[string]int64        `json:"queues,omitempty"`
}

// GetStatistics returns the aggregate collection, cache-folder, and queue
// numbers. Queue depths are best-effort; a broker outage leaves them out
// rather than failing the whole response.
func (h *Handlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	system, err := h.store.GetSystemStatistics(r.Context())
	if err != nil {
		logging.Error("GetStatistics: system aggregate: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to aggregate statistics")
		return
	}

	cache, err := h.store.GetCacheStatistics(r.Context())
	if err != nil {
		logging.Error("GetStatistics: cache aggregate: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to aggregate statistics")
		return
	}

	response := StatisticsResponse{System: system, Cache: cache}
	if h.queues.IsConnected() {
		if depths, derr := h.queues.QueueDepths(); derr == nil {
			response.Queues = depths
		} else {
			logging.Warn("GetStatistics: queue depths: %v", derr)
		}
	}

	writeJSON(w, http.StatusOK, response)
}
