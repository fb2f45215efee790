package handlers

import (
	"net/http"

	"imageviewer-pipeline/internal/logging"
)

// QueueResponse reports the depth of every pipeline queue.
type QueueResponse struct {
	Queues map[string]int64 `json:"queues"`
	Total  int64            `json:"total"`
}

// GetQueues returns the number of messages waiting in each pipeline queue.
func (h *Handlers) GetQueues(w http.ResponseWriter, _ *http.Request) {
	if !h.queues.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "Broker unavailable")
		return
	}

	depths, err := h.queues.QueueDepths()
	if err != nil {
		logging.Error("GetQueues: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Failed to inspect queues")
		return
	}

	response := QueueResponse{Queues: depths}
	for _, depth := range depths {
		response.Total += depth
	}

	writeJSON(w, http.StatusOK, response)
}
