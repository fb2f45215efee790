package handlers

import (
	"net/http"
	"runtime"
	"time"

	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Dependency connectivity
	Store  string `json:"store"`
	Broker string `json:"broker"`

	// Job census
	ActiveJobs    int64 `json:"activeJobs"`
	CompletedJobs int64 `json:"completedJobs"`
	FailedJobs    int64 `json:"failedJobs"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck reports whether the daemon can reach its store and broker,
// plus a coarse job census. Returns 503 while either dependency is down so
// orchestrators route around the instance.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	storeUp := h.store.Ping(r.Context()) == nil
	brokerUp := h.queues.IsConnected()

	response := HealthResponse{
		Ready:        storeUp && brokerUp,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Store:        upDown(storeUp),
		Broker:       upDown(brokerUp),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if response.Ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusDegraded
	}

	// Census is informational; a failed count does not flip the verdict.
	if counts, err := h.store.CountJobsByStatus(r.Context()); err == nil {
		response.ActiveJobs = counts[models.JobPending] + counts[models.JobRunning] + counts[models.JobPaused]
		response.CompletedJobs = counts[models.JobCompleted]
		response.FailedJobs = counts[models.JobFailed]
	}

	code := http.StatusOK
	if !response.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	// For HEAD requests, only send headers (no body)
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeStatus(w, http.StatusOK, "alive")
}

// ReadinessCheck returns 200 only when both the store and the broker answer
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.store.Ping(r.Context()) == nil && h.queues.IsConnected() {
		writeStatus(w, http.StatusOK, "ready")
	} else {
		writeStatus(w, http.StatusServiceUnavailable, "not_ready")
	}
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
