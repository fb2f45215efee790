package handlers

import (
	"net/http"

	"imageviewer-pipeline/internal/startup"
)

// GetVersion returns the daemon's version, commit, and build date.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	// Deploys swap the binary under the same URL; never cache this.
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, startup.GetBuildInfo())
}
