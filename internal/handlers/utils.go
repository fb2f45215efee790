package handlers

import (
	"encoding/json"
	"net/http"

	"imageviewer-pipeline/internal/logging"
)

// writeJSON sends v as JSON with the given status. Encoding failures are
// only logged: the status line is already on the wire by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeError sends the error envelope every endpoint uses for failures.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStatus sends the one-word envelope used by probes and actions.
func writeStatus(w http.ResponseWriter, status int, state string) {
	writeJSON(w, status, map[string]string{"status": state})
}
