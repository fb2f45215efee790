package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus scrape endpoint. A package function
// rather than a method: main mounts it on the dedicated metrics listener,
// which comes up before the API handlers exist.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
