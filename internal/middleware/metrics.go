package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"imageviewer-pipeline/internal/metrics"
)

// MetricsConfig controls which requests the metrics middleware observes.
type MetricsConfig struct {
	SkipPaths []string
}

// DefaultMetricsConfig excludes probe and scrape endpoints so the scraper
// does not inflate its own request counters.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths: []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"},
	}
}

// Metrics returns middleware recording request count, duration and the
// in-flight gauge for every observed request.
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if matchesPrefix(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := normalizePath(r.URL.Path)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func matchesPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// normalizePath collapses per-job paths so job IDs do not explode the
// metric label cardinality.
//
//	/api/jobs/4f1a...        -> /api/jobs/{id}
//	/api/jobs/4f1a.../cancel -> /api/jobs/{id}/cancel
func normalizePath(path string) string {
	const prefix = "/api/jobs/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}

	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return path
	}

	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		if rest[idx+1:] == "cancel" {
			return prefix + "{id}/cancel"
		}
		return prefix + "{id}"
	}
	return prefix + "{id}"
}
