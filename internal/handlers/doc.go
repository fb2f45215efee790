// Package handlers implements the operator HTTP API for the pipeline
// daemon: health, liveness and readiness probes, job listing and
// cancellation, queue depth inspection, system and cache statistics, and
// version information. All responses are JSON.
package handlers
