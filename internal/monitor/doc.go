// Package monitor owns job completion and job health.
//
// Workers advance per-image counters but never flip a job to Completed; the
// monitor's periodic sweep applies that transition once a job's accounting
// covers its total, using a conditional update so exactly one sweeper
// observes it. The sweep also stamps background-job stages, maintains the
// job gauges, flags stalled jobs, and a slower pass purges finished job
// states past their retention window.
//
// GetJobStatus assembles the operator-facing snapshot of one job: progress,
// timing with an ETA, a throughput rate over a sliding window, and a health
// verdict (Healthy, Degraded, Stalled) with human-readable issues.
package monitor
