// Package middleware wraps the operator API's handlers with access logging
// in W3C Extended Log Format, Prometheus request metrics (job IDs collapsed
// to keep label cardinality bounded), and gzip response compression.
// Health-check noise can be suppressed from the access log independently of
// the metrics.
package middleware
