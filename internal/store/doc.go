// Package store provides all MongoDB access for the pipeline.
//
// The store's contract is that every mutation is one conditional update:
// a filter that encodes the operation's precondition plus an update document
// that applies the whole effect. Nothing reads a document, modifies it in
// Go, and writes it back, so concurrent workers can never interleave into a
// lost update.
//
// The idempotency pattern appears throughout: updates that must apply at
// most once (recording an image outcome, appending a derivative, reserving
// folder capacity) carry a guard in their filter and report a no-match as
// ErrDuplicate or ErrConflict. Callers distinguish "already done" from
// "rejected" from "missing" with errors.Is.
//
// Documents live in these collections:
//
//	collections                  ingest units with embedded image/derivative arrays
//	file_processing_job_states   durable per-job progress and outcome sets
//	cache_folders                bounded artifact folders with capacity accounting
//	libraries                    collection groupings with aggregate statistics
//	system_settings              dot-notation key/value configuration
//	background_jobs              operator-visible per-stage progress
//	scheduled_jobs               recurring operation definitions
//	scheduled_job_runs           execution records for scheduled operations
//
// Statistics reads (GetCacheStatistics, GetSystemStatistics) aggregate
// server-side rather than pulling documents into Go.
package store
