// Package pipeline runs the queue consumers that move a collection from
// enumeration to finished derivatives.
//
// # Workers
//
// Five logical workers, one per queue, each running as N parallel consumers:
//
//	collection.creation   expand a parent path into collection candidates
//	collection.scan       enumerate one collection, seed generation jobs
//	image.processing      optional fan-out into thumbnail + cache messages
//	thumbnail.generation  render and persist one thumbnail
//	cache.generation      render and persist one cache derivative
//
// # Dispositions
//
// A handler returns nil to ack, or an error the consumer loop classifies.
// Two sentinels short-circuit the retry machinery: skipped deliveries
// (duplicates, cancelled jobs) and permanent failures already written to the
// job state, both of which are acked because redelivery cannot change the
// outcome. Every other error is transient: the message is republished with a
// bumped retry count until the budget is spent and it dead-letters. A
// handler that overruns its deadline dead-letters immediately.
//
// # Idempotency
//
// Redelivery is normal, not exceptional. Each worker leans on a store-side
// guard rather than remembering what it has seen: image pushes deduplicate
// on relativePath, derivative pushes on their artifact identity, and outcome
// counters refuse an image ID that is already in any outcome set. Scan
// deliveries reuse the envelope ID as the job-state ID so a redelivered scan
// resumes its own record instead of minting a parallel one.
//
// Workers only advance counters; they never mark a job Completed. The monitor
// owns that transition, flipping a job once its accounting covers the recorded
// total, so the answer does not depend on which delivery lands last. The one
// exception is a scan that found nothing: with a zero total there is no
// accounting to observe, and the scan handler completes the job itself.
package pipeline
