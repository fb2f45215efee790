// Package resume recovers work lost to a crash. At startup it walks every
// incomplete job state and re-enqueues only the messages whose images have no
// recorded outcome, so recovery costs O(remaining work) rather than a full
// reprocess. Generation workers deduplicate on the job's outcome sets, which
// makes the re-enqueue safe even when the broker still holds the originals.
//
// Each pass writes a record to the scheduled-run history, the same ledger
// pipectl enqueues land in, so operators can see when recovery ran and how
// many messages it put back.
package resume
