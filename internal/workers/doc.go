/*
Package workers sizes worker pools from the CPUs actually available to the
process.

# Why not runtime.NumCPU

In a container the cgroup CPU limit is what matters, and runtime.NumCPU()
reports the host's cores regardless of it. Go 1.19+ sets GOMAXPROCS from the
container limit, so GOMAXPROCS(0) is the honest count:

	// Wrong on a 64-core node with a 2-CPU limit: returns 64
	n := runtime.NumCPU()

	// Returns 2
	n := runtime.GOMAXPROCS(0)

Sizing the consumer pool from the host count makes an over-committed pod
thrash: context switching, runtime throttling, goroutine stack pressure.

# Usage

pipectl sizes its statistics-verification fan-out with ForIO, since each
collection is one aggregation round trip to the store:

	g.SetLimit(workers.ForIO(16))

ForIO oversubscribes by 2x because I/O pools spend most of their time
blocked; Count takes an explicit multiplier for anything else. Both cap at
their limit argument; 0 means uncapped.

Queue-consumer counts are not sized here: WORKER_CONCURRENCY (read by the
startup package) sets those directly.

# Override

PIPELINE_WORKERS forces the count regardless of CPU math, still clamped to
the limit. Handy when a node is shared or a deployment needs pinning:

	env:
	- name: PIPELINE_WORKERS
	  value: "4"

# Example

A pod limited to 2 CPUs gets GOMAXPROCS=2, so ForIO(8) returns 4 and
Count(1.0, 8) returns 2.

All functions are safe for concurrent use.
*/
package workers
