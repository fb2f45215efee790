package workers

import (
	"os"
	"runtime"
	"strconv"
)

// I/O-bound stages oversubscribe the schedulable CPUs because most of their
// time is spent blocked.
const ioBound = 2.0

// Count sizes a worker pool from the schedulable CPUs. GOMAXPROCS tracks
// the container's CPU quota, so the result respects cgroup limits without
// any cgroup parsing here. limit caps the result; 0 means uncapped.
//
// PIPELINE_WORKERS overrides the computed count, still subject to limit.
func Count(multiplier float64, limit int) int {
	if n, ok := fromEnv(); ok {
		return clamp(n, limit)
	}

	n := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if n < 1 {
		n = 1
	}
	return clamp(n, limit)
}

// ForIO sizes pools for enumeration and store-heavy stages.
func ForIO(limit int) int { return Count(ioBound, limit) }

func fromEnv() (int, bool) {
	raw := os.Getenv("PIPELINE_WORKERS")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func clamp(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
