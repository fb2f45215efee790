package memory

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"

	"imageviewer-pipeline/internal/logging"
)

// DefaultHeapRatio is the share of the container's memory granted to the Go
// heap. The remainder covers libvips buffers, archive extraction windows and
// goroutine stacks, none of which the Go pacer accounts for.
const DefaultHeapRatio = 0.85

// Limits reports what ConfigureFromEnv decided.
type Limits struct {
	// Source names the winning input: "GOMEMLIMIT", "MEMORY_LIMIT" or "none".
	Source string

	// Container is the container memory limit in bytes, when known.
	Container int64

	// Heap is the soft limit handed to the runtime, when one was set.
	Heap int64

	// Ratio is the container share applied when MEMORY_LIMIT drove the
	// decision.
	Ratio float64
}

// ConfigureFromEnv derives the runtime's soft memory limit from the
// container's limit. Call it first thing in main, before the first large
// decode allocates.
//
// An explicit GOMEMLIMIT wins and is left alone. Otherwise MEMORY_LIMIT
// (bytes, typically injected through the Kubernetes Downward API) scaled by
// MEMORY_RATIO sets the limit. With neither set the runtime default stands
// and the backpressure monitor stays disabled.
func ConfigureFromEnv() Limits {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return Limits{Source: "GOMEMLIMIT", Heap: debug.SetMemoryLimit(-1)}
	}

	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		logging.Debug("MEMORY_LIMIT not set; leaving the runtime's memory limit alone")
		return Limits{Source: "none"}
	}

	container, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || container <= 0 {
		logging.Warn("Ignoring unusable MEMORY_LIMIT %q", raw)
		return Limits{Source: "none"}
	}

	ratio := DefaultHeapRatio
	if rawRatio := os.Getenv("MEMORY_RATIO"); rawRatio != "" {
		parsed, perr := strconv.ParseFloat(rawRatio, 64)
		if perr != nil || parsed <= 0 || parsed > 1 {
			logging.Warn("Ignoring MEMORY_RATIO %q; using %.2f", rawRatio, DefaultHeapRatio)
		} else {
			ratio = parsed
		}
	}

	heap := int64(float64(container) * ratio)
	debug.SetMemoryLimit(heap)
	logging.Info("GOMEMLIMIT set to %s (%.0f%% of %s container limit)",
		formatBytes(heap), ratio*100, formatBytes(container))

	return Limits{Source: "MEMORY_LIMIT", Container: container, Heap: heap, Ratio: ratio}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
