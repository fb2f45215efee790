package workers

import (
	"os"
	"runtime"
	"testing"
)

// expected mirrors Count's math: multiplier times GOMAXPROCS, floored at 1
// and clamped to the limit.
func expected(multiplier float64, limit int) int {
	n := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

func clearOverride(t *testing.T) {
	t.Helper()
	t.Setenv("PIPELINE_WORKERS", "")
	os.Unsetenv("PIPELINE_WORKERS")
}

// ============================================================================
// Count
// ============================================================================

func TestCount(t *testing.T) {
	clearOverride(t)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
	}{
		{"One worker per CPU", 1.0, 0},
		{"Two workers per CPU", 2.0, 0},
		{"Mixed ratio", 1.5, 0},
		{"Limit clamps the result", 2.0, 2},
		{"Tiny multiplier floors at one", 0.1, 0},
		{"Zero multiplier floors at one", 0.0, 0},
		{"Negative multiplier floors at one", -1.0, 0},
		{"Huge multiplier respects the limit", 100.0, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := expected(tt.multiplier, tt.limit)
			if got := Count(tt.multiplier, tt.limit); got != want {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.multiplier, tt.limit, got, want)
			}
		})
	}
}

func TestCountOverride(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		limit    int
		want     int
	}{
		{"Override wins over CPU math", "8", 0, 8},
		{"Override is clamped to the limit", "20", 10, 10},
		{"Override below the limit passes through", "5", 10, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PIPELINE_WORKERS", tt.envValue)
			if got := Count(1.0, tt.limit); got != tt.want {
				t.Errorf("Count(1.0, %d) with PIPELINE_WORKERS=%s = %d, want %d",
					tt.limit, tt.envValue, got, tt.want)
			}
		})
	}
}

func TestCountIgnoresBadOverride(t *testing.T) {
	// Unparseable or non-positive overrides fall through to the CPU math.
	for _, bad := range []string{"invalid", "0", "-5", "1.5"} {
		t.Run(bad, func(t *testing.T) {
			t.Setenv("PIPELINE_WORKERS", bad)
			want := expected(1.0, 0)
			if got := Count(1.0, 0); got != want {
				t.Errorf("Count(1.0, 0) with PIPELINE_WORKERS=%s = %d, want %d", bad, got, want)
			}
		})
	}
}

func TestCountIsStable(t *testing.T) {
	clearOverride(t)

	first := Count(1.5, 10)
	for i := 0; i < 5; i++ {
		if got := Count(1.5, 10); got != first {
			t.Fatalf("Count(1.5, 10) changed between calls: %d then %d", first, got)
		}
	}
}

// ============================================================================
// Task-type helpers
// ============================================================================

func TestForIO(t *testing.T) {
	clearOverride(t)

	if got, want := ForIO(0), expected(2.0, 0); got != want {
		t.Errorf("ForIO(0) = %d, want %d", got, want)
	}
	if got, want := ForIO(8), expected(2.0, 8); got != want {
		t.Errorf("ForIO(8) = %d, want %d", got, want)
	}
}
