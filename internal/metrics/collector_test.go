package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Mock StatsProvider
// =============================================================================

type mockStatsProvider struct {
	mu    sync.Mutex
	stats Stats
	err   error
	calls int
}

func (m *mockStatsProvider) GetStats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats, m.err
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// =============================================================================
// Collector Tests
// =============================================================================

func TestNewCollector(t *testing.T) {
	provider := &mockStatsProvider{
		stats: Stats{
			Collections: 10,
			Images:      500,
			ActiveJobs:  3,
		},
	}

	collector := NewCollector(provider, 5*time.Second)

	if collector == nil {
		t.Fatal("NewCollector returned nil")
	}

	if collector.provider != provider {
		t.Error("provider not set correctly")
	}

	if collector.interval != 5*time.Second {
		t.Errorf("interval = %v, want %v", collector.interval, 5*time.Second)
	}

	if collector.stop == nil {
		t.Error("stop channel not initialized")
	}
}

func TestNewCollectorWithNilProvider(t *testing.T) {
	collector := NewCollector(nil, 5*time.Second)

	if collector == nil {
		t.Fatal("NewCollector returned nil")
	}

	if collector.provider != nil {
		t.Error("provider should be nil")
	}

	// collect with a nil provider must be a no-op, not a panic
	collector.collect()
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{
		stats: Stats{Collections: 5},
	}

	collector := NewCollector(provider, 50*time.Millisecond)

	collector.Start()

	// Let it run long enough for the immediate collect plus at least one tick.
	time.Sleep(150 * time.Millisecond)

	collector.Stop()

	if got := provider.callCount(); got < 2 {
		t.Errorf("provider called %d times, want at least 2", got)
	}
}

func TestCollectorCollectUpdatesGauges(_ *testing.T) {
	provider := &mockStatsProvider{
		stats: Stats{
			Collections:    7,
			Images:         1200,
			ImageBytes:     1 << 30,
			Thumbnails:     1100,
			ThumbnailBytes: 50 << 20,
			CacheFiles:     900,
			CacheBytes:     400 << 20,
			ActiveJobs:     2,
			CompletedJobs:  40,
			FailedJobs:     1,
			Folders: []FolderStats{
				{Name: "cache-1", UsedBytes: 100 << 20, MaxSizeBytes: 1 << 30, Active: true},
				{Name: "cache-2", UsedBytes: 0, MaxSizeBytes: 1 << 30, Active: false},
			},
			QueueDepths: map[string]int64{
				"image.processing":     17,
				"thumbnail.generation": 3,
			},
		},
	}

	collector := NewCollector(provider, time.Minute)

	// Should not panic while fanning the snapshot out to the gauges.
	collector.collect()
}

func TestCollectorToleratesProviderError(t *testing.T) {
	provider := &mockStatsProvider{
		err: errors.New("mongo unavailable"),
	}

	collector := NewCollector(provider, time.Minute)

	// A failing provider is logged and skipped, never fatal.
	collector.collect()

	if got := provider.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}
