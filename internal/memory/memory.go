package memory

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/metrics"
)

// Config tunes the backpressure monitor.
type Config struct {
	// Limit is the soft heap budget in bytes. Zero adopts GOMEMLIMIT.
	Limit int64

	// HighWater is the fraction of the budget below which paused
	// consumers resume.
	HighWater float64

	// CriticalWater is the fraction at which consumers pause.
	CriticalWater float64

	// CheckInterval is the heap sampling period.
	CheckInterval time.Duration
}

// DefaultConfig spaces the watermarks so a decode burst between samples
// does not overshoot the budget before the next check sees it.
func DefaultConfig() Config {
	return Config{
		HighWater:     0.7,
		CriticalWater: 0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor samples heap usage and holds the pipeline's consumers while the
// process is over its critical watermark. Image decoding dominates the
// allocation profile; blocking between deliveries keeps one burst of large
// sources from tripping the runtime's limit.
type Monitor struct {
	cfg   Config
	limit int64

	mu     sync.Mutex
	alloc  uint64
	paused bool
	resume chan struct{}

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewMonitor resolves the heap budget and prepares the monitor. Start
// launches sampling.
func NewMonitor(cfg Config) *Monitor {
	limit := cfg.Limit
	if limit == 0 {
		// SetMemoryLimit(-1) reads the current limit without changing it.
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
			limit = l
			logging.Info("Memory backpressure budget from GOMEMLIMIT: %s", formatBytes(limit))
		}
	}
	if limit == 0 {
		logging.Warn("No memory budget configured; consumer backpressure is disabled")
	}

	return &Monitor{
		cfg:     cfg,
		limit:   limit,
		resume:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the sampling loop. Without a budget there is nothing to
// sample and Start is a no-op.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases every goroutine blocked in WaitIfPaused.
// Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			m.observe(ms.Alloc)
		case <-m.stopped:
			return
		}
	}
}

// observe applies one heap sample to the pause state. Split from the ticker
// loop so the transitions are testable with synthetic samples. Between the
// two watermarks the current state holds, which keeps the pipeline from
// flapping while the collector works the heap back down.
func (m *Monitor) observe(alloc uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alloc = alloc
	if m.limit <= 0 {
		return
	}

	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case !m.paused && usage >= m.cfg.CriticalWater:
		logging.Warn("Heap at %.0f%% of budget; pausing consumers", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		// Collect now rather than waiting out the pacer.
		go runtime.GC()

	case m.paused && usage < m.cfg.HighWater:
		logging.Info("Heap back to %.0f%% of budget; resuming consumers", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resume)
		m.resume = make(chan struct{})
	}
}

// WaitIfPaused blocks while the monitor holds the pipeline. A false return
// means the monitor stopped and the caller should unwind instead of
// processing further work.
func (m *Monitor) WaitIfPaused() bool {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return true
	}
	resume := m.resume
	m.mu.Unlock()

	select {
	case <-resume:
		return true
	case <-m.stopped:
		return false
	}
}

// IsPaused reports whether consumers are currently held.
func (m *Monitor) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// GetStats returns the last sampled heap size, the budget, and their ratio.
// Without a budget the ratio is zero.
func (m *Monitor) GetStats() (current, limit int64, usage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alloc > math.MaxInt64 {
		current = math.MaxInt64
	} else {
		current = int64(m.alloc)
	}
	if m.limit > 0 {
		usage = float64(m.alloc) / float64(m.limit)
	}
	return current, m.limit, usage
}
