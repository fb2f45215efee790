package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/memory"
	"imageviewer-pipeline/internal/metrics"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

const (
	// rateWindow is the sliding window for throughput measurement.
	rateWindow = 60 * time.Second

	// degradedFailureRatio is the failed/total ratio above which a job
	// reads as Degraded.
	degradedFailureRatio = 0.1

	// retireEvery is how often the retention pass runs.
	retireEvery = time.Hour
)

// Store is the persistence surface the monitor drives. *store.Store
// implements it; tests substitute fakes.
type Store interface {
	GetJobState(ctx context.Context, jobID string) (*models.FileProcessingJobState, error)
	GetRunningJobs(ctx context.Context) ([]models.FileProcessingJobState, error)
	GetStaleJobs(ctx context.Context, threshold time.Duration) ([]models.FileProcessingJobState, error)
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	CompleteIfAccounted(ctx context.Context, jobID string) (bool, error)
	DeleteOldCompleted(ctx context.Context, retention time.Duration) (int64, error)
	GetBackgroundJob(ctx context.Context, id string) (*models.BackgroundJob, error)
	CompleteStage(ctx context.Context, jobID, stage string) error
	UpdateBackgroundJobStatus(ctx context.Context, jobID string, status models.JobStatus) error
}

var _ Store = (*store.Store)(nil)

// Config tunes the monitor.
type Config struct {
	// Interval is the sweep cadence.
	Interval time.Duration
	// StaleThreshold is how long a running job may sit without progress
	// before it reads as stalled.
	StaleThreshold time.Duration
	// Retention is how long finished job states are kept.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	return c
}

// HealthState is the monitor's verdict on one job.
type HealthState string

const (
	HealthHealthy  HealthState = "Healthy"
	HealthDegraded HealthState = "Degraded"
	HealthStalled  HealthState = "Stalled"
)

// Status is the operator-facing snapshot of one job.
type Status struct {
	JobID    string           `json:"jobId"`
	JobType  models.JobType   `json:"jobType"`
	Status   models.JobStatus `json:"status"`
	Progress Progress         `json:"progress"`
	Timing   Timing           `json:"timing"`
	Metrics  Runtime          `json:"metrics"`
	Health   Health           `json:"health"`
}

// Progress is the item accounting of one job.
type Progress struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	Percentage  float64 `json:"percentage"`
	CurrentStep string  `json:"currentStep"`
}

// Timing carries wall-clock measurements. Durations are in seconds; the ETA
// is omitted when no throughput has been observed.
type Timing struct {
	StartedAt              time.Time `json:"startedAt"`
	DurationSeconds        float64   `json:"duration"`
	EstimatedTimeRemaining *float64  `json:"estimatedTimeRemaining,omitempty"`
}

// Runtime carries throughput and process measurements.
type Runtime struct {
	ItemsPerSecond   float64 `json:"itemsPerSecond"`
	MemoryUsageBytes int64   `json:"memoryUsageBytes,omitempty"`
	RetryCount       int64   `json:"retryCount"`
}

// Health is the verdict plus the evidence behind it.
type Health struct {
	Status HealthState `json:"status"`
	Issues []string    `json:"issues"`
}

// sample is one progress observation used for the throughput window.
type sample struct {
	at        time.Time
	accounted int64
}

// Monitor sweeps job states to completion and reports job health.
type Monitor struct {
	cfg   Config
	store Store
	mem   *memory.Monitor

	mu      sync.Mutex
	samples map[string][]sample
}

// New builds a monitor. mem may be nil when memory tracking is disabled.
func New(cfg Config, st Store, mem *memory.Monitor) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		store:   st,
		mem:     mem,
		samples: make(map[string][]sample),
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logging.Info("Job monitor running: sweep every %s, stale threshold %s, retention %s",
		m.cfg.Interval, m.cfg.StaleThreshold, m.cfg.Retention)

	sweepTick := time.NewTicker(m.cfg.Interval)
	defer sweepTick.Stop()
	retireTick := time.NewTicker(retireEvery)
	defer retireTick.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Info("Job monitor stopped")
			return
		case <-sweepTick.C:
			m.sweep(ctx)
		case <-retireTick.C:
			m.retire(ctx)
		}
	}
}

// sweep completes every running job whose accounting covers its total, flags
// stalled jobs, and refreshes the job gauges.
func (m *Monitor) sweep(ctx context.Context) {
	metrics.JobSweepsTotal.Inc()
	now := time.Now().UTC()

	running, err := m.store.GetRunningJobs(ctx)
	if err != nil {
		logging.Error("Job sweep: listing running jobs: %v", err)
		return
	}
	for i := range running {
		js := &running[i]
		m.observe(js, now)
		if !js.IsTerminal() {
			continue
		}
		applied, cerr := m.store.CompleteIfAccounted(ctx, js.JobID)
		if cerr != nil {
			logging.Error("Job sweep: completing %s: %v", js.JobID, cerr)
			continue
		}
		if !applied {
			continue
		}
		metrics.JobsSweptCompletedTotal.Inc()
		logging.Info("Job %s (%s) completed: %d done, %d failed, %d skipped of %d",
			js.JobID, js.JobType, js.CompletedImages, js.FailedImages, js.SkippedImages, js.TotalImages)
		m.forget(js.JobID)
		m.closeStages(ctx, js)
	}

	stale, err := m.store.GetStaleJobs(ctx, m.cfg.StaleThreshold)
	if err != nil {
		logging.Error("Job sweep: listing stale jobs: %v", err)
	} else {
		metrics.JobsStalled.Set(float64(len(stale)))
		for i := range stale {
			js := &stale[i]
			logging.Warn("Job %s (%s) stalled: no progress since %s, %d/%d accounted",
				js.JobID, js.JobType, js.LastProgressAt.Format(time.RFC3339), js.Accounted(), js.TotalImages)
		}
	}

	counts, err := m.store.CountJobsByStatus(ctx)
	if err != nil {
		logging.Error("Job sweep: counting jobs: %v", err)
		return
	}
	metrics.JobsActive.Set(float64(counts[models.JobPending] + counts[models.JobRunning] + counts[models.JobPaused]))
	metrics.JobsCompleted.Set(float64(counts[models.JobCompleted]))
	metrics.JobsFailed.Set(float64(counts[models.JobFailed]))

	m.pruneSamples(now)
}

// retire purges finished job states older than the retention window.
func (m *Monitor) retire(ctx context.Context) {
	purged, err := m.store.DeleteOldCompleted(ctx, m.cfg.Retention)
	if err != nil {
		logging.Error("Job retention: %v", err)
		return
	}
	if purged > 0 {
		metrics.JobStatesPurgedTotal.Add(float64(purged))
		logging.Info("Job retention removed %d finished job states older than %s", purged, m.cfg.Retention)
	}
}

// closeStages stamps the completed job's stage on its background job and,
// once every stage is stamped, the background job itself. Stage bookkeeping
// is telemetry; failures are logged, never fatal to the sweep.
func (m *Monitor) closeStages(ctx context.Context, js *models.FileProcessingJobState) {
	bgID := models.BackgroundJobIDFor(js.JobID)
	if err := m.store.CompleteStage(ctx, bgID, stageFor(js.JobType)); err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Warn("Completing stage %s on %s: %v", stageFor(js.JobType), bgID, err)
	}

	bg, err := m.store.GetBackgroundJob(ctx, bgID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Warn("Loading background job %s: %v", bgID, err)
		}
		return
	}
	if bg.Status != models.JobRunning {
		return
	}
	for _, stage := range bg.Stages {
		if stage.CompletedAt == nil {
			return
		}
	}
	if err := m.store.UpdateBackgroundJobStatus(ctx, bgID, models.JobCompleted); err != nil {
		logging.Warn("Completing background job %s: %v", bgID, err)
	}
}

// GetJobStatus assembles the operator-facing snapshot of one job.
func (m *Monitor) GetJobStatus(ctx context.Context, jobID string) (*Status, error) {
	js, err := m.store.GetJobState(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var rate float64
	switch js.Status {
	case models.JobCompleted, models.JobFailed:
		m.forget(js.JobID)
	default:
		rate = m.observe(js, now)
	}

	progress := Progress{
		Total:       js.TotalImages,
		Completed:   js.CompletedImages,
		Failed:      js.FailedImages,
		Skipped:     js.SkippedImages,
		CurrentStep: currentStep(js),
	}
	if js.TotalImages > 0 {
		progress.Percentage = float64(js.Accounted()) / float64(js.TotalImages) * 100
	}

	end := now
	if js.CompletedAt != nil {
		end = *js.CompletedAt
	}
	timing := Timing{
		StartedAt:       js.StartedAt,
		DurationSeconds: end.Sub(js.StartedAt).Seconds(),
	}
	if rate > 0 && js.TotalImages > js.CompletedImages {
		eta := float64(js.TotalImages-js.CompletedImages) / rate
		timing.EstimatedTimeRemaining = &eta
	}

	rt := Runtime{
		ItemsPerSecond: rate,
		RetryCount:     retryCount(js),
	}
	if m.mem != nil {
		current, _, _ := m.mem.GetStats()
		rt.MemoryUsageBytes = current
	}

	return &Status{
		JobID:    js.JobID,
		JobType:  js.JobType,
		Status:   js.Status,
		Progress: progress,
		Timing:   timing,
		Metrics:  rt,
		Health:   m.health(js, now),
	}, nil
}

// health renders the verdict for one job. Stalled outranks Degraded.
func (m *Monitor) health(js *models.FileProcessingJobState, now time.Time) Health {
	h := Health{Status: HealthHealthy, Issues: []string{}}

	if js.Status == models.JobRunning && now.Sub(js.LastProgressAt) > m.cfg.StaleThreshold {
		h.Status = HealthStalled
		issue := fmt.Sprintf("no progress for %s", now.Sub(js.LastProgressAt).Round(time.Second))
		if js.LastErrorKind != "" {
			issue += fmt.Sprintf(" (last error: %s)", js.LastErrorKind)
		}
		h.Issues = append(h.Issues, issue)
	}
	if js.TotalImages > 0 && float64(js.FailedImages)/float64(js.TotalImages) > degradedFailureRatio {
		if h.Status == HealthHealthy {
			h.Status = HealthDegraded
		}
		h.Issues = append(h.Issues, fmt.Sprintf("%d of %d images failed", js.FailedImages, js.TotalImages))
	}
	if n := js.ErrorSummary[string(models.ErrorKindNoCapacity)]; n > 0 {
		if h.Status == HealthHealthy {
			h.Status = HealthDegraded
		}
		h.Issues = append(h.Issues, fmt.Sprintf("cache folders rejected %d allocations", n))
	}
	if js.Status == models.JobRunning && m.mem != nil && m.mem.IsPaused() {
		if h.Status == HealthHealthy {
			h.Status = HealthDegraded
		}
		h.Issues = append(h.Issues, "consumers paused under memory pressure")
	}
	return h
}

// observe appends a progress sample and returns the throughput over the
// sliding window. The newest sample at or before the window edge survives as
// the baseline so the rate covers a full window once enough history exists.
func (m *Monitor) observe(js *models.FileProcessingJobState, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	win := append(m.samples[js.JobID], sample{at: now, accounted: js.Accounted()})
	cut := now.Add(-rateWindow)
	for len(win) > 1 && !win[1].at.After(cut) {
		win = win[1:]
	}
	m.samples[js.JobID] = win

	first, last := win[0], win[len(win)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 || last.accounted <= first.accounted {
		return 0
	}
	return float64(last.accounted-first.accounted) / elapsed
}

// forget drops a finished job's samples.
func (m *Monitor) forget(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, jobID)
}

// pruneSamples drops windows nothing has touched lately, so jobs that ended
// outside the sweep's view do not pin memory.
func (m *Monitor) pruneSamples(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cut := now.Add(-10 * rateWindow)
	for id, win := range m.samples {
		if len(win) == 0 || win[len(win)-1].at.Before(cut) {
			delete(m.samples, id)
		}
	}
}

// retryCount tallies the error kinds that come back through redelivery.
func retryCount(js *models.FileProcessingJobState) int64 {
	var n int64
	for _, kind := range []models.ErrorKind{
		models.ErrorKindDeadlineExceeded,
		models.ErrorKindStoreConflict,
		models.ErrorKindBrokerUnavailable,
	} {
		n += js.ErrorSummary[string(kind)]
	}
	return n
}

// currentStep names what the job is doing right now.
func currentStep(js *models.FileProcessingJobState) string {
	switch js.Status {
	case models.JobCompleted:
		return "complete"
	case models.JobFailed:
		return "failed"
	case models.JobPaused:
		return "paused"
	case models.JobPending:
		return "queued"
	}
	if js.JobType == models.JobTypeScan && js.TotalImages == 0 {
		return "enumerating"
	}
	switch js.JobType {
	case models.JobTypeThumbnail:
		return "generating thumbnails"
	case models.JobTypeCache:
		return "generating cache images"
	default:
		return "scanning"
	}
}

// stageFor maps a job type to its background-job stage name.
func stageFor(t models.JobType) string {
	switch t {
	case models.JobTypeThumbnail:
		return models.StageThumbnail
	case models.JobTypeCache:
		return models.StageCache
	default:
		return models.StageScan
	}
}
