package resume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/metrics"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/pipeline"
	"imageviewer-pipeline/internal/store"
)

// Store is the persistence surface the coordinator reads and repairs.
// *store.Store implements it; tests substitute fakes.
type Store interface {
	GetIncompleteJobs(ctx context.Context) ([]models.FileProcessingJobState, error)
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	ResolveDefaults(ctx context.Context) (store.DerivativeDefaults, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus) error
	MarkJobFailed(ctx context.Context, jobID, message string) error

	// Recovery passes land in the same run history pipectl writes.
	UpsertScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	GetScheduledJobByName(ctx context.Context, name string) (*models.ScheduledJob, error)
	RecordScheduledRun(ctx context.Context, run *models.ScheduledJobRun) error
	CompleteScheduledRun(ctx context.Context, runID, result, errMessage string, enqueued int64) error
}

var _ Store = (*store.Store)(nil)

// publisher is the one broker capability resume needs.
type publisher interface {
	PublishMessage(ctx context.Context, routingKey string, msg any) error
}

var _ publisher = (*broker.Broker)(nil)

// Coordinator re-enqueues the unfinished remainder of interrupted jobs.
type Coordinator struct {
	store Store
	bus   publisher
}

// New builds a coordinator.
func New(st Store, bus publisher) *Coordinator {
	return &Coordinator{store: st, bus: bus}
}

// Run performs one recovery pass. A job that cannot be resumed is logged and
// skipped; it must not block the recovery of the others.
func (c *Coordinator) Run(ctx context.Context) error {
	metrics.ResumeRunsTotal.Inc()

	jobs, err := c.store.GetIncompleteJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing incomplete jobs: %w", err)
	}
	if len(jobs) == 0 {
		logging.Info("Resume: no incomplete jobs")
		return nil
	}

	logging.Info("Resume: %d incomplete jobs to pick up", len(jobs))
	runID := c.beginRun(ctx)

	var requeued int64
	var broken int
	for i := range jobs {
		js := &jobs[i]
		if err := ctx.Err(); err != nil {
			c.finishRun(ctx, runID, "interrupted", err.Error(), requeued)
			return err
		}
		n, err := c.resumeJob(ctx, js)
		requeued += n
		if err != nil {
			logging.Error("Resume: job %s (%s): %v", js.JobID, js.JobType, err)
			broken++
			continue
		}
		metrics.ResumeJobsResumedTotal.Inc()
	}

	result, errMessage := "enqueued", ""
	if broken > 0 {
		result = "partial"
		errMessage = fmt.Sprintf("%d of %d jobs could not be resumed", broken, len(jobs))
	}
	c.finishRun(ctx, runID, result, errMessage, requeued)
	return nil
}

// resumeJob returns how many messages it put back on the queues, counting
// partial progress even when the pass errors out midway.
func (c *Coordinator) resumeJob(ctx context.Context, js *models.FileProcessingJobState) (int64, error) {
	switch js.JobType {
	case models.JobTypeThumbnail, models.JobTypeCache:
		return c.resumeGeneration(ctx, js)
	case models.JobTypeScan:
		return c.resumeScan(ctx, js)
	default:
		return 0, fmt.Errorf("unknown job type %q", js.JobType)
	}
}

// resumeScan republishes the scan message carrying the original job's ID, so
// the scan worker resumes its record instead of opening a new one. The worker
// reuses embedded images and already-accounted outcomes, which keeps the
// rerun proportional to what the crash interrupted.
func (c *Coordinator) resumeScan(ctx context.Context, js *models.FileProcessingJobState) (int64, error) {
	msg := messages.CollectionScan{
		Envelope:     messages.NewEnvelope(messages.TypeCollectionScan, js.JobID),
		CollectionID: js.CollectionID,
	}
	msg.Properties = map[string]string{messages.PropScanJobID: js.JobID}

	if err := c.bus.PublishMessage(ctx, broker.QueueCollectionScan, msg); err != nil {
		return 0, fmt.Errorf("republishing scan: %w", err)
	}
	metrics.ResumeMessagesRequeuedTotal.WithLabelValues(broker.QueueCollectionScan).Inc()

	if err := c.store.UpdateJobStatus(ctx, js.JobID, models.JobRunning); err != nil {
		return 1, fmt.Errorf("marking job running: %w", err)
	}
	logging.Info("Resume: scan job %s re-enqueued for collection %s", js.JobID, js.CollectionID)
	return 1, nil
}

// resumeGeneration re-enqueues one generation message per image the job has
// not accounted for. The outcome sets on the job state are the authoritative
// record of what is already done, so no per-image store round trips are
// needed.
func (c *Coordinator) resumeGeneration(ctx context.Context, js *models.FileProcessingJobState) (int64, error) {
	col, err := c.store.GetCollection(ctx, js.CollectionID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing left to generate against; the job can never finish.
		if ferr := c.store.MarkJobFailed(ctx, js.JobID, "collection no longer exists"); ferr != nil {
			return 0, fmt.Errorf("failing orphaned job: %w", ferr)
		}
		logging.Warn("Resume: job %s abandoned, collection %s no longer exists", js.JobID, js.CollectionID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading collection %s: %w", js.CollectionID, err)
	}

	defaults, err := c.store.ResolveDefaults(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolving derivative defaults: %w", err)
	}
	thumbSpec, cacheSpec, _ := pipeline.ResolveSpecs(col.Settings, defaults)

	accounted := make(map[string]bool,
		len(js.ProcessedImageIDs)+len(js.FailedImageIDs)+len(js.SkippedImageIDs))
	for _, set := range [][]string{js.ProcessedImageIDs, js.FailedImageIDs, js.SkippedImageIDs} {
		for _, id := range set {
			accounted[id] = true
		}
	}

	var requeued int64
	for i := range col.Images {
		img := &col.Images[i]
		if err := ctx.Err(); err != nil {
			return requeued, err
		}
		if accounted[img.ID] {
			continue
		}

		var (
			queue string
			m     any
		)
		if js.JobType == models.JobTypeThumbnail {
			queue = broker.QueueThumbnailGeneration
			m = messages.ThumbnailGeneration{
				Envelope:      messages.NewEnvelope(messages.TypeThumbnailGeneration, js.JobID),
				ImageID:       img.ID,
				CollectionID:  col.ID,
				ImagePath:     img.RelativePath,
				ImageFilename: img.FileName,
				Width:         thumbSpec.Width,
				Height:        thumbSpec.Height,
				JobID:         js.JobID,
			}
		} else {
			queue = broker.QueueCacheGeneration
			m = messages.CacheGeneration{
				Envelope:     messages.NewEnvelope(messages.TypeCacheGeneration, js.JobID),
				ImageID:      img.ID,
				CollectionID: col.ID,
				ImagePath:    img.RelativePath,
				Width:        cacheSpec.Width,
				Height:       cacheSpec.Height,
				Quality:      cacheSpec.Quality,
				Format:       string(cacheSpec.Format),
				JobID:        js.JobID,
			}
		}

		if err := c.bus.PublishMessage(ctx, queue, m); err != nil {
			return requeued, fmt.Errorf("re-enqueuing image %s: %w", img.ID, err)
		}
		metrics.ResumeMessagesRequeuedTotal.WithLabelValues(queue).Inc()
		requeued++
	}

	if err := c.store.UpdateJobStatus(ctx, js.JobID, models.JobRunning); err != nil {
		return requeued, fmt.Errorf("marking job running: %w", err)
	}
	logging.Info("Resume: job %s (%s) re-enqueued %d of %d images",
		js.JobID, js.JobType, requeued, js.TotalImages)
	return requeued, nil
}

// ============================================================================
// Run bookkeeping
// ============================================================================

// beginRun opens a record in the scheduled-run history so recovery passes are
// auditable alongside operator enqueues. Bookkeeping is best-effort: recovery
// proceeds even when the record cannot be written.
func (c *Coordinator) beginRun(ctx context.Context) string {
	job := &models.ScheduledJob{
		ID:      uuid.New().String(),
		Name:    "resume-incomplete-jobs",
		JobKind: "resume",
		Enabled: true,
	}
	if err := c.store.UpsertScheduledJob(ctx, job); err != nil {
		logging.Warn("Resume: recording scheduled job: %v", err)
		return ""
	}

	// The upsert keys on the name; read back the persisted ID in case the
	// definition already existed.
	stored, err := c.store.GetScheduledJobByName(ctx, job.Name)
	if err != nil {
		logging.Warn("Resume: reading back scheduled job: %v", err)
		return ""
	}

	run := &models.ScheduledJobRun{
		ID:             uuid.New().String(),
		ScheduledJobID: stored.ID,
		TriggeredBy:    "resume",
		StartedAt:      time.Now().UTC(),
	}
	if err := c.store.RecordScheduledRun(ctx, run); err != nil {
		logging.Warn("Resume: recording scheduled run: %v", err)
		return ""
	}
	return run.ID
}

// finishRun closes the run record. The write survives shutdown cancellation
// so an interrupted pass still leaves its outcome behind.
func (c *Coordinator) finishRun(ctx context.Context, runID, result, errMessage string, enqueued int64) {
	if runID == "" {
		return
	}
	if err := c.store.CompleteScheduledRun(context.WithoutCancel(ctx), runID, result, errMessage, enqueued); err != nil {
		logging.Warn("Resume: completing scheduled run: %v", err)
	}
}
