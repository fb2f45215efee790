package resume

import (
	"context"
	"fmt"
	"testing"

	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// ============================================================================
// Fakes
// ============================================================================

type completedRun struct {
	runID      string
	result     string
	errMessage string
	enqueued   int64
}

type fakeStore struct {
	jobs        []models.FileProcessingJobState
	collections map[string]*models.Collection
	statuses    map[string]models.JobStatus
	failed      map[string]string
	defaults    store.DerivativeDefaults

	scheduled *models.ScheduledJob
	runs      []models.ScheduledJobRun
	completed []completedRun
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: make(map[string]*models.Collection),
		statuses:    make(map[string]models.JobStatus),
		failed:      make(map[string]string),
		defaults: store.DerivativeDefaults{
			ThumbnailFormat:  "jpeg",
			ThumbnailQuality: 80,
			ThumbnailSize:    64,
			CacheFormat:      "jpeg",
			CacheQuality:     85,
		},
	}
}

func (f *fakeStore) GetIncompleteJobs(_ context.Context) ([]models.FileProcessingJobState, error) {
	out := make([]models.FileProcessingJobState, len(f.jobs))
	copy(out, f.jobs)
	return out, nil
}

func (f *fakeStore) GetCollection(_ context.Context, id string) (*models.Collection, error) {
	col, ok := f.collections[id]
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", store.ErrNotFound, id)
	}
	cp := *col
	return &cp, nil
}

func (f *fakeStore) ResolveDefaults(_ context.Context) (store.DerivativeDefaults, error) {
	return f.defaults, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID string, status models.JobStatus) error {
	f.statuses[jobID] = status
	return nil
}

func (f *fakeStore) MarkJobFailed(_ context.Context, jobID, message string) error {
	f.failed[jobID] = message
	return nil
}

func (f *fakeStore) UpsertScheduledJob(_ context.Context, job *models.ScheduledJob) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.scheduled == nil {
		cp := *job
		f.scheduled = &cp
	}
	return nil
}

func (f *fakeStore) GetScheduledJobByName(_ context.Context, name string) (*models.ScheduledJob, error) {
	if f.scheduled == nil || f.scheduled.Name != name {
		return nil, fmt.Errorf("%w: scheduled job %q", store.ErrNotFound, name)
	}
	return f.scheduled, nil
}

func (f *fakeStore) RecordScheduledRun(_ context.Context, run *models.ScheduledJobRun) error {
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeStore) CompleteScheduledRun(_ context.Context, runID, result, errMessage string, enqueued int64) error {
	f.completed = append(f.completed, completedRun{runID: runID, result: result, errMessage: errMessage, enqueued: enqueued})
	return nil
}

type fakeBus struct {
	published  []publishedMessage
	publishErr error
}

type publishedMessage struct {
	routingKey string
	body       any
}

func (f *fakeBus) PublishMessage(_ context.Context, routingKey string, msg any) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{routingKey: routingKey, body: msg})
	return nil
}

func (f *fakeBus) byKey(routingKey string) []any {
	var out []any
	for _, p := range f.published {
		if p.routingKey == routingKey {
			out = append(out, p.body)
		}
	}
	return out
}

// seedCollection installs a collection with n sequentially numbered images.
func seedCollection(st *fakeStore, id string, n int, settings models.CollectionSettings) *models.Collection {
	col := &models.Collection{
		ID:       id,
		Name:     id,
		Path:     "/library/" + id,
		Type:     models.CollectionDirectory,
		Settings: settings,
	}
	for i := 1; i <= n; i++ {
		col.Images = append(col.Images, models.EmbeddedImage{
			ID:           fmt.Sprintf("img-%d", i),
			FileName:     fmt.Sprintf("%d.png", i),
			RelativePath: fmt.Sprintf("/library/%s/%d.png", id, i),
		})
	}
	st.collections[id] = col
	return col
}

func incompleteJob(jobID string, t models.JobType, collectionID string, total int64) models.FileProcessingJobState {
	return models.FileProcessingJobState{
		JobID:        jobID,
		JobType:      t,
		CollectionID: collectionID,
		Status:       models.JobRunning,
		TotalImages:  total,
		CanResume:    true,
	}
}

// ============================================================================
// Generation jobs
// ============================================================================

func TestResumeThumbnailJobRequeuesRemainder(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 5, models.CollectionSettings{})
	js := incompleteJob("scan-1.thumbnail", models.JobTypeThumbnail, "col-1", 5)
	js.ProcessedImageIDs = []string{"img-1", "img-2"}
	js.CompletedImages = 2
	js.FailedImageIDs = []string{"img-3"}
	js.FailedImages = 1
	st.jobs = append(st.jobs, js)
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	thumbs := bus.byKey(broker.QueueThumbnailGeneration)
	if len(thumbs) != 2 {
		t.Fatalf("re-enqueued %d thumbnail messages, want 2 (img-4, img-5)", len(thumbs))
	}
	seen := make(map[string]bool)
	for _, body := range thumbs {
		m, ok := body.(messages.ThumbnailGeneration)
		if !ok {
			t.Fatalf("published %T, want ThumbnailGeneration", body)
		}
		seen[m.ImageID] = true
		if m.JobID != "scan-1.thumbnail" {
			t.Errorf("message JobID = %q, want scan-1.thumbnail", m.JobID)
		}
		if m.Width != 64 || m.Height != 64 {
			t.Errorf("message box = %dx%d, want 64x64 from defaults", m.Width, m.Height)
		}
		if m.CorrelationID != "scan-1.thumbnail" {
			t.Errorf("CorrelationID = %q, want the job ID", m.CorrelationID)
		}
	}
	if !seen["img-4"] || !seen["img-5"] {
		t.Errorf("re-enqueued images = %v, want img-4 and img-5", seen)
	}
	if got := st.statuses["scan-1.thumbnail"]; got != models.JobRunning {
		t.Errorf("job status = %q, want %q", got, models.JobRunning)
	}
}

func TestResumeCacheJobCarriesSpec(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 1, models.CollectionSettings{
		EnableCache: true,
		CacheWidth:  800,
		CacheHeight: 600,
		Quality:     70,
	})
	st.jobs = append(st.jobs, incompleteJob("scan-1.cache", models.JobTypeCache, "col-1", 1))
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	caches := bus.byKey(broker.QueueCacheGeneration)
	if len(caches) != 1 {
		t.Fatalf("re-enqueued %d cache messages, want 1", len(caches))
	}
	m, ok := caches[0].(messages.CacheGeneration)
	if !ok {
		t.Fatalf("published %T, want CacheGeneration", caches[0])
	}
	if m.Width != 800 || m.Height != 600 || m.Quality != 70 {
		t.Errorf("cache message = %dx%d q%d, want 800x600 q70 from settings", m.Width, m.Height, m.Quality)
	}
	if m.Format != "jpeg" {
		t.Errorf("cache message format = %q, want jpeg from defaults", m.Format)
	}
	if m.ImagePath != "/library/col-1/1.png" {
		t.Errorf("cache message path = %q, want the embedded image path", m.ImagePath)
	}
}

func TestResumeFullyAccountedJobPublishesNothing(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 3, models.CollectionSettings{})
	js := incompleteJob("scan-1.thumbnail", models.JobTypeThumbnail, "col-1", 3)
	js.ProcessedImageIDs = []string{"img-1", "img-2"}
	js.SkippedImageIDs = []string{"img-3"}
	st.jobs = append(st.jobs, js)
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(bus.published) != 0 {
		t.Errorf("published %d messages for a fully accounted job, want 0", len(bus.published))
	}
	// The status still flips so the sweep picks the job up and completes it.
	if got := st.statuses["scan-1.thumbnail"]; got != models.JobRunning {
		t.Errorf("job status = %q, want %q", got, models.JobRunning)
	}
}

func TestResumeOrphanedJobFails(t *testing.T) {
	st := newFakeStore()
	st.jobs = append(st.jobs, incompleteJob("scan-1.cache", models.JobTypeCache, "gone", 4))
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(bus.published) != 0 {
		t.Errorf("published %d messages for an orphaned job, want 0", len(bus.published))
	}
	if _, ok := st.failed["scan-1.cache"]; !ok {
		t.Error("orphaned job not marked failed")
	}
}

// ============================================================================
// Scan jobs
// ============================================================================

func TestResumeScanJobRepublishesScan(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 2, models.CollectionSettings{})
	st.jobs = append(st.jobs, incompleteJob("scan-1", models.JobTypeScan, "col-1", 0))
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	scans := bus.byKey(broker.QueueCollectionScan)
	if len(scans) != 1 {
		t.Fatalf("re-enqueued %d scan messages, want 1", len(scans))
	}
	m, ok := scans[0].(messages.CollectionScan)
	if !ok {
		t.Fatalf("published %T, want CollectionScan", scans[0])
	}
	if m.CollectionID != "col-1" {
		t.Errorf("scan CollectionID = %q, want col-1", m.CollectionID)
	}
	if got := m.Properties[messages.PropScanJobID]; got != "scan-1" {
		t.Errorf("scan property %s = %q, want the original job ID", messages.PropScanJobID, got)
	}
	if m.ForceRescan {
		t.Error("ForceRescan = true on resume, want false to keep recovery incremental")
	}
	if got := st.statuses["scan-1"]; got != models.JobRunning {
		t.Errorf("job status = %q, want %q", got, models.JobRunning)
	}
}

// ============================================================================
// Pass behavior
// ============================================================================

func TestResumeNoIncompleteJobs(t *testing.T) {
	st := newFakeStore()
	bus := &fakeBus{}
	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(bus.published) != 0 {
		t.Errorf("published %d messages with nothing to resume, want 0", len(bus.published))
	}
	if len(st.runs) != 0 {
		t.Errorf("recorded %d scheduled runs with nothing to resume, want 0", len(st.runs))
	}
}

func TestResumeContinuesPastBrokenJob(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 1, models.CollectionSettings{})
	st.jobs = append(st.jobs,
		incompleteJob("weird", models.JobType("mystery"), "col-1", 1),
		incompleteJob("scan-1.thumbnail", models.JobTypeThumbnail, "col-1", 1),
	)
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := len(bus.byKey(broker.QueueThumbnailGeneration)); got != 1 {
		t.Errorf("re-enqueued %d thumbnail messages, want 1 despite the broken job", got)
	}
	if len(st.completed) != 1 {
		t.Fatalf("completed %d scheduled runs, want 1", len(st.completed))
	}
	if run := st.completed[0]; run.result != "partial" || run.enqueued != 1 {
		t.Errorf("run outcome = %q/%d, want partial/1", run.result, run.enqueued)
	}
}

// ============================================================================
// Run history
// ============================================================================

func TestResumeRecordsRunHistory(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 5, models.CollectionSettings{})
	js := incompleteJob("scan-1.thumbnail", models.JobTypeThumbnail, "col-1", 5)
	js.ProcessedImageIDs = []string{"img-1", "img-2", "img-3"}
	st.jobs = append(st.jobs, js)
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(st.runs) != 1 {
		t.Fatalf("recorded %d scheduled runs, want 1", len(st.runs))
	}
	if got := st.runs[0].TriggeredBy; got != "resume" {
		t.Errorf("run TriggeredBy = %q, want resume", got)
	}
	if st.scheduled == nil || st.scheduled.Name != "resume-incomplete-jobs" {
		t.Fatalf("scheduled job definition = %+v, want name resume-incomplete-jobs", st.scheduled)
	}
	if len(st.completed) != 1 {
		t.Fatalf("completed %d scheduled runs, want 1", len(st.completed))
	}
	run := st.completed[0]
	if run.runID != st.runs[0].ID {
		t.Errorf("completed run ID = %q, want %q", run.runID, st.runs[0].ID)
	}
	if run.result != "enqueued" || run.errMessage != "" {
		t.Errorf("run outcome = %q/%q, want enqueued with no error", run.result, run.errMessage)
	}
	if run.enqueued != 2 {
		t.Errorf("run enqueued count = %d, want 2 (img-4, img-5)", run.enqueued)
	}
}

func TestResumeProceedsWhenBookkeepingUnavailable(t *testing.T) {
	st := newFakeStore()
	st.upsertErr = fmt.Errorf("scheduled collection offline")
	seedCollection(st, "col-1", 1, models.CollectionSettings{})
	st.jobs = append(st.jobs, incompleteJob("scan-1.thumbnail", models.JobTypeThumbnail, "col-1", 1))
	bus := &fakeBus{}

	if err := New(st, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want recovery despite bookkeeping failure", err)
	}
	if got := len(bus.byKey(broker.QueueThumbnailGeneration)); got != 1 {
		t.Errorf("re-enqueued %d thumbnail messages, want 1", got)
	}
	if len(st.completed) != 0 {
		t.Errorf("completed %d scheduled runs without an open run, want 0", len(st.completed))
	}
}

func TestResumeStopsOnCancelledContext(t *testing.T) {
	st := newFakeStore()
	seedCollection(st, "col-1", 1, models.CollectionSettings{})
	st.jobs = append(st.jobs, incompleteJob("scan-1.thumbnail", models.JobTypeThumbnail, "col-1", 1))
	bus := &fakeBus{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(st, bus).Run(ctx); err == nil {
		t.Fatal("Run() error = nil with cancelled context, want context error")
	}
	if len(bus.published) != 0 {
		t.Errorf("published %d messages after cancellation, want 0", len(bus.published))
	}
}
