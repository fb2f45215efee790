package pipeline

import (
	zipwriter "archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imageviewer-pipeline/internal/archive"
	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/cachefolder"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// seedCollection registers a collection over dir and returns it.
func seedCollection(t *testing.T, st *fakeStore, id, dir string, settings models.CollectionSettings) *models.Collection {
	t.Helper()
	col := &models.Collection{
		ID:       id,
		Name:     filepath.Base(dir),
		Path:     dir,
		Type:     models.CollectionDirectory,
		Settings: settings,
	}
	if err := st.CreateCollection(context.Background(), col); err != nil {
		t.Fatalf("seeding collection: %v", err)
	}
	return col
}

func scanMessage(collectionID string) messages.CollectionScan {
	return messages.CollectionScan{
		Envelope:     messages.NewEnvelope(messages.TypeCollectionScan, ""),
		CollectionID: collectionID,
	}
}

// ============================================================================
// Directory scans
// ============================================================================

func TestScanDirectoryCollection(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.png", pngBytes(t, 100, 50))
	writeFixture(t, dir, "b.png", pngBytes(t, 30, 60))
	writeFixture(t, dir, "notes.txt", []byte("not an image"))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{EnableCache: true})
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	js := st.mustJob(t, msg.ID)
	if js.Status != models.JobRunning {
		t.Errorf("scan job status = %q, want %q until the sweep completes it", js.Status, models.JobRunning)
	}
	if js.TotalImages != 2 || js.CompletedImages != 2 {
		t.Errorf("scan accounting = %d/%d, want 2/2", js.CompletedImages, js.TotalImages)
	}
	if js.DummyEntryCount != 1 {
		t.Errorf("DummyEntryCount = %d, want 1", js.DummyEntryCount)
	}

	col, _ := st.GetCollection(context.Background(), "col-1")
	if len(col.Images) != 2 {
		t.Fatalf("embedded images = %d, want 2", len(col.Images))
	}
	if col.Images[0].FileName != "a.png" || col.Images[1].FileName != "b.png" {
		t.Errorf("image order = %q, %q, want natural order a.png, b.png",
			col.Images[0].FileName, col.Images[1].FileName)
	}
	if col.Images[0].Width != 100 || col.Images[0].Height != 50 {
		t.Errorf("a.png probed as %dx%d, want 100x50", col.Images[0].Width, col.Images[0].Height)
	}
	if col.Statistics.TotalItems != 2 {
		t.Errorf("Statistics.TotalItems = %d, want 2", col.Statistics.TotalItems)
	}

	thumbJob := st.mustJob(t, models.DerivativeJobID(msg.ID, models.JobTypeThumbnail))
	if thumbJob.TotalImages != 2 || thumbJob.Status != models.JobRunning {
		t.Errorf("thumbnail job = %d images %q, want 2 running", thumbJob.TotalImages, thumbJob.Status)
	}
	cacheJob := st.mustJob(t, models.DerivativeJobID(msg.ID, models.JobTypeCache))
	if cacheJob.TotalImages != 2 {
		t.Errorf("cache job TotalImages = %d, want 2", cacheJob.TotalImages)
	}

	thumbs := bus.byKey(broker.QueueThumbnailGeneration)
	caches := bus.byKey(broker.QueueCacheGeneration)
	if len(thumbs) != 2 || len(caches) != 2 {
		t.Fatalf("published %d thumbnail, %d cache messages, want 2 and 2", len(thumbs), len(caches))
	}

	var tm messages.ThumbnailGeneration
	if err := messages.Decode(thumbs[0], &tm); err != nil {
		t.Fatalf("decoding published thumbnail message: %v", err)
	}
	if tm.JobID != thumbJob.JobID {
		t.Errorf("thumbnail message JobID = %q, want %q", tm.JobID, thumbJob.JobID)
	}
	if tm.Width != 64 || tm.Height != 64 {
		t.Errorf("thumbnail message box = %dx%d, want 64x64 from defaults", tm.Width, tm.Height)
	}
	if tm.CollectionID != "col-1" || tm.ImageID == "" || tm.ImagePath == "" {
		t.Errorf("thumbnail message identity incomplete: %+v", tm)
	}

	bg, ok := st.bgJobs[msg.ID]
	if !ok {
		t.Fatal("background job for scan not created")
	}
	scanStage := bg.Stages[models.StageScan]
	if scanStage.TotalItems != 2 || scanStage.CompletedItems != 2 || scanStage.CompletedAt == nil {
		t.Errorf("scan stage = %+v, want 2/2 completed", scanStage)
	}
	if bg.Stages[models.StageThumbnail].TotalItems != 2 {
		t.Errorf("thumbnail stage total = %d, want 2", bg.Stages[models.StageThumbnail].TotalItems)
	}
	if bg.Stages[models.StageCache].TotalItems != 2 {
		t.Errorf("cache stage total = %d, want 2", bg.Stages[models.StageCache].TotalItems)
	}
}

func TestScanWithoutCacheEnabled(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "only.png", pngBytes(t, 20, 20))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	if got := len(bus.byKey(broker.QueueCacheGeneration)); got != 0 {
		t.Errorf("published %d cache messages with cache disabled, want 0", got)
	}
	if _, err := st.GetJobState(context.Background(), models.DerivativeJobID(msg.ID, models.JobTypeCache)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cache job state error = %v, want ErrNotFound", err)
	}
	if got := len(bus.byKey(broker.QueueThumbnailGeneration)); got != 1 {
		t.Errorf("published %d thumbnail messages, want 1", got)
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", t.TempDir(), models.CollectionSettings{EnableCache: true})
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	js := st.mustJob(t, msg.ID)
	if js.Status != models.JobCompleted || js.TotalImages != 0 {
		t.Errorf("scan job = %q with %d images, want completed with 0", js.Status, js.TotalImages)
	}
	if bus.publishedCount() != 0 {
		t.Errorf("published %d messages for empty collection, want 0", bus.publishedCount())
	}
	if _, err := st.GetJobState(context.Background(), models.DerivativeJobID(msg.ID, models.JobTypeThumbnail)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("thumbnail job created for empty collection (err = %v), want ErrNotFound", err)
	}
}

func TestScanExcludesUndecodableEntries(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "good.png", pngBytes(t, 10, 10))
	writeFixture(t, dir, "broken.png", []byte("png extension, text inside"))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	js := st.mustJob(t, msg.ID)
	if js.TotalImages != 1 {
		t.Errorf("TotalImages = %d, want 1 (broken entry excluded)", js.TotalImages)
	}
	if !js.HasErrors {
		t.Error("HasErrors = false, want true")
	}
	if js.ErrorSummary[string(models.ErrorKindDecodeFailed)] != 1 {
		t.Errorf("ErrorSummary[decode-failed] = %d, want 1", js.ErrorSummary[string(models.ErrorKindDecodeFailed)])
	}
	if js.CompletedImages != 1 {
		t.Errorf("CompletedImages = %d, want full accounting despite per-entry errors", js.CompletedImages)
	}

	col, _ := st.GetCollection(context.Background(), "col-1")
	if len(col.Images) != 1 || col.Images[0].FileName != "good.png" {
		t.Errorf("embedded images = %+v, want only good.png", col.Images)
	}
}

// ============================================================================
// Redelivery and resume
// ============================================================================

func TestScanRedeliveryAfterCompletionSkips(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-1")
	body := encodeMessage(t, msg)
	if err := p.handleCollectionScan(context.Background(), body); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	// The sweep completed the job between deliveries.
	if err := st.UpdateJobStatus(context.Background(), msg.ID, models.JobCompleted); err != nil {
		t.Fatalf("completing job: %v", err)
	}
	publishedAfterFirst := bus.publishedCount()

	err := p.handleCollectionScan(context.Background(), body)
	if !errors.Is(err, errSkipDelivery) {
		t.Fatalf("redelivery error = %v, want errSkipDelivery", err)
	}
	if bus.publishedCount() != publishedAfterFirst {
		t.Errorf("redelivery published %d extra messages, want 0",
			bus.publishedCount()-publishedAfterFirst)
	}
	col, _ := st.GetCollection(context.Background(), "col-1")
	if len(col.Images) != 1 {
		t.Errorf("embedded images after redelivery = %d, want 1", len(col.Images))
	}
}

func TestScanRedeliveryBeforeSweepReruns(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-1")
	body := encodeMessage(t, msg)
	for i := 0; i < 2; i++ {
		if err := p.handleCollectionScan(context.Background(), body); err != nil {
			t.Fatalf("delivery %d error = %v", i+1, err)
		}
	}

	js := st.mustJob(t, msg.ID)
	if js.TotalImages != 1 || js.CompletedImages != 1 {
		t.Errorf("accounting after rerun = %d/%d, want 1/1", js.CompletedImages, js.TotalImages)
	}
	col, _ := st.GetCollection(context.Background(), "col-1")
	if len(col.Images) != 1 {
		t.Errorf("embedded images after rerun = %d, want 1", len(col.Images))
	}
}

func TestScanResumesRunningJob(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))
	writeFixture(t, dir, "b.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, bus)

	// A crashed scan left its job running with only one image embedded.
	msg := scanMessage("col-1")
	if err := st.CreateJobState(context.Background(), &models.FileProcessingJobState{
		JobID:        msg.ID,
		JobType:      models.JobTypeScan,
		CollectionID: "col-1",
		Status:       models.JobRunning,
		CanResume:    true,
	}); err != nil {
		t.Fatalf("seeding job state: %v", err)
	}
	if err := st.AtomicAddImage(context.Background(), "col-1", models.EmbeddedImage{
		ID:           "img-a",
		FileName:     "a.png",
		RelativePath: filepath.Join(dir, "a.png"),
		Width:        10,
		Height:       10,
	}); err != nil {
		t.Fatalf("seeding embedded image: %v", err)
	}

	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("resumed delivery error = %v", err)
	}

	js := st.mustJob(t, msg.ID)
	if js.TotalImages != 2 || js.CompletedImages != 2 {
		t.Errorf("resumed job accounting = %d/%d, want 2/2", js.CompletedImages, js.TotalImages)
	}

	col, _ := st.GetCollection(context.Background(), "col-1")
	if len(col.Images) != 2 {
		t.Fatalf("embedded images = %d, want 2", len(col.Images))
	}
	if col.Images[0].ID != "img-a" {
		t.Errorf("known image re-embedded with new ID %q, want img-a kept", col.Images[0].ID)
	}
}

func TestScanHonorsJobIDProperty(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, bus)

	if err := st.CreateJobState(context.Background(), &models.FileProcessingJobState{
		JobID:        "resume-1",
		JobType:      models.JobTypeScan,
		CollectionID: "col-1",
		Status:       models.JobRunning,
		CanResume:    true,
	}); err != nil {
		t.Fatalf("seeding job state: %v", err)
	}

	msg := scanMessage("col-1")
	msg.Properties = map[string]string{"scanJobId": "resume-1"}
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	if st.mustJob(t, "resume-1").TotalImages != 1 {
		t.Errorf("resume-1 TotalImages = %d, want 1", st.mustJob(t, "resume-1").TotalImages)
	}
	if _, err := st.GetJobState(context.Background(), msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("job keyed by envelope ID exists (err = %v), want work on resume-1 only", err)
	}
	thumbs := bus.byKey(broker.QueueThumbnailGeneration)
	if len(thumbs) != 1 {
		t.Fatalf("published %d thumbnail messages, want 1", len(thumbs))
	}
	var tm messages.ThumbnailGeneration
	if err := messages.Decode(thumbs[0], &tm); err != nil {
		t.Fatalf("decoding thumbnail message: %v", err)
	}
	if want := models.DerivativeJobID("resume-1", models.JobTypeThumbnail); tm.JobID != want {
		t.Errorf("thumbnail JobID = %q, want %q", tm.JobID, want)
	}
}

// ============================================================================
// Incremental and forced rescans
// ============================================================================

func TestScanIncrementalSkipsExistingDerivatives(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))
	writeFixture(t, dir, "b.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	col := seedCollection(t, st, "col-1", dir, models.CollectionSettings{EnableCache: true})

	// a.png was fully processed by an earlier scan.
	ctx := context.Background()
	if err := st.AtomicAddImage(ctx, col.ID, models.EmbeddedImage{
		ID: "img-a", FileName: "a.png", RelativePath: pathA, Width: 10, Height: 10,
	}); err != nil {
		t.Fatalf("seeding image: %v", err)
	}
	if _, err := st.AtomicAddThumbnails(ctx, col.ID, []models.EmbeddedThumbnail{
		{ImageID: "img-a", Width: 64, Height: 64},
	}); err != nil {
		t.Fatalf("seeding thumbnail: %v", err)
	}
	if _, err := st.AtomicAddCacheImages(ctx, col.ID, []models.EmbeddedCache{
		{ImageID: "img-a", Width: 10, Height: 10},
	}); err != nil {
		t.Fatalf("seeding cache image: %v", err)
	}

	p, _ := newTestPipeline(t, st, bus)
	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(ctx, encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	if got := st.mustJob(t, msg.ID).TotalImages; got != 2 {
		t.Errorf("scan TotalImages = %d, want 2", got)
	}
	thumbJob := st.mustJob(t, models.DerivativeJobID(msg.ID, models.JobTypeThumbnail))
	if thumbJob.TotalImages != 1 {
		t.Errorf("thumbnail job TotalImages = %d, want 1 (a.png already has one)", thumbJob.TotalImages)
	}
	cacheJob := st.mustJob(t, models.DerivativeJobID(msg.ID, models.JobTypeCache))
	if cacheJob.TotalImages != 1 {
		t.Errorf("cache job TotalImages = %d, want 1", cacheJob.TotalImages)
	}

	thumbs := bus.byKey(broker.QueueThumbnailGeneration)
	if len(thumbs) != 1 {
		t.Fatalf("published %d thumbnail messages, want 1", len(thumbs))
	}
	var tm messages.ThumbnailGeneration
	if err := messages.Decode(thumbs[0], &tm); err != nil {
		t.Fatalf("decoding thumbnail message: %v", err)
	}
	if !strings.HasSuffix(tm.ImagePath, "b.png") {
		t.Errorf("thumbnail work for %q, want b.png only", tm.ImagePath)
	}
}

func TestScanIncrementalIgnoresMismatchedThumbnailSize(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	col := seedCollection(t, st, "col-1", dir, models.CollectionSettings{})

	ctx := context.Background()
	if err := st.AtomicAddImage(ctx, col.ID, models.EmbeddedImage{
		ID: "img-a", FileName: "a.png", RelativePath: pathA, Width: 10, Height: 10,
	}); err != nil {
		t.Fatalf("seeding image: %v", err)
	}
	// Thumbnail from an era with different default dimensions.
	if _, err := st.AtomicAddThumbnails(ctx, col.ID, []models.EmbeddedThumbnail{
		{ImageID: "img-a", Width: 256, Height: 256},
	}); err != nil {
		t.Fatalf("seeding thumbnail: %v", err)
	}

	p, _ := newTestPipeline(t, st, bus)
	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(ctx, encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	if got := len(bus.byKey(broker.QueueThumbnailGeneration)); got != 1 {
		t.Errorf("published %d thumbnail messages, want 1 (stale 256x256 does not satisfy 64x64)", got)
	}
}

func TestScanForceRescanRebuildsArrays(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))
	writeFixture(t, dir, "b.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	col := seedCollection(t, st, "col-1", dir, models.CollectionSettings{})

	ctx := context.Background()
	if err := st.AtomicAddImage(ctx, col.ID, models.EmbeddedImage{
		ID: "stale", FileName: "a.png", RelativePath: pathA, Width: 10, Height: 10,
	}); err != nil {
		t.Fatalf("seeding image: %v", err)
	}
	if _, err := st.AtomicAddThumbnails(ctx, col.ID, []models.EmbeddedThumbnail{
		{ImageID: "stale", Width: 64, Height: 64},
	}); err != nil {
		t.Fatalf("seeding thumbnail: %v", err)
	}

	p, _ := newTestPipeline(t, st, bus)
	msg := scanMessage("col-1")
	msg.ForceRescan = true
	if err := p.handleCollectionScan(ctx, encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	got, _ := st.GetCollection(ctx, "col-1")
	if len(got.Images) != 2 {
		t.Fatalf("embedded images = %d, want 2", len(got.Images))
	}
	for _, img := range got.Images {
		if img.ID == "stale" {
			t.Error("force rescan kept stale image ID")
		}
	}
	if len(got.Thumbnails) != 0 {
		t.Errorf("thumbnails after force rescan = %d, want 0", len(got.Thumbnails))
	}
	if got := st.mustJob(t, models.DerivativeJobID(msg.ID, models.JobTypeThumbnail)).TotalImages; got != 2 {
		t.Errorf("thumbnail job TotalImages = %d, want 2 (everything owed again)", got)
	}
}

// ============================================================================
// Failure paths
// ============================================================================

func TestScanMissingCollectionSkips(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeStore(), &fakeBus{})
	err := p.handleCollectionScan(context.Background(), encodeMessage(t, scanMessage("ghost")))
	if !errors.Is(err, errSkipDelivery) {
		t.Errorf("error = %v, want errSkipDelivery", err)
	}
}

func TestScanMissingPathFailsJob(t *testing.T) {
	st := newFakeStore()
	gone := filepath.Join(t.TempDir(), "unmounted")
	seedCollection(t, st, "col-1", gone, models.CollectionSettings{})
	p, _ := newTestPipeline(t, st, &fakeBus{})

	msg := scanMessage("col-1")
	err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg))
	if !errors.Is(err, errPermanent) {
		t.Fatalf("error = %v, want errPermanent", err)
	}

	js := st.mustJob(t, msg.ID)
	if js.Status != models.JobFailed {
		t.Errorf("job status = %q, want %q", js.Status, models.JobFailed)
	}
	if js.ErrorMessage == "" {
		t.Error("ErrorMessage empty, want enumeration failure recorded")
	}
}

func TestScanMalformedBodyIsTransient(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeStore(), &fakeBus{})
	err := p.handleCollectionScan(context.Background(), []byte("{truncated"))
	if err == nil || errors.Is(err, errSkipDelivery) || errors.Is(err, errPermanent) {
		t.Errorf("error = %v, want plain decode failure", err)
	}
}

func TestScanWithoutCollectionIDIsPermanent(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeStore(), &fakeBus{})
	msg := messages.CollectionScan{Envelope: messages.NewEnvelope(messages.TypeCollectionScan, "")}
	err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg))
	if !errors.Is(err, errPermanent) {
		t.Errorf("error = %v, want errPermanent", err)
	}
}

// ============================================================================
// Archive collections
// ============================================================================

func TestScanZipCollection(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "art.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	zw := zipwriter.NewWriter(zf)
	members := []struct {
		name string
		data []byte
	}{
		{"readme.txt", []byte("dummy")},
		{"pics/two.png", pngBytes(t, 8, 12)},
		{"pics/one.png", pngBytes(t, 12, 8)},
	}
	for _, m := range members {
		w, werr := zw.Create(m.name)
		if werr != nil {
			t.Fatalf("adding %s: %v", m.name, werr)
		}
		if _, werr := w.Write(m.data); werr != nil {
			t.Fatalf("writing %s: %v", m.name, werr)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	if err := zf.Close(); err != nil {
		t.Fatalf("closing zip file: %v", err)
	}

	st := newFakeStore()
	bus := &fakeBus{}
	if err := st.CreateCollection(context.Background(), &models.Collection{
		ID:   "col-zip",
		Name: "art",
		Path: zipPath,
		Type: models.CollectionZip,
	}); err != nil {
		t.Fatalf("seeding collection: %v", err)
	}
	p, _ := newTestPipeline(t, st, bus)

	msg := scanMessage("col-zip")
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	js := st.mustJob(t, msg.ID)
	if js.TotalImages != 2 || js.DummyEntryCount != 1 {
		t.Errorf("totals = %d images, %d dummies, want 2 and 1", js.TotalImages, js.DummyEntryCount)
	}

	col, _ := st.GetCollection(context.Background(), "col-zip")
	for _, img := range col.Images {
		if !strings.HasPrefix(img.RelativePath, zipPath+"#") {
			t.Errorf("RelativePath = %q, want %q prefix", img.RelativePath, zipPath+"#")
		}
	}
	if col.Images[0].FileName != "one.png" {
		t.Errorf("FileName = %q, want inner base name one.png", col.Images[0].FileName)
	}
}

// ============================================================================
// Fan-out stage
// ============================================================================

func TestScanFanOutStage(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))
	writeFixture(t, dir, "b.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	seedCollection(t, st, "col-1", dir, models.CollectionSettings{EnableCache: true})

	p := New(Config{FanOutStage: true, PublishGate: 4},
		st, bus, archive.NewReader(0, 0), cachefolder.NewAllocator(&memFolderStore{}), nil)

	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(context.Background(), encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	if got := bus.byKey(broker.QueueThumbnailGeneration); len(got) != 0 {
		t.Errorf("fan-out mode published %d direct thumbnail messages, want 0", len(got))
	}
	procs := bus.byKey(broker.QueueImageProcessing)
	if len(procs) != 2 {
		t.Fatalf("published %d image.processing messages, want 2", len(procs))
	}

	var pm messages.ImageProcessing
	if err := messages.Decode(procs[0], &pm); err != nil {
		t.Fatalf("decoding image.processing message: %v", err)
	}
	if pm.ThumbnailJobID != models.DerivativeJobID(msg.ID, models.JobTypeThumbnail) {
		t.Errorf("ThumbnailJobID = %q, want derivative of %q", pm.ThumbnailJobID, msg.ID)
	}
	if pm.CacheJobID != models.DerivativeJobID(msg.ID, models.JobTypeCache) {
		t.Errorf("CacheJobID = %q, want derivative of %q", pm.CacheJobID, msg.ID)
	}
}

func TestScanFanOutOmitsSatisfiedStages(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFixture(t, dir, "a.png", pngBytes(t, 10, 10))

	st := newFakeStore()
	bus := &fakeBus{}
	col := seedCollection(t, st, "col-1", dir, models.CollectionSettings{EnableCache: true})

	ctx := context.Background()
	if err := st.AtomicAddImage(ctx, col.ID, models.EmbeddedImage{
		ID: "img-a", FileName: "a.png", RelativePath: pathA, Width: 10, Height: 10,
	}); err != nil {
		t.Fatalf("seeding image: %v", err)
	}
	if _, err := st.AtomicAddThumbnails(ctx, col.ID, []models.EmbeddedThumbnail{
		{ImageID: "img-a", Width: 64, Height: 64},
	}); err != nil {
		t.Fatalf("seeding thumbnail: %v", err)
	}

	p := New(Config{FanOutStage: true, PublishGate: 4},
		st, bus, archive.NewReader(0, 0), cachefolder.NewAllocator(&memFolderStore{}), nil)

	msg := scanMessage("col-1")
	if err := p.handleCollectionScan(ctx, encodeMessage(t, msg)); err != nil {
		t.Fatalf("handleCollectionScan() error = %v", err)
	}

	procs := bus.byKey(broker.QueueImageProcessing)
	if len(procs) != 1 {
		t.Fatalf("published %d image.processing messages, want 1", len(procs))
	}
	var pm messages.ImageProcessing
	if err := messages.Decode(procs[0], &pm); err != nil {
		t.Fatalf("decoding image.processing message: %v", err)
	}
	if pm.ThumbnailJobID != "" {
		t.Errorf("ThumbnailJobID = %q, want empty (thumbnail already exists)", pm.ThumbnailJobID)
	}
	if pm.CacheJobID == "" {
		t.Error("CacheJobID empty, want cache work still owed")
	}
}
