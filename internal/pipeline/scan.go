package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"imageviewer-pipeline/internal/archive"
	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/render"
	"imageviewer-pipeline/internal/store"
)

// handleCollectionScan enumerates one collection, embeds every image it did
// not already know, and seeds the generation jobs plus their messages.
//
// The scan message's envelope ID doubles as the scan job's ID, which makes
// the whole handler re-runnable: a redelivery resumes the same job record,
// image pushes deduplicate on relativePath, and generation job IDs derive
// from the scan job ID.
func (p *Pipeline) handleCollectionScan(ctx context.Context, body []byte) error {
	var msg messages.CollectionScan
	if err := messages.Decode(body, &msg); err != nil {
		return fmt.Errorf("decoding collection.scan: %w", err)
	}
	if msg.CollectionID == "" {
		return fmt.Errorf("%w: collection.scan %s has no collectionId", errPermanent, msg.ID)
	}

	col, err := p.store.GetCollection(ctx, msg.CollectionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: collection %s no longer exists", errSkipDelivery, msg.CollectionID)
	}
	if err != nil {
		return fmt.Errorf("loading collection %s: %w", msg.CollectionID, err)
	}

	scanJobID := msg.Properties[messages.PropScanJobID]
	if scanJobID == "" {
		scanJobID = msg.ID
	}
	if err := p.openScanJob(ctx, scanJobID, col.ID); err != nil {
		return err
	}

	defaults, err := p.derivativeDefaults(ctx)
	if err != nil {
		return fmt.Errorf("resolving derivative defaults: %w", err)
	}
	thumbSpec, cacheSpec, enableCache := ResolveSpecs(col.Settings, defaults)

	knownByPath := make(map[string]models.EmbeddedImage, len(col.Images))
	haveThumb := make(map[string]bool)
	haveCache := make(map[string]bool)
	if msg.ForceRescan {
		if err := p.store.ClearImageArrays(ctx, col.ID); err != nil {
			return fmt.Errorf("clearing collection %s for rescan: %w", col.ID, err)
		}
	} else {
		for _, img := range col.Images {
			knownByPath[img.RelativePath] = img
		}
		for _, t := range col.Thumbnails {
			if t.Width == thumbSpec.Width && t.Height == thumbSpec.Height {
				haveThumb[t.ImageID] = true
			}
		}
		for _, c := range col.CacheImages {
			haveCache[c.ImageID] = true
		}
	}

	scanStart := time.Now()
	entries, err := p.reader.Enumerate(ctx, col.Path, col.Type)
	if err != nil {
		kind, deterministic := classifyError(err)
		if kind != "" {
			_ = p.store.TrackError(ctx, scanJobID, kind, err.Error())
		}
		if deterministic || os.IsNotExist(err) {
			_ = p.store.MarkJobFailed(ctx, scanJobID, err.Error())
			return fmt.Errorf("%w: enumerating %s: %v", errPermanent, col.Path, err)
		}
		return fmt.Errorf("enumerating %s: %w", col.Path, err)
	}

	var (
		images  []models.EmbeddedImage
		dummies int64
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.mem != nil {
			p.mem.WaitIfPaused()
		}

		if !entry.IsLikelyImage {
			dummies++
			continue
		}

		img, known := knownByPath[entry.RelativePath]
		if !known {
			var perr error
			img, perr = p.probeEntry(ctx, entry, col.Type)
			if perr != nil {
				kind, deterministic := classifyError(perr)
				if !deterministic {
					return fmt.Errorf("reading entry %s: %w", entry.RelativePath, perr)
				}
				logging.Warn("Excluding entry %s from collection %s: %v", entry.RelativePath, col.ID, perr)
				_ = p.store.TrackError(ctx, scanJobID, kind, perr.Error())
				continue
			}

			if aerr := p.store.AtomicAddImage(ctx, col.ID, img); aerr != nil {
				if errors.Is(aerr, store.ErrDuplicate) {
					// A concurrent scan embedded this path first and owns its
					// follow-on work.
					continue
				}
				return fmt.Errorf("embedding image %s: %w", entry.RelativePath, aerr)
			}
		}

		// Live scan progress. A resumed scan lands on images it already
		// accounted and falls through as duplicates.
		if ierr := p.store.IncrementCompleted(ctx, scanJobID, img.ID, img.FileSize); ierr != nil && !errors.Is(ierr, store.ErrDuplicate) {
			return fmt.Errorf("accounting scanned image %s: %w", img.ID, ierr)
		}
		images = append(images, img)
	}

	// Work out what each derivative stage still owes.
	var needThumb, needCache []models.EmbeddedImage
	for _, img := range images {
		if !haveThumb[img.ID] {
			needThumb = append(needThumb, img)
		}
		if enableCache && !haveCache[img.ID] {
			needCache = append(needCache, img)
		}
	}

	if err := p.store.IncrementDummyEntries(ctx, scanJobID, dummies); err != nil {
		return fmt.Errorf("recording dummy entries: %w", err)
	}

	p.recordStages(ctx, scanJobID, int64(len(images)), int64(len(needThumb)), int64(len(needCache)))

	thumbJobID := models.DerivativeJobID(scanJobID, models.JobTypeThumbnail)
	cacheJobID := models.DerivativeJobID(scanJobID, models.JobTypeCache)
	if len(needThumb) > 0 {
		if err := p.createDerivativeJob(ctx, thumbJobID, models.JobTypeThumbnail, col.ID, int64(len(needThumb))); err != nil {
			return err
		}
	}
	if len(needCache) > 0 {
		if err := p.createDerivativeJob(ctx, cacheJobID, models.JobTypeCache, col.ID, int64(len(needCache))); err != nil {
			return err
		}
	}

	if err := p.publishGenerationWork(ctx, col.ID, msg.CorrelationID, publishSet{
		thumbs:     needThumb,
		caches:     needCache,
		thumbSpec:  thumbSpec,
		cacheSpec:  cacheSpec,
		thumbJobID: thumbJobID,
		cacheJobID: cacheJobID,
	}); err != nil {
		return err
	}

	// Totals are the commit point. The monitor's sweep completes the job once
	// accounting covers them; a crash before this line leaves it resumable.
	if err := p.store.SetTotalImages(ctx, scanJobID, int64(len(images))); err != nil {
		return fmt.Errorf("recording scan total: %w", err)
	}
	if len(images) == 0 {
		// No accounting for the sweep's terminal condition to observe, so an
		// empty scan completes here.
		if err := p.store.UpdateJobStatus(ctx, scanJobID, models.JobCompleted); err != nil {
			return fmt.Errorf("completing empty scan %s: %w", scanJobID, err)
		}
	}

	logging.Info("Scanned collection %s (%s): %d images, %d dummy entries, %d thumbnails and %d cache images queued in %v",
		col.Name, col.ID, len(images), dummies, len(needThumb), len(needCache),
		time.Since(scanStart).Round(time.Millisecond))
	return nil
}

// openScanJob creates the scan's job state, or resumes it when this delivery
// is a retry of a scan already seen.
func (p *Pipeline) openScanJob(ctx context.Context, scanJobID, collectionID string) error {
	js := &models.FileProcessingJobState{
		JobID:        scanJobID,
		JobType:      models.JobTypeScan,
		CollectionID: collectionID,
		Status:       models.JobRunning,
		CanResume:    true,
	}
	err := p.store.CreateJobState(ctx, js)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("creating scan job %s: %w", scanJobID, err)
	}

	existing, gerr := p.store.GetJobState(ctx, scanJobID)
	if gerr != nil {
		return fmt.Errorf("loading scan job %s: %w", scanJobID, gerr)
	}
	switch existing.Status {
	case models.JobCompleted:
		return fmt.Errorf("%w: scan job %s already completed", errSkipDelivery, scanJobID)
	case models.JobFailed:
		return fmt.Errorf("%w: scan job %s already failed", errSkipDelivery, scanJobID)
	}
	if uerr := p.store.UpdateJobStatus(ctx, scanJobID, models.JobRunning); uerr != nil {
		return fmt.Errorf("resuming scan job %s: %w", scanJobID, uerr)
	}
	logging.Info("Resuming scan job %s for collection %s", scanJobID, collectionID)
	return nil
}

// createDerivativeJob seeds the job state for one generation stage. A job
// that already exists belongs to an earlier delivery of the same scan and is
// reused as is.
func (p *Pipeline) createDerivativeJob(ctx context.Context, jobID string, t models.JobType, collectionID string, total int64) error {
	js := &models.FileProcessingJobState{
		JobID:        jobID,
		JobType:      t,
		CollectionID: collectionID,
		Status:       models.JobRunning,
		TotalImages:  total,
		CanResume:    true,
	}
	err := p.store.CreateJobState(ctx, js)
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("creating %s job %s: %w", t, jobID, err)
	}
	return nil
}

// recordStages maintains the operator-facing background job. Stage
// bookkeeping is telemetry; failures are logged, never fatal to the scan.
func (p *Pipeline) recordStages(ctx context.Context, bgID string, scanned, thumbs, caches int64) {
	bg := &models.BackgroundJob{ID: bgID, JobType: models.JobTypeScan}
	if err := p.store.CreateBackgroundJob(ctx, bg); err != nil && !errors.Is(err, store.ErrDuplicate) {
		logging.Warn("Creating background job %s: %v", bgID, err)
		return
	}

	stage := func(name string, total int64) {
		if err := p.store.EnsureStage(ctx, bgID, name, total); err != nil {
			logging.Warn("Ensuring stage %s on %s: %v", name, bgID, err)
		}
	}
	stage(models.StageScan, scanned)
	if thumbs > 0 {
		stage(models.StageThumbnail, thumbs)
	}
	if caches > 0 {
		stage(models.StageCache, caches)
	}

	// Advance the scan stage by what this delivery added on top of earlier
	// ones, so a redelivered scan cannot overcount.
	fresh, gerr := p.store.GetBackgroundJob(ctx, bgID)
	if gerr != nil {
		logging.Warn("Loading background job %s: %v", bgID, gerr)
		return
	}
	stg := fresh.Stages[models.StageScan]
	if delta := scanned - stg.CompletedItems; delta > 0 {
		if err := p.store.AtomicIncrementStage(ctx, bgID, models.StageScan, delta); err != nil {
			logging.Warn("Advancing scan stage on %s: %v", bgID, err)
		}
	}
	if stg.CompletedAt == nil {
		if err := p.store.CompleteStage(ctx, bgID, models.StageScan); err != nil {
			logging.Warn("Completing scan stage on %s: %v", bgID, err)
		}
	}
}

// probeEntry reads one likely-image entry and builds its embedded record,
// probing actual pixel dimensions from the bytes.
func (p *Pipeline) probeEntry(ctx context.Context, entry archive.Entry, ctype models.CollectionType) (models.EmbeddedImage, error) {
	data, err := p.reader.ReadEntry(ctx, entry.RelativePath, ctype)
	if err != nil {
		return models.EmbeddedImage{}, err
	}

	width, height, format, err := render.ProbeDimensions(data)
	if err != nil {
		return models.EmbeddedImage{}, err
	}

	_, inner := archive.SplitEntryPath(entry.RelativePath)
	name := inner
	if name == "" {
		name = entry.RelativePath
	}

	return models.EmbeddedImage{
		ID:           uuid.New().String(),
		FileName:     filepath.Base(name),
		RelativePath: entry.RelativePath,
		FileSize:     int64(len(data)),
		Width:        width,
		Height:       height,
		Format:       format,
	}, nil
}

// ResolveSpecs merges collection settings with system defaults into the two
// derivative render specs. Zero cache dimensions mean "source size"; the
// generation worker probes the source and fills them in.
func ResolveSpecs(s models.CollectionSettings, d store.DerivativeDefaults) (thumb, cache render.Spec, enableCache bool) {
	thumb = render.Spec{
		Width:   s.ThumbnailWidth,
		Height:  s.ThumbnailHeight,
		Format:  mediatypes.ParseImageFormat(d.ThumbnailFormat),
		Quality: d.ThumbnailQuality,
		Fit:     fitOrDefault(d.ThumbnailFit, render.FitContain),
	}
	if thumb.Width <= 0 {
		thumb.Width = d.ThumbnailSize
	}
	if thumb.Height <= 0 {
		thumb.Height = d.ThumbnailSize
	}

	cache = render.Spec{
		Width:   s.CacheWidth,
		Height:  s.CacheHeight,
		Format:  s.Format,
		Quality: s.Quality,
		Fit:     fitOrDefault(d.CacheFit, render.FitInside),
	}
	if cache.Format == "" || cache.Format == mediatypes.FormatUnknown {
		cache.Format = mediatypes.ParseImageFormat(d.CacheFormat)
	}
	if cache.Quality <= 0 {
		cache.Quality = d.CacheQuality
	}
	return thumb, cache, s.EnableCache
}

// fitOrDefault parses a fit setting, keeping fallback when the stored value
// is absent or not a known mode.
func fitOrDefault(s string, fallback render.Fit) render.Fit {
	if fit, ok := render.ParseFit(s); ok {
		return fit
	}
	return fallback
}

// publishSet is the generation work one scan decided to emit.
type publishSet struct {
	thumbs     []models.EmbeddedImage
	caches     []models.EmbeddedImage
	thumbSpec  render.Spec
	cacheSpec  render.Spec
	thumbJobID string
	cacheJobID string
}

// publishGenerationWork emits one message per owed derivative, bounded by
// the publish gate. The first failure wins; the scan message then retries
// and the generation consumers dedupe whatever already made it out.
func (p *Pipeline) publishGenerationWork(ctx context.Context, collectionID, correlationID string, set publishSet) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	publish := func(routingKey string, m any) {
		defer wg.Done()
		defer p.gate.Done()
		if err := p.bus.PublishMessage(ctx, routingKey, m); err != nil {
			record(fmt.Errorf("publishing %s: %w", routingKey, err))
		}
	}
	emit := func(routingKey string, m any) {
		wg.Add(1)
		p.gate.Start()
		go publish(routingKey, m)
	}

	if p.cfg.FanOutStage {
		// One image.processing message per image; the fan-out worker splits
		// it into the derivative messages this image still needs.
		pending := make(map[string]models.EmbeddedImage, len(set.thumbs)+len(set.caches))
		needThumb := make(map[string]bool, len(set.thumbs))
		needCache := make(map[string]bool, len(set.caches))
		for _, img := range set.thumbs {
			pending[img.ID] = img
			needThumb[img.ID] = true
		}
		for _, img := range set.caches {
			pending[img.ID] = img
			needCache[img.ID] = true
		}
		for id, img := range pending {
			if err := ctx.Err(); err != nil {
				record(err)
				break
			}
			m := messages.ImageProcessing{
				Envelope:     messages.NewEnvelope(messages.TypeImageProcessing, correlationID),
				ImageID:      id,
				CollectionID: collectionID,
				ImagePath:    img.RelativePath,
			}
			if needThumb[id] {
				m.ThumbnailJobID = set.thumbJobID
			}
			if needCache[id] {
				m.CacheJobID = set.cacheJobID
			}
			emit(broker.QueueImageProcessing, m)
		}
	} else {
		for _, img := range set.thumbs {
			if err := ctx.Err(); err != nil {
				record(err)
				break
			}
			emit(broker.QueueThumbnailGeneration, messages.ThumbnailGeneration{
				Envelope:      messages.NewEnvelope(messages.TypeThumbnailGeneration, correlationID),
				ImageID:       img.ID,
				CollectionID:  collectionID,
				ImagePath:     img.RelativePath,
				ImageFilename: img.FileName,
				Width:         set.thumbSpec.Width,
				Height:        set.thumbSpec.Height,
				JobID:         set.thumbJobID,
			})
		}
		for _, img := range set.caches {
			if err := ctx.Err(); err != nil {
				record(err)
				break
			}
			emit(broker.QueueCacheGeneration, messages.CacheGeneration{
				Envelope:     messages.NewEnvelope(messages.TypeCacheGeneration, correlationID),
				ImageID:      img.ID,
				CollectionID: collectionID,
				ImagePath:    img.RelativePath,
				Width:        set.cacheSpec.Width,
				Height:       set.cacheSpec.Height,
				Quality:      set.cacheSpec.Quality,
				Format:       string(set.cacheSpec.Format),
				JobID:        set.cacheJobID,
			})
		}
	}

	wg.Wait()
	return firstErr
}
