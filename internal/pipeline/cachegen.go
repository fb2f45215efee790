package pipeline

import (
	"context"
	"fmt"
	"time"

	"imageviewer-pipeline/internal/cachefolder"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/render"
)

// handleCacheGeneration renders and persists one cache derivative. Unlike
// thumbnails, the render spec rides in on the message; zero dimensions mean
// "source size", resolved by probing the source bytes.
func (p *Pipeline) handleCacheGeneration(ctx context.Context, body []byte) error {
	var msg messages.CacheGeneration
	if err := messages.Decode(body, &msg); err != nil {
		return fmt.Errorf("decoding cache.generation: %w", err)
	}
	if msg.JobID == "" || msg.ImageID == "" || msg.CollectionID == "" || msg.ImagePath == "" {
		return fmt.Errorf("%w: cache.generation %s is missing identity fields", errPermanent, msg.ID)
	}

	if err := p.checkNotDone(ctx, msg.JobID, msg.ImageID); err != nil {
		return err
	}

	src, err := p.reader.ReadEntry(ctx, msg.ImagePath, collectionTypeForEntry(msg.ImagePath))
	if err != nil {
		return p.failImage(ctx, msg.JobID, msg.ImageID, err)
	}

	defaults, err := p.derivativeDefaults(ctx)
	if err != nil {
		return fmt.Errorf("resolving derivative defaults: %w", err)
	}
	spec := render.Spec{
		Width:   msg.Width,
		Height:  msg.Height,
		Format:  mediatypes.ParseImageFormat(msg.Format),
		Quality: msg.Quality,
		Fit:     fitOrDefault(defaults.CacheFit, render.FitInside),
	}
	if spec.Format == mediatypes.FormatUnknown {
		spec.Format = mediatypes.ParseImageFormat(defaults.CacheFormat)
	}
	if spec.Quality <= 0 {
		spec.Quality = defaults.CacheQuality
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		w, h, _, perr := render.ProbeDimensions(src)
		if perr != nil {
			return p.failImage(ctx, msg.JobID, msg.ImageID, perr)
		}
		spec.Width, spec.Height = w, h
	}

	result, err := render.Render(src, spec)
	if err != nil {
		return p.failImage(ctx, msg.JobID, msg.ImageID, err)
	}

	fileName := cachefolder.CacheFileName(msg.ImageID, result.Width, result.Height, spec.Quality, result.Format)
	artifact, err := p.alloc.Write(ctx, cachefolder.KindCache, msg.CollectionID, fileName, result.Data)
	if err != nil {
		return p.failImage(ctx, msg.JobID, msg.ImageID, err)
	}

	entry := models.EmbeddedCache{
		ImageID:     msg.ImageID,
		Width:       result.Width,
		Height:      result.Height,
		Format:      result.Format,
		Quality:     spec.Quality,
		StoragePath: artifact.StoragePath,
		FileSize:    artifact.Size,
		GeneratedAt: time.Now().UTC(),
	}
	added, err := p.store.AtomicAddCacheImages(ctx, msg.CollectionID, []models.EmbeddedCache{entry})
	if err != nil {
		p.discardArtifact(ctx, artifact)
		return fmt.Errorf("pushing cache image for %s: %w", msg.ImageID, err)
	}
	if added == 0 {
		p.reconcileDuplicate(ctx, artifact,
			p.survivingCachePath(ctx, msg.CollectionID, msg.ImageID))
	}

	if err := p.settleCompletion(ctx, msg.JobID, msg.ImageID, artifact.Size, models.StageCache); err != nil {
		return err
	}

	logging.Debug("Cache image %dx%d q%d for image %s in collection %s (%d bytes)",
		result.Width, result.Height, spec.Quality, msg.ImageID, msg.CollectionID, artifact.Size)
	return nil
}
