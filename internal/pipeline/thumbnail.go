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

// handleThumbnailGeneration renders and persists one thumbnail: read the
// source entry, render to the requested box, place the artifact in a cache
// folder, push the embedded record, and account the image on the job state.
func (p *Pipeline) handleThumbnailGeneration(ctx context.Context, body []byte) error {
	var msg messages.ThumbnailGeneration
	if err := messages.Decode(body, &msg); err != nil {
		return fmt.Errorf("decoding thumbnail.generation: %w", err)
	}
	if msg.JobID == "" || msg.ImageID == "" || msg.CollectionID == "" || msg.ImagePath == "" {
		return fmt.Errorf("%w: thumbnail.generation %s is missing identity fields", errPermanent, msg.ID)
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
		Format:  mediatypes.ParseImageFormat(defaults.ThumbnailFormat),
		Quality: defaults.ThumbnailQuality,
		Fit:     fitOrDefault(defaults.ThumbnailFit, render.FitContain),
	}
	if spec.Width <= 0 {
		spec.Width = defaults.ThumbnailSize
	}
	if spec.Height <= 0 {
		spec.Height = defaults.ThumbnailSize
	}

	result, err := render.Render(src, spec)
	if err != nil {
		return p.failImage(ctx, msg.JobID, msg.ImageID, err)
	}

	fileName := cachefolder.ThumbnailFileName(msg.ImageID, result.Width, result.Height, result.Format)
	artifact, err := p.alloc.Write(ctx, cachefolder.KindThumbnail, msg.CollectionID, fileName, result.Data)
	if err != nil {
		return p.failImage(ctx, msg.JobID, msg.ImageID, err)
	}

	entry := models.EmbeddedThumbnail{
		ImageID:     msg.ImageID,
		Width:       result.Width,
		Height:      result.Height,
		Format:      result.Format,
		Quality:     spec.Quality,
		StoragePath: artifact.StoragePath,
		FileSize:    artifact.Size,
		GeneratedAt: time.Now().UTC(),
	}
	added, err := p.store.AtomicAddThumbnails(ctx, msg.CollectionID, []models.EmbeddedThumbnail{entry})
	if err != nil {
		p.discardArtifact(ctx, artifact)
		return fmt.Errorf("pushing thumbnail for %s: %w", msg.ImageID, err)
	}
	if added == 0 {
		// An earlier delivery already pushed this thumbnail.
		p.reconcileDuplicate(ctx, artifact,
			p.survivingThumbnailPath(ctx, msg.CollectionID, msg.ImageID, result.Width, result.Height))
	}

	if err := p.settleCompletion(ctx, msg.JobID, msg.ImageID, artifact.Size, models.StageThumbnail); err != nil {
		return err
	}

	logging.Debug("Thumbnail %dx%d for image %s in collection %s (%d bytes)",
		result.Width, result.Height, msg.ImageID, msg.CollectionID, artifact.Size)
	return nil
}
