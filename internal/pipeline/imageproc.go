package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"imageviewer-pipeline/internal/archive"
	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/store"
)

// handleImageProcessing splits one image's work into its derivative
// messages. Deployments that enable the fan-out stage scale this queue
// independently of the generation queues; the job IDs ride in on the
// message, so the split needs only the collection's settings.
func (p *Pipeline) handleImageProcessing(ctx context.Context, body []byte) error {
	var msg messages.ImageProcessing
	if err := messages.Decode(body, &msg); err != nil {
		return fmt.Errorf("decoding image.processing: %w", err)
	}
	if msg.ImageID == "" || msg.CollectionID == "" || msg.ImagePath == "" {
		return fmt.Errorf("%w: image.processing %s is missing identity fields", errPermanent, msg.ID)
	}
	if msg.ThumbnailJobID == "" && msg.CacheJobID == "" {
		return fmt.Errorf("%w: image.processing %s carries no jobs", errSkipDelivery, msg.ID)
	}

	col, err := p.store.GetCollectionSummary(ctx, msg.CollectionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: collection %s no longer exists", errSkipDelivery, msg.CollectionID)
	}
	if err != nil {
		return fmt.Errorf("loading collection %s: %w", msg.CollectionID, err)
	}

	defaults, err := p.derivativeDefaults(ctx)
	if err != nil {
		return fmt.Errorf("resolving derivative defaults: %w", err)
	}
	thumbSpec, cacheSpec, _ := ResolveSpecs(col.Settings, defaults)

	if msg.ThumbnailJobID != "" {
		tm := messages.ThumbnailGeneration{
			Envelope:      messages.NewEnvelope(messages.TypeThumbnailGeneration, msg.CorrelationID),
			ImageID:       msg.ImageID,
			CollectionID:  msg.CollectionID,
			ImagePath:     msg.ImagePath,
			ImageFilename: entryFileName(msg.ImagePath),
			Width:         thumbSpec.Width,
			Height:        thumbSpec.Height,
			JobID:         msg.ThumbnailJobID,
		}
		if err := p.bus.PublishMessage(ctx, broker.QueueThumbnailGeneration, tm); err != nil {
			return fmt.Errorf("publishing thumbnail work for %s: %w", msg.ImageID, err)
		}
	}

	if msg.CacheJobID != "" {
		cm := messages.CacheGeneration{
			Envelope:     messages.NewEnvelope(messages.TypeCacheGeneration, msg.CorrelationID),
			ImageID:      msg.ImageID,
			CollectionID: msg.CollectionID,
			ImagePath:    msg.ImagePath,
			Width:        cacheSpec.Width,
			Height:       cacheSpec.Height,
			Quality:      cacheSpec.Quality,
			Format:       string(cacheSpec.Format),
			JobID:        msg.CacheJobID,
		}
		if err := p.bus.PublishMessage(ctx, broker.QueueCacheGeneration, cm); err != nil {
			return fmt.Errorf("publishing cache work for %s: %w", msg.ImageID, err)
		}
	}

	return nil
}

// entryFileName extracts the display file name from an entry path,
// respecting the container separator.
func entryFileName(entryPath string) string {
	container, inner := archive.SplitEntryPath(entryPath)
	if inner != "" {
		return filepath.Base(inner)
	}
	return filepath.Base(container)
}
