package pipeline

import (
	"context"
	"errors"
	"fmt"

	"imageviewer-pipeline/internal/archive"
	"imageviewer-pipeline/internal/cachefolder"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/render"
	"imageviewer-pipeline/internal/store"
)

// classifyError maps a pipeline error onto its error-summary kind. The
// second result reports whether the failure is deterministic: redelivering
// the same message cannot change the outcome.
func classifyError(err error) (models.ErrorKind, bool) {
	switch {
	case errors.Is(err, archive.ErrArchiveCorrupt):
		return models.ErrorKindArchiveCorrupt, true
	case errors.Is(err, archive.ErrEntryTooLarge):
		return models.ErrorKindEntryTooLarge, true
	case errors.Is(err, archive.ErrStreamTruncated):
		return models.ErrorKindStreamTruncated, true
	case errors.Is(err, archive.ErrEntryNotFound):
		return models.ErrorKindEntryMissing, true
	case errors.Is(err, archive.ErrUnsupportedArchive):
		return models.ErrorKindUnsupportedFormat, true
	case errors.Is(err, render.ErrDecodeFailed):
		return models.ErrorKindDecodeFailed, true
	case errors.Is(err, render.ErrEncodeFailed):
		return models.ErrorKindEncodeFailed, true
	case errors.Is(err, render.ErrUnsupportedFormat):
		return models.ErrorKindUnsupportedFormat, true
	case errors.Is(err, cachefolder.ErrNoCapacity):
		// No folder can take the artifact; the pipeline records the image
		// and moves on rather than blocking the queue on operator action.
		return models.ErrorKindNoCapacity, true
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindDeadlineExceeded, false
	case errors.Is(err, store.ErrConflict):
		return models.ErrorKindStoreConflict, false
	default:
		return "", false
	}
}

// checkNotDone enforces the generation workers' entry guards: skip images
// the job has already accounted for, and ack-skip work for cancelled jobs.
func (p *Pipeline) checkNotDone(ctx context.Context, jobID, imageID string) error {
	done, err := p.store.IsProcessed(ctx, jobID, imageID)
	if err != nil {
		return fmt.Errorf("checking job %s for image %s: %w", jobID, imageID, err)
	}
	if done {
		return fmt.Errorf("%w: image %s already accounted by job %s", errSkipDelivery, imageID, jobID)
	}

	cancelled, err := p.store.IsJobCancelled(ctx, jobID)
	if err != nil {
		return fmt.Errorf("checking job %s cancellation: %w", jobID, err)
	}
	if cancelled {
		if serr := p.store.IncrementSkipped(ctx, jobID, imageID); serr != nil && !errors.Is(serr, store.ErrDuplicate) {
			return fmt.Errorf("recording skip for %s: %w", imageID, serr)
		}
		return fmt.Errorf("%w: job %s is cancelled", errSkipDelivery, jobID)
	}
	return nil
}

// failImage settles a per-image failure. Deterministic errors are written to
// the job state and surfaced as permanent so the message acks; transient
// errors pass through untouched for the retry path. A blown deadline is
// tracked on a detached context before passing through.
func (p *Pipeline) failImage(ctx context.Context, jobID, imageID string, cause error) error {
	kind, deterministic := classifyError(cause)

	if errors.Is(cause, context.DeadlineExceeded) {
		dctx := context.WithoutCancel(ctx)
		_ = p.store.TrackError(dctx, jobID, models.ErrorKindDeadlineExceeded, cause.Error())
		return cause
	}
	if !deterministic {
		return cause
	}
	if kind == "" {
		kind = models.ErrorKindRenderFailed
	}

	if err := p.store.IncrementFailed(ctx, jobID, imageID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: image %s already accounted by job %s", errSkipDelivery, imageID, jobID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: job state %s is gone (%v)", errPermanent, jobID, cause)
		}
		return fmt.Errorf("recording failure for %s: %w", imageID, err)
	}
	_ = p.store.TrackError(ctx, jobID, kind, cause.Error())

	return fmt.Errorf("%w: %v", errPermanent, cause)
}

// settleCompletion records one finished derivative on the job state and
// advances the matching background-job stage. An ErrDuplicate means another
// delivery won the accounting race after our entry check; the work stands
// and the message is skipped.
func (p *Pipeline) settleCompletion(ctx context.Context, jobID, imageID string, artifactBytes int64, stage string) error {
	err := p.store.IncrementCompleted(ctx, jobID, imageID, artifactBytes)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: image %s already accounted by job %s", errSkipDelivery, imageID, jobID)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: job state %s is gone", errPermanent, jobID)
	case err != nil:
		return fmt.Errorf("recording completion for %s: %w", imageID, err)
	}

	bgID := models.BackgroundJobIDFor(jobID)
	if serr := p.store.AtomicIncrementStage(ctx, bgID, stage, 1); serr != nil {
		// Stage counters are operator telemetry; the job state is the truth.
		logging.Debug("Advancing %s stage on %s: %v", stage, bgID, serr)
	}
	return nil
}

// discardArtifact removes an artifact whose database push turned out to be
// redundant, returning its bytes to the folder. Best effort.
func (p *Pipeline) discardArtifact(ctx context.Context, a *cachefolder.Artifact) {
	if err := p.alloc.Discard(ctx, a); err != nil {
		logging.Warn("Discarding redundant artifact %s: %v", a.StoragePath, err)
	}
}

// reconcileDuplicate settles the artifact of a push that lost the embedding
// race. Artifact names are deterministic, so the racing deliveries usually
// land on the same path: our write rewrote the surviving record's file with
// identical bytes, and only the reservation is returned. Removal is reserved
// for the case where the surviving record provably lives elsewhere.
func (p *Pipeline) reconcileDuplicate(ctx context.Context, a *cachefolder.Artifact, survivorPath string) {
	if survivorPath != "" && survivorPath != a.StoragePath {
		p.discardArtifact(ctx, a)
		return
	}
	if err := p.alloc.Release(ctx, a.FolderID, a.Size); err != nil {
		logging.Warn("Releasing duplicate reservation on folder %s: %v", a.FolderID, err)
	}
}

// survivingThumbnailPath looks up the storage path the collection already
// references for one (image, width, height) thumbnail. Empty when the
// lookup fails; reconcileDuplicate then keeps the file.
func (p *Pipeline) survivingThumbnailPath(ctx context.Context, collectionID, imageID string, width, height int) string {
	col, err := p.store.GetCollection(ctx, collectionID)
	if err != nil {
		return ""
	}
	for _, t := range col.Thumbnails {
		if t.ImageID == imageID && t.Width == width && t.Height == height {
			return t.StoragePath
		}
	}
	return ""
}

// survivingCachePath looks up the storage path the collection already
// references for one image's cache derivative.
func (p *Pipeline) survivingCachePath(ctx context.Context, collectionID, imageID string) string {
	col, err := p.store.GetCollection(ctx, collectionID)
	if err != nil {
		return ""
	}
	for _, c := range col.CacheImages {
		if c.ImageID == imageID {
			return c.StoragePath
		}
	}
	return ""
}
