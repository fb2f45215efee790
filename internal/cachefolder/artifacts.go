package cachefolder

import (
	"context"
	"fmt"
	"path/filepath"

	"imageviewer-pipeline/internal/filesystem"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/metrics"
)

// Artifact kinds, used for metrics labels and logging.
const (
	KindThumbnail = "thumbnail"
	KindCache     = "cache"
)

// Artifact is one derivative file persisted to a cache folder.
type Artifact struct {
	FolderID    string
	StoragePath string
	Size        int64
}

// ThumbnailFileName builds the on-disk name for a thumbnail artifact.
func ThumbnailFileName(imageID string, width, height int, format mediatypes.ImageFormat) string {
	return fmt.Sprintf("%s_thumb_%dx%d%s", imageID, width, height, format.Extension())
}

// CacheFileName builds the on-disk name for a cache artifact.
func CacheFileName(imageID string, width, height, quality int, format mediatypes.ImageFormat) string {
	return fmt.Sprintf("%s_%dx%d_q%d%s", imageID, width, height, quality, format.Extension())
}

// artifactPath resolves the absolute path of an artifact inside this
// placement's folder. Artifacts are grouped per collection.
func (p *Placement) artifactPath(collectionID, fileName string) string {
	return filepath.Join(p.FolderPath, collectionID, fileName)
}

// Write allocates capacity for data, writes it under
// <folder>/<collectionID>/<fileName>, and returns the resulting artifact.
// A failed write releases the reservation before returning.
func (a *Allocator) Write(ctx context.Context, kind, collectionID, fileName string, data []byte) (*Artifact, error) {
	placement, err := a.Allocate(ctx, int64(len(data)))
	if err != nil {
		return nil, err
	}

	path := placement.artifactPath(collectionID, fileName)
	retry := filesystem.DefaultRetryConfig()

	werr := filesystem.MkdirAllWithRetry(filepath.Dir(path), 0o755, retry)
	if werr == nil {
		werr = filesystem.WriteFileWithRetry(path, data, 0o644, retry)
	}
	if werr != nil {
		if rerr := a.Release(ctx, placement.FolderID, placement.Size); rerr != nil {
			logging.Warn("Failed to release %d bytes on folder %s after write failure: %v",
				placement.Size, placement.FolderID, rerr)
		}
		metrics.ArtifactWritesTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("writing artifact %s: %w", path, werr)
	}

	metrics.ArtifactWritesTotal.WithLabelValues(kind, "success").Inc()
	metrics.ArtifactBytesWrittenTotal.WithLabelValues(kind).Add(float64(len(data)))

	return &Artifact{
		FolderID:    placement.FolderID,
		StoragePath: path,
		Size:        placement.Size,
	}, nil
}

// Discard removes a written artifact and returns its bytes to the folder.
// Used when the embedded-array push turns out to be a duplicate: the file
// from the earlier delivery already exists, so ours is redundant.
func (a *Allocator) Discard(ctx context.Context, artifact *Artifact) error {
	if err := filesystem.RemoveWithRetry(artifact.StoragePath, filesystem.DefaultRetryConfig()); err != nil {
		return fmt.Errorf("removing artifact %s: %w", artifact.StoragePath, err)
	}
	return a.Release(ctx, artifact.FolderID, artifact.Size)
}
