package cachefolder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"imageviewer-pipeline/internal/metrics"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// ErrNoCapacity is returned when no active cache folder can fit an artifact.
var ErrNoCapacity = errors.New("no cache folder has capacity")

// maxAllocateAttempts bounds how often a stale folder snapshot is refetched
// after losing reservation races to other workers.
const maxAllocateAttempts = 5

// FolderStore is the slice of the MongoDB store the allocator needs.
type FolderStore interface {
	ListActiveFolders(ctx context.Context) ([]models.CacheFolder, error)
	ReserveBytes(ctx context.Context, folderID string, size int64) error
	ReleaseBytes(ctx context.Context, folderID string, size int64) error
}

// Placement is one successful capacity reservation. The reserved bytes are
// held until the artifact is written or the placement is released.
type Placement struct {
	FolderID   string
	FolderPath string
	Size       int64
}

// Allocator places derivative artifacts across the cache folder pool.
// Folders are tried in priority order (lower first), ties broken by
// remaining capacity, and each reservation is a conditional update so
// concurrent workers can never oversubscribe a folder.
type Allocator struct {
	store FolderStore
}

// NewAllocator creates an allocator backed by the given folder store.
func NewAllocator(fs FolderStore) *Allocator {
	return &Allocator{store: fs}
}

// Allocate reserves size bytes on the best available folder.
//
// The candidate list is a snapshot; a reservation can be rejected when
// another worker consumed the headroom first. Rejections move on to the
// next candidate, and a fully stale snapshot is refetched after a jittered
// pause, a bounded number of times, before giving up with ErrNoCapacity.
func (a *Allocator) Allocate(ctx context.Context, size int64) (*Placement, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative artifact size %d", size)
	}

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		if attempt > 0 {
			if err := conflictBackoff(ctx); err != nil {
				return nil, err
			}
		}

		folders, err := a.store.ListActiveFolders(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing cache folders: %w", err)
		}

		candidates := 0
		for i := range folders {
			f := &folders[i]
			if f.RemainingBytes() < size {
				continue
			}
			candidates++

			err := a.store.ReserveBytes(ctx, f.ID, size)
			if err == nil {
				metrics.CacheAllocationsTotal.WithLabelValues("ok").Inc()
				return &Placement{FolderID: f.ID, FolderPath: f.Path, Size: size}, nil
			}
			if errors.Is(err, store.ErrConflict) {
				// Lost the race for this folder's headroom.
				metrics.CacheAllocationRetriesTotal.Inc()
				continue
			}
			return nil, err
		}

		if candidates == 0 {
			break
		}
	}

	metrics.CacheAllocationsTotal.WithLabelValues("no_capacity").Inc()
	return nil, ErrNoCapacity
}

// conflictBackoff pauses before the next allocation pass so workers that
// keep losing reservation races to each other spread out instead of
// hammering the folder documents in lockstep.
func conflictBackoff(ctx context.Context) error {
	d := time.Duration(25+rand.Intn(50)) * time.Millisecond
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns reserved bytes to a folder. Used when an artifact write
// fails after its reservation succeeded, and when artifacts are deleted.
func (a *Allocator) Release(ctx context.Context, folderID string, size int64) error {
	return a.store.ReleaseBytes(ctx, folderID, size)
}
