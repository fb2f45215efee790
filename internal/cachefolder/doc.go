// Package cachefolder places derivative artifacts across a pool of cache
// folders with per-folder capacity limits.
//
// # Allocation
//
// Folders are ranked by priority (lower first), ties broken by remaining
// capacity. Capacity is reserved through a conditional update on the folder
// document, so a reservation either fits under maxSizeBytes or is rejected;
// reading the snapshot and reserving are never assumed to be atomic
// together. Workers that lose a reservation race fall through to the next
// candidate folder and eventually refetch the snapshot after a brief
// jittered pause.
//
// When no active folder can fit the artifact, Allocate returns
// [ErrNoCapacity]. Callers record the image as failed with a no-capacity
// error kind and move on; the pipeline never blocks waiting for space.
//
// # Artifact Layout
//
// Artifacts are grouped per collection inside each folder:
//
//	<folder.path>/<collectionId>/<imageId>_thumb_<w>x<h>.<ext>       thumbnails
//	<folder.path>/<collectionId>/<imageId>_<w>x<h>_q<quality>.<ext>  cache images
//
// Paths are stable: downstream services resolve artifacts by the
// storagePath recorded in the collection's embedded entries, never by
// recomputing the layout.
//
// # Failure Handling
//
// Write releases its reservation when the filesystem write fails, and
// Discard removes a written file and returns its bytes when the database
// push turns out to be a duplicate of an earlier delivery. Both paths keep
// currentSizeBytes consistent with the bytes actually on disk.
package cachefolder
