/*
Package filesystem wraps the os calls the pipeline aims at NFS mounts with
a retry loop for stale file handles.

Media volumes and cache folders are commonly NFS exports. When the server
reboots or a mount is rebalanced mid-operation, clients get ESTALE (errno
116) on handles they still hold, and simply repeating the call almost
always succeeds. Each wrapper (StatWithRetry, OpenWithRetry,
ReadDirWithRetry, WriteFileWithRetry, MkdirAllWithRetry, RemoveWithRetry,
RemoveAllWithRetry) retries only that error, with exponential backoff, and
surfaces every other error unchanged on the first attempt.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

DefaultRetryConfig allows three retries backing off from 50ms toward a
500ms cap, enough to ride out momentary staleness during failovers without
stalling a consumer for long. Callers with different tolerances pass their
own RetryConfig.

# Observability

Every operation reports to the package Observer (see SetObserver): the
duration and outcome, stale handles encountered, retries scheduled and
their final fate. The metrics package implements the Observer on
Prometheus counters and histograms. Paths are attributed to volumes
("media", "cache" or "unknown") by the resolver installed with
SetDefaultVolumeResolver; the daemon builds it at boot from MEDIA_ROOTS
and the registered cache folders.

Used by internal/archive for reading collection containers, by
internal/cachefolder for artifact writes, and by cmd/pipectl for cache
maintenance.
*/
package filesystem
