package metrics

import "imageviewer-pipeline/internal/filesystem"

// fsObserver feeds filesystem retry events into the Prometheus collectors
// declared in metrics.go.
type fsObserver struct{}

// NewFilesystemObserver returns the observer main installs with
// filesystem.SetObserver at startup.
func NewFilesystemObserver() filesystem.Observer {
	return fsObserver{}
}

func (fsObserver) Operation(op, volume string, seconds float64, err error) {
	FilesystemOperationDuration.WithLabelValues(op, volume).Observe(seconds)
	if err != nil {
		FilesystemOperationErrors.WithLabelValues(op, volume).Inc()
	}
}

func (fsObserver) StaleHandle(op, volume string) {
	FilesystemStaleErrors.WithLabelValues(op, volume).Inc()
}

func (fsObserver) RetryScheduled(op, volume string) {
	FilesystemRetryAttempts.WithLabelValues(op, volume).Inc()
}

func (fsObserver) RetrySucceeded(op, volume string) {
	FilesystemRetrySuccess.WithLabelValues(op, volume).Inc()
}

func (fsObserver) RetriesExhausted(op, volume string) {
	FilesystemRetryFailures.WithLabelValues(op, volume).Inc()
}
