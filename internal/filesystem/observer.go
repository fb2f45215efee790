package filesystem

// Observer receives events from the retry wrappers. The metrics package
// provides the real implementation; the indirection exists because this
// package cannot import metrics without a cycle.
//
// op is the wrapped call ("stat", "open", "readdir", "write", "mkdir",
// "remove", "remove_all") and volume is the mount label resolved for the
// path ("media", "cache" or "unknown").
type Observer interface {
	// Operation records one wrapped call: its total duration with retries
	// and backoff included, and its final outcome.
	Operation(op, volume string, seconds float64, err error)

	// StaleHandle records one ESTALE result from an attempt.
	StaleHandle(op, volume string)

	// RetryScheduled records that an attempt failed stale and another was
	// scheduled.
	RetryScheduled(op, volume string)

	// RetrySucceeded records a call that recovered on a retry.
	RetrySucceeded(op, volume string)

	// RetriesExhausted records a call that stayed stale through every
	// attempt.
	RetriesExhausted(op, volume string)
}

// nopObserver drops every event. It stands in until SetObserver is called,
// which keeps tests and tools that never wire metrics free of guards.
type nopObserver struct{}

func (nopObserver) Operation(string, string, float64, error) {}
func (nopObserver) StaleHandle(string, string)               {}
func (nopObserver) RetryScheduled(string, string)            {}
func (nopObserver) RetrySucceeded(string, string)            {}
func (nopObserver) RetriesExhausted(string, string)          {}

var defaultObserver Observer = nopObserver{}

// SetObserver installs the process-wide observer. Call once at startup,
// before the first consumer touches a volume.
func SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	defaultObserver = o
}

func observe() Observer {
	return defaultObserver
}
