package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Store metrics
var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_store_operations_total",
			Help: "Total number of MongoDB store operations",
		},
		[]string{"operation", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_store_operation_duration_seconds",
			Help:    "MongoDB store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// Broker metrics
var (
	BrokerPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_published_total",
			Help: "Total number of messages published to RabbitMQ",
		},
		[]string{"queue", "status"},
	)

	BrokerConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_consumed_total",
			Help: "Total number of messages delivered to consumers",
		},
		[]string{"queue"},
	)

	BrokerAckedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_acked_total",
			Help: "Total number of messages acknowledged",
		},
		[]string{"queue"},
	)

	BrokerRequeuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_requeued_total",
			Help: "Total number of messages republished for retry",
		},
		[]string{"queue"},
	)

	BrokerDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_dead_lettered_total",
			Help: "Total number of messages rejected to the dead-letter exchange",
		},
		[]string{"queue"},
	)

	BrokerRedeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_redelivered_total",
			Help: "Total number of deliveries flagged as redelivered by the broker",
		},
		[]string{"queue"},
	)

	BrokerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imageviewer_broker_queue_depth",
			Help: "Number of messages waiting in each queue",
		},
		[]string{"queue"},
	)

	BrokerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_broker_reconnects_total",
			Help: "Total number of RabbitMQ reconnect attempts",
		},
	)

	BrokerConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_broker_connection_up",
			Help: "Whether the RabbitMQ connection is established (1 = up, 0 = down)",
		},
	)
)

// Pipeline worker metrics
var (
	PipelineMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_pipeline_messages_total",
			Help: "Total number of pipeline messages handled by queue and outcome",
		},
		[]string{"queue", "outcome"}, // "success", "failed", "skipped", "retried", "dead_lettered"
	)

	PipelineHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_pipeline_handler_duration_seconds",
			Help:    "Pipeline message handler duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"queue"},
	)

	PipelineHandlerTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_pipeline_handler_timeouts_total",
			Help: "Total number of handlers that hit the processing deadline",
		},
		[]string{"queue"},
	)

	PipelineConsumersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imageviewer_pipeline_consumers_active",
			Help: "Number of consumer goroutines currently running per queue",
		},
		[]string{"queue"},
	)
)

// Archive metrics
var (
	ArchiveEnumerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_archive_enumerations_total",
			Help: "Total number of collection enumerations by container format",
		},
		[]string{"format", "status"},
	)

	ArchiveEnumerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_archive_enumeration_duration_seconds",
			Help:    "Collection enumeration duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"format"},
	)

	ArchiveEntryReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_archive_entry_reads_total",
			Help: "Total number of entry reads by container format",
		},
		[]string{"format", "status"},
	)

	ArchiveEntryBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_archive_entry_bytes",
			Help:    "Size of entries read from containers in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1 KiB .. 256 MiB
		},
		[]string{"format"},
	)
)

// Render metrics
var (
	RenderOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_render_operations_total",
			Help: "Total number of derivative renders by kind and status",
		},
		[]string{"kind", "status"}, // kind: "thumbnail" or "cache"
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_render_duration_seconds",
			Help:    "Derivative render duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	RenderOutputBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_render_output_bytes",
			Help:    "Size of rendered derivative artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1 KiB .. 16 MiB
		},
		[]string{"kind"},
	)
)

// Cache storage metrics
var (
	CacheFolderCapacityBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imageviewer_cache_folder_capacity_bytes",
			Help: "Configured capacity of each cache folder in bytes",
		},
		[]string{"folder"},
	)

	CacheFolderUsedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imageviewer_cache_folder_used_bytes",
			Help: "Reserved bytes in each cache folder",
		},
		[]string{"folder"},
	)

	CacheFolderActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imageviewer_cache_folder_active",
			Help: "Whether each cache folder accepts new artifacts (1 = active, 0 = inactive)",
		},
		[]string{"folder"},
	)

	CacheAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_cache_allocations_total",
			Help: "Total number of cache folder allocation attempts",
		},
		[]string{"status"}, // "ok" or "no_capacity"
	)

	CacheAllocationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_cache_allocation_retries_total",
			Help: "Total number of allocation retries after losing a reservation race",
		},
	)

	ArtifactWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_artifact_writes_total",
			Help: "Total number of artifact files written by kind",
		},
		[]string{"kind", "status"},
	)

	ArtifactBytesWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_artifact_bytes_written_total",
			Help: "Total artifact bytes written to cache folders by kind",
		},
		[]string{"kind"},
	)
)

// Job metrics
var (
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_jobs_active",
			Help: "Number of jobs currently pending, running, or paused",
		},
	)

	JobsCompleted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_jobs_completed",
			Help: "Number of jobs in the completed state",
		},
	)

	JobsFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_jobs_failed",
			Help: "Number of jobs in the failed state",
		},
	)

	JobsStalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_jobs_stalled",
			Help: "Number of running jobs with no recent progress",
		},
	)

	JobSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_job_sweeps_total",
			Help: "Total number of job monitor sweep passes",
		},
	)

	JobsSweptCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_jobs_swept_completed_total",
			Help: "Total number of jobs flipped to completed by the monitor sweep",
		},
	)

	JobStatesPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_job_states_purged_total",
			Help: "Total number of finished job state documents removed by retention",
		},
	)
)

// Resume metrics
var (
	ResumeRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_resume_runs_total",
			Help: "Total number of startup resume passes",
		},
	)

	ResumeJobsResumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_resume_jobs_resumed_total",
			Help: "Total number of incomplete jobs picked up by resume",
		},
	)

	ResumeMessagesRequeuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_resume_messages_requeued_total",
			Help: "Total number of messages re-enqueued by resume, by queue",
		},
		[]string{"queue"},
	)
)

// Library metrics
var (
	CollectionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_collections_total",
			Help: "Total number of collections",
		},
	)

	ImagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_images_total",
			Help: "Total number of enumerated source images",
		},
	)

	ImageBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_image_bytes_total",
			Help: "Total size of enumerated source images in bytes",
		},
	)

	ThumbnailsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_thumbnails_total",
			Help: "Total number of generated thumbnails",
		},
	)

	ThumbnailBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_thumbnail_bytes_total",
			Help: "Total size of generated thumbnails in bytes",
		},
	)

	CacheFilesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_cache_files_total",
			Help: "Total number of generated cache images",
		},
	)

	CacheBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_cache_bytes_total",
			Help: "Total size of generated cache images in bytes",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_memory_usage_ratio",
			Help: "Heap allocation as a ratio of the configured limit (0.0-1.0)",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageviewer_memory_paused",
			Help: "Whether processing is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageviewer_memory_gc_pauses_total",
			Help: "Total number of times processing was paused for memory pressure",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageviewer_filesystem_operation_duration_seconds",
			Help:    "Duration of filesystem operations in seconds, retries and backoff included",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 30},
		},
		[]string{"operation", "volume"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_filesystem_operation_errors_total",
			Help: "Total number of filesystem operations that returned an error",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_filesystem_retry_attempts_total",
			Help: "Total number of filesystem retry attempts",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that exhausted their retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageviewer_filesystem_stale_errors_total",
			Help: "Total number of stale NFS file handle errors encountered",
		},
		[]string{"operation", "volume"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imageviewer_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
