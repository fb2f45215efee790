// Package metrics provides Prometheus instrumentation for the image pipeline.
//
// This package defines and exposes various metrics that can be scraped by Prometheus
// to monitor the health, performance, and behavior of the pipeline. All metrics
// are prefixed with "imageviewer_" to avoid naming collisions with other applications.
//
// # Metric Categories
//
// The metrics are organized into the following categories:
//
// ## HTTP Metrics
//
// Track HTTP request performance and error rates on the API surface:
//   - HTTPRequestsTotal: Counter of total requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// ## Store Metrics
//
// Monitor MongoDB operation performance:
//   - StoreOperationsTotal: Counter of store operations by operation and status
//   - StoreOperationDuration: Histogram of operation duration by operation
//
// A rejected conditional update that classifies as an idempotent duplicate
// is counted as success, not error; duplicates are the normal outcome of
// at-least-once message delivery.
//
// ## Broker Metrics
//
// Track RabbitMQ traffic per queue:
//   - BrokerPublishedTotal: Counter of publishes by queue and status
//   - BrokerConsumedTotal: Counter of deliveries handed to consumers
//   - BrokerAckedTotal: Counter of acknowledged messages
//   - BrokerRequeuedTotal: Counter of messages republished for retry
//   - BrokerDeadLetteredTotal: Counter of messages rejected to the DLX
//   - BrokerRedeliveredTotal: Counter of broker-flagged redeliveries
//   - BrokerQueueDepth: Gauge of messages waiting per queue
//   - BrokerReconnectsTotal: Counter of reconnect attempts
//   - BrokerConnectionUp: Gauge of connection state (1 = up)
//
// ## Pipeline Metrics
//
// Monitor message handling by the queue workers:
//   - PipelineMessagesTotal: Counter by queue and outcome (success/skipped/retried/dead_lettered)
//   - PipelineHandlerDuration: Histogram of handler duration by queue
//   - PipelineHandlerTimeouts: Counter of handlers that hit the deadline
//   - PipelineConsumersActive: Gauge of running consumer goroutines per queue
//
// ## Archive Metrics
//
// Track container enumeration and entry reads:
//   - ArchiveEnumerationsTotal: Counter by container format and status
//   - ArchiveEnumerationDuration: Histogram of enumeration time by format
//   - ArchiveEntryReadsTotal: Counter of entry reads by format and status
//   - ArchiveEntryBytes: Histogram of entry sizes read
//
// ## Render Metrics
//
// Monitor derivative generation:
//   - RenderOperationsTotal: Counter by kind (thumbnail/cache) and status
//   - RenderDuration: Histogram of render time by kind
//   - RenderOutputBytes: Histogram of rendered artifact sizes
//
// ## Cache Storage Metrics
//
// Track cache folder capacity and artifact writes:
//   - CacheFolderCapacityBytes: Gauge of configured capacity per folder
//   - CacheFolderUsedBytes: Gauge of reserved bytes per folder
//   - CacheFolderActive: Gauge of folder availability (1 = active)
//   - CacheAllocationsTotal: Counter of allocation attempts by status
//   - CacheAllocationRetriesTotal: Counter of reservation race retries
//   - ArtifactWritesTotal: Counter of artifact writes by kind and status
//   - ArtifactBytesWrittenTotal: Counter of artifact bytes written by kind
//
// ## Job Metrics
//
// Track job state census and monitor sweeps:
//   - JobsActive, JobsCompleted, JobsFailed: Gauges of the job census
//   - JobsStalled: Gauge of running jobs with no recent progress
//   - JobSweepsTotal: Counter of monitor sweep passes
//   - JobsSweptCompletedTotal: Counter of jobs completed by the sweep
//   - JobStatesPurgedTotal: Counter of job states removed by retention
//
// ## Resume Metrics
//
// Track restart recovery:
//   - ResumeRunsTotal: Counter of resume passes
//   - ResumeJobsResumedTotal: Counter of incomplete jobs picked up
//   - ResumeMessagesRequeuedTotal: Counter of re-enqueued messages by queue
//
// ## Library Metrics
//
// Expose aggregate collection contents (updated by the Collector):
//   - CollectionsTotal, ImagesTotal, ImageBytesTotal
//   - ThumbnailsTotal, ThumbnailBytesTotal
//   - CacheFilesTotal, CacheBytesTotal
//
// ## Memory Metrics
//
// Monitor memory pressure handling:
//   - MemoryUsageRatio: Gauge of heap allocation as ratio of limit (0.0-1.0)
//   - MemoryPaused: Gauge indicating if processing is paused for memory
//   - MemoryGCPauses: Counter of memory pressure pause events
//
// ## Filesystem Metrics
//
// Monitor filesystem operations and NFS retry behavior, labeled by operation
// and volume:
//   - FilesystemOperationDuration: Histogram of wrapped calls, retries included
//   - FilesystemOperationErrors: Counter of calls whose final outcome was an error
//   - FilesystemRetryAttempts, FilesystemRetrySuccess, FilesystemRetryFailures
//   - FilesystemStaleErrors: Counter of stale NFS file handle errors
//
// ## Application Info
//
// Expose build information:
//   - AppInfo: Gauge with version, commit, and Go version labels
//
// # Usage
//
// Metrics are automatically registered with the default Prometheus registry
// using promauto. To expose them, mount the promhttp.Handler() on your
// metrics endpoint:
//
//	import "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// # Recording Metrics
//
// To record metrics from other packages, import this package and use the
// exported metric variables:
//
//	import "imageviewer-pipeline/internal/metrics"
//
//	// Increment a counter
//	metrics.PipelineMessagesTotal.WithLabelValues("image.processing", "success").Inc()
//
//	// Observe a histogram value
//	metrics.RenderDuration.WithLabelValues("thumbnail").Observe(0.123)
//
//	// Set a gauge value
//	metrics.BrokerConnectionUp.Set(1)
//
// # Collector
//
// The package provides a [Collector] type that periodically gathers a
// [Stats] snapshot from a [StatsProvider] and updates the corresponding
// gauges. The provider is typically backed by the MongoDB store and the
// broker's queue inspection:
//
//	collector := metrics.NewCollector(provider, 1*time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Example PromQL queries for common use cases:
//
// Message throughput by queue:
//
//	sum(rate(imageviewer_pipeline_messages_total[5m])) by (queue)
//
// P95 handler duration:
//
//	histogram_quantile(0.95, sum(rate(imageviewer_pipeline_handler_duration_seconds_bucket[5m])) by (le, queue))
//
// Dead-letter rate:
//
//	sum(rate(imageviewer_broker_dead_lettered_total[5m])) /
//	sum(rate(imageviewer_broker_consumed_total[5m]))
//
// Cache folder utilization:
//
//	imageviewer_cache_folder_used_bytes / imageviewer_cache_folder_capacity_bytes
//
// Store operation latency by operation:
//
//	histogram_quantile(0.95, sum(rate(imageviewer_store_operation_duration_seconds_bucket[5m])) by (le, operation))
//
// Memory pressure events:
//
//	rate(imageviewer_memory_gc_pauses_total[1h])
package metrics
