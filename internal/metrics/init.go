package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	queues := []string{
		"collection.creation",
		"collection.scan",
		"image.processing",
		"thumbnail.generation",
		"cache.generation",
	}

	// --- Broker and pipeline metrics (per queue) ---
	for _, q := range queues {
		BrokerPublishedTotal.WithLabelValues(q, "success")
		BrokerPublishedTotal.WithLabelValues(q, "error")
		BrokerConsumedTotal.WithLabelValues(q)
		BrokerAckedTotal.WithLabelValues(q)
		BrokerRequeuedTotal.WithLabelValues(q)
		BrokerDeadLetteredTotal.WithLabelValues(q)
		BrokerRedeliveredTotal.WithLabelValues(q)
		BrokerQueueDepth.WithLabelValues(q)

		for _, outcome := range []string{"success", "failed", "skipped", "retried", "dead_lettered"} {
			PipelineMessagesTotal.WithLabelValues(q, outcome)
		}
		PipelineHandlerDuration.WithLabelValues(q)
		PipelineHandlerTimeouts.WithLabelValues(q)
		PipelineConsumersActive.WithLabelValues(q)

		ResumeMessagesRequeuedTotal.WithLabelValues(q)
	}
	BrokerQueueDepth.WithLabelValues("imageviewer.dead-letter")

	// --- Archive metrics (per container format) ---
	for _, format := range []string{"directory", "zip", "7z", "rar", "tar"} {
		ArchiveEnumerationsTotal.WithLabelValues(format, "success")
		ArchiveEnumerationsTotal.WithLabelValues(format, "error")
		ArchiveEnumerationDuration.WithLabelValues(format)
		ArchiveEntryReadsTotal.WithLabelValues(format, "success")
		ArchiveEntryReadsTotal.WithLabelValues(format, "error")
		ArchiveEntryBytes.WithLabelValues(format)
	}

	// --- Render metrics (per derivative kind) ---
	for _, kind := range []string{"thumbnail", "cache"} {
		for _, status := range []string{"success", "decode_error", "encode_error", "unsupported"} {
			RenderOperationsTotal.WithLabelValues(kind, status)
		}
		RenderDuration.WithLabelValues(kind)
		RenderOutputBytes.WithLabelValues(kind)

		ArtifactWritesTotal.WithLabelValues(kind, "success")
		ArtifactWritesTotal.WithLabelValues(kind, "error")
		ArtifactBytesWrittenTotal.WithLabelValues(kind)
	}

	// --- Cache allocation outcomes ---
	CacheAllocationsTotal.WithLabelValues("ok")
	CacheAllocationsTotal.WithLabelValues("no_capacity")

	// --- High-traffic store operations ---
	for _, op := range []string{
		"atomic_add_image", "atomic_add_thumbnails", "atomic_add_cache_images",
		"increment_completed", "increment_failed", "increment_skipped",
		"is_processed", "reserve_bytes", "release_bytes",
	} {
		StoreOperationsTotal.WithLabelValues(op, "success")
		StoreOperationsTotal.WithLabelValues(op, "error")
		StoreOperationDuration.WithLabelValues(op)
	}

	// --- Filesystem metrics (per operation x volume) ---
	volumes := []string{"media", "cache", "unknown"}
	fsOps := []string{"stat", "open", "readdir", "write", "mkdir", "remove", "remove_all"}

	for _, op := range fsOps {
		for _, vol := range volumes {
			FilesystemOperationDuration.WithLabelValues(op, vol)
			FilesystemOperationErrors.WithLabelValues(op, vol)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
		}
	}
}
