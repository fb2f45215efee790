// Package startup handles daemon initialization, configuration loading,
// and startup/shutdown logging.
//
// This package centralizes all configuration and provides consistent
// logging throughout the daemon lifecycle.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig].
// The following environment variables are supported:
//
//   - AMQP_HOSTNAME: RabbitMQ host (default: localhost)
//   - AMQP_PORT: RabbitMQ port (default: 5672)
//   - AMQP_USERNAME / AMQP_PASSWORD: broker credentials (default: guest/guest)
//   - AMQP_VHOST: broker virtual host (default: /)
//   - AMQP_PREFETCH_COUNT: unacked deliveries per consumer channel (default: 100)
//   - AMQP_MAX_RETRY_COUNT: republish attempts before dead-lettering (default: 3)
//   - AMQP_MESSAGE_TIMEOUT_HOURS: per-queue message TTL (default: 24)
//   - AMQP_MAX_QUEUE_LENGTH: per-queue length cap (default: 50000000)
//   - AMQP_MESSAGE_BATCH_SIZE: concurrent fan-out publish bound (default: 100)
//   - MONGO_URI: MongoDB connection string (default: mongodb://localhost:27017)
//   - MONGO_DATABASE: database name (default: imageviewer)
//   - MONGO_CONNECT_TIMEOUT / MONGO_SOCKET_TIMEOUT: Go durations (defaults: 10s, 1m)
//   - MONGO_MAX_POOL_SIZE / MONGO_MIN_POOL_SIZE: connection pool bounds (defaults: 100, 0)
//   - MONGO_RETRY_WRITES: enable retryable writes (default: true)
//   - WORKER_CONCURRENCY: consumers per queue (default: 8)
//   - HANDLER_DEADLINE_SECONDS: per-delivery processing deadline (default: 600)
//   - STALE_JOB_THRESHOLD_SECONDS: no-progress window before a job reads
//     stalled (default: 300)
//   - RETENTION_DAYS: completed job state retention (default: 30)
//   - PIPELINE_FANOUT_STAGE: route scans through the image.processing stage
//     (default: false)
//   - MEDIA_ROOTS: comma-separated media mount roots for volume labeling
//     (default: none)
//   - MAX_IMAGE_SIZE_BYTES: loose file size cap (default: 500 MiB)
//   - MAX_ARCHIVE_ENTRY_SIZE_BYTES: archive member size cap (default: 20 GiB)
//   - PORT: operator API port (default: 8080)
//   - METRICS_PORT: Prometheus metrics port (default: 9090)
//   - METRICS_ENABLED: enable or disable the metrics server (default: true)
//   - LOG_HEALTH_CHECKS: log probe requests (default: true)
//   - LOG_LEVEL / DEBUG: logging level
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// # Lifecycle Logging
//
// The package provides structured logging functions for consistent output:
//   - [LogStoreInit] / [LogIndexesEnsured]: MongoDB connection and index setup
//   - [LogBrokerInit] / [LogTopologyDeclared]: RabbitMQ connection and topology
//   - [LogRenderInit]: libvips availability
//   - [LogResumeInit] / [LogResumeComplete]: crash recovery pass
//   - [LogPipelineInit] / [LogPipelineStarted]: consumer pool startup
//   - [LogMonitorStarted]: progress monitor startup
//   - [LogHTTPRoutes]: registered HTTP routes (debug level)
//   - [LogServerStarted]: server endpoints and startup duration
//   - [LogShutdownInitiated] / [LogShutdownComplete]: graceful shutdown
package startup
