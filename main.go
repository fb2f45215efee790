package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imageviewer-pipeline/internal/archive"
	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/cachefolder"
	"imageviewer-pipeline/internal/filesystem"
	"imageviewer-pipeline/internal/handlers"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/memory"
	"imageviewer-pipeline/internal/metrics"
	"imageviewer-pipeline/internal/middleware"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/monitor"
	"imageviewer-pipeline/internal/pipeline"
	"imageviewer-pipeline/internal/render"
	"imageviewer-pipeline/internal/resume"
	"imageviewer-pipeline/internal/startup"
	"imageviewer-pipeline/internal/store"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

const monitorSweepInterval = 30 * time.Second

func main() {
	startTime := time.Now()

	if err := godotenv.Load(); err != nil {
		logging.Debug("No .env file loaded: %v", err)
	}

	// Set GOMEMLIMIT from container limits before large allocations happen
	memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Background loops stop when this context ends
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// Connect document store
	storeStart := time.Now()
	connectCtx, cancelConnect := context.WithTimeout(runCtx, config.MongoConnectTimeout+5*time.Second)
	st, err := store.Connect(connectCtx, store.Config{
		URI:            config.MongoURI,
		Database:       config.MongoDatabase,
		ConnectTimeout: config.MongoConnectTimeout,
		SocketTimeout:  config.MongoSocketTimeout,
		MaxPoolSize:    config.MongoMaxPoolSize,
		MinPoolSize:    config.MongoMinPoolSize,
		RetryWrites:    config.MongoRetryWrites,
	})
	cancelConnect()
	if err != nil {
		startup.LogFatal("Failed to connect to MongoDB: %v", err)
	}
	startup.LogStoreInit(config.MongoDatabase, time.Since(storeStart))

	indexStart := time.Now()
	indexCtx, cancelIndex := context.WithTimeout(runCtx, time.Minute)
	err = st.EnsureIndexes(indexCtx)
	cancelIndex()
	if err != nil {
		startup.LogFatal("Failed to ensure indexes: %v", err)
	}
	startup.LogIndexesEnsured(time.Since(indexStart))

	// One-time settings migration; failure is not fatal
	migrateCtx, cancelMigrate := context.WithTimeout(runCtx, time.Minute)
	if removed, err := st.CleanupLegacySettings(migrateCtx); err != nil {
		logging.Warn("  Legacy settings cleanup failed: %v", err)
	} else if removed > 0 {
		logging.Info("  [OK] Removed %d legacy settings", removed)
	}
	cancelMigrate()

	// Volume labels for filesystem metrics: registered cache folders plus
	// configured media mounts. Folders registered after boot label as
	// "unknown" until the next restart.
	volumeCtx, cancelVolume := context.WithTimeout(runCtx, time.Minute)
	folders, err := st.ListCacheFolders(volumeCtx)
	cancelVolume()
	if err != nil {
		logging.Warn("  Could not list cache folders for volume labels: %v", err)
	}
	volumes := map[string][]string{"media": config.MediaRoots}
	for _, f := range folders {
		volumes["cache"] = append(volumes["cache"], f.Path)
	}
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(volumes))

	// Connect message broker and declare topology
	brokerStart := time.Now()
	dialCtx, cancelDial := context.WithTimeout(runCtx, 2*time.Minute)
	bk, err := broker.Connect(dialCtx, broker.Config{
		Hostname:       config.AMQPHostname,
		Port:           config.AMQPPort,
		Username:       config.AMQPUsername,
		Password:       config.AMQPPassword,
		VHost:          config.AMQPVHost,
		PrefetchCount:  config.PrefetchCount,
		MaxRetryCount:  config.MaxRetryCount,
		MessageTTL:     config.MessageTimeout,
		MaxQueueLength: config.MaxQueueLength,
	})
	cancelDial()
	if err != nil {
		startup.LogFatal("Failed to connect to RabbitMQ: %v", err)
	}
	startup.LogBrokerInit(config.AMQPHostname, config.AMQPPort, time.Since(brokerStart))

	if err := bk.DeclareTopology(); err != nil {
		startup.LogFatal("Failed to declare broker topology: %v", err)
	}
	startup.LogTopologyDeclared(len(broker.Queues()))

	// Image render backend
	if err := render.InitVips(); err != nil {
		logging.Debug("libvips init: %v", err)
	}
	startup.LogRenderInit(render.IsVipsAvailable())

	// Memory backpressure monitor
	mem := memory.NewMonitor(memory.DefaultConfig())
	mem.Start()

	// Metrics collection and scrape endpoint
	var (
		collector  *metrics.Collector
		metricsSrv *http.Server
	)
	if config.MetricsEnabled {
		metrics.InitializeMetrics()
		info := startup.GetBuildInfo()
		metrics.SetAppInfo(info.Version, info.Commit, info.GoVersion)
		filesystem.SetObserver(metrics.NewFilesystemObserver())

		collector = metrics.NewCollector(&statsProvider{store: st, broker: bk}, monitorSweepInterval)
		collector.Start()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", handlers.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:        ":" + config.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Crash recovery: republish the unfinished remainder of interrupted jobs
	// before consumers start pulling new work.
	startup.LogResumeInit()
	resumeStart := time.Now()
	resumeCtx, cancelResume := context.WithTimeout(runCtx, 10*time.Minute)
	if err := resume.New(st, bk).Run(resumeCtx); err != nil {
		logging.Error("Crash resume incomplete: %v", err)
	}
	cancelResume()
	startup.LogResumeComplete(time.Since(resumeStart))

	// Queue consumers
	reader := archive.NewReader(config.MaxArchiveEntrySizeBytes, config.MaxImageSizeBytes)
	alloc := cachefolder.NewAllocator(st)
	pipe := pipeline.New(pipeline.Config{
		ConsumerCount:   config.WorkerConcurrency,
		HandlerDeadline: config.HandlerDeadline,
		PublishGate:     config.MessageBatchSize,
		FanOutStage:     config.FanOutStage,
	}, st, bk, reader, alloc, mem)

	startup.LogPipelineInit(config.WorkerConcurrency, config.HandlerDeadline)
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := pipe.Run(runCtx); err != nil {
			logging.Error("Pipeline stopped: %v", err)
		}
	}()
	startup.LogPipelineStarted()

	// Job progress monitor
	mon := monitor.New(monitor.Config{
		Interval:       monitorSweepInterval,
		StaleThreshold: config.StaleJobThreshold,
		Retention:      config.Retention,
	}, st, mem)
	go mon.Run(runCtx)
	startup.LogMonitorStarted(monitorSweepInterval)

	// Operator API
	h := handlers.New(st, bk, mon)
	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(router)
	meteredHandler := middleware.Metrics(middleware.DefaultMetricsConfig())(loggedHandler)
	handler := middleware.Compression()(meteredHandler)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	d := &daemon{
		srv:          srv,
		metricsSrv:   metricsSrv,
		collector:    collector,
		mem:          mem,
		broker:       bk,
		store:        st,
		cancelRun:    cancelRun,
		pipelineDone: pipelineDone,
		done:         make(chan struct{}),
	}
	go handleShutdown(d)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}

	<-d.done
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Probe and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Operator API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	api.HandleFunc("/queues", h.GetQueues).Methods("GET")
	api.HandleFunc("/statistics", h.GetStatistics).Methods("GET")

	return r
}

// daemon bundles everything handleShutdown needs to unwind.
type daemon struct {
	srv          *http.Server
	metricsSrv   *http.Server
	collector    *metrics.Collector
	mem          *memory.Monitor
	broker       *broker.Broker
	store        *store.Store
	cancelRun    context.CancelFunc
	pipelineDone <-chan struct{}
	done         chan struct{}
}

func handleShutdown(d *daemon) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping queue consumers")
	d.cancelRun()
	select {
	case <-d.pipelineDone:
		startup.LogShutdownStepComplete("Queue consumers stopped")
	case <-ctx.Done():
		logging.Warn("Timed out waiting for consumers to stop")
	}

	if d.collector != nil {
		startup.LogShutdownStep("Stopping metrics collector")
		d.collector.Stop()
		startup.LogShutdownStepComplete("Metrics collector stopped")
	}

	startup.LogShutdownStep("Stopping memory monitor")
	d.mem.Stop()
	startup.LogShutdownStepComplete("Memory monitor stopped")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := d.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if d.metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Closing broker connection")
	if err := d.broker.Close(); err != nil {
		logging.Warn("Broker close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Broker connection closed")
	}

	startup.LogShutdownStep("Closing store connection")
	if err := d.store.Close(ctx); err != nil {
		logging.Warn("Store close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Store connection closed")
	}

	render.ShutdownVips()

	startup.LogShutdownComplete()
	close(d.done)
}

// statsProvider assembles the collector's snapshot from the store's
// aggregates and live queue depths.
type statsProvider struct {
	store  *store.Store
	broker *broker.Broker
}

func (p *statsProvider) GetStats(ctx context.Context) (metrics.Stats, error) {
	sys, err := p.store.GetSystemStatistics(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}

	folders, err := p.store.ListCacheFolders(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}

	stats := assembleStats(sys, folders)

	// Queue depths are best-effort; a broker outage must not hide the
	// store-backed gauges.
	if p.broker.IsConnected() {
		if depths, err := p.broker.QueueDepths(); err == nil {
			stats.QueueDepths = depths
		}
	}

	return stats, nil
}

func assembleStats(sys *store.SystemStatistics, folders []models.CacheFolder) metrics.Stats {
	stats := metrics.Stats{
		Collections:    sys.TotalCollections,
		Images:         sys.TotalImages,
		ImageBytes:     sys.TotalSize,
		Thumbnails:     sys.TotalThumbnails,
		ThumbnailBytes: sys.TotalThumbnailSize,
		CacheFiles:     sys.TotalCacheFiles,
		CacheBytes:     sys.TotalCacheSize,
		ActiveJobs:     sys.ActiveJobs,
		CompletedJobs:  sys.CompletedJobs,
		FailedJobs:     sys.FailedJobs,
	}

	for _, f := range folders {
		stats.Folders = append(stats.Folders, metrics.FolderStats{
			Name:         f.Name,
			UsedBytes:    f.CurrentSizeBytes,
			MaxSizeBytes: f.MaxSizeBytes,
			Active:       f.IsActive,
		})
	}
	return stats
}
