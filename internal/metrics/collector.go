package metrics

import (
	"context"
	"time"

	"imageviewer-pipeline/internal/logging"
)

// FolderStats is the per-cache-folder snapshot used by the collector.
type FolderStats struct {
	Name         string
	UsedBytes    int64
	MaxSizeBytes int64
	Active       bool
}

// Stats holds one snapshot of the system-wide statistics.
type Stats struct {
	Collections    int64
	Images         int64
	ImageBytes     int64
	Thumbnails     int64
	ThumbnailBytes int64
	CacheFiles     int64
	CacheBytes     int64

	ActiveJobs    int64
	CompletedJobs int64
	FailedJobs    int64

	Folders     []FolderStats
	QueueDepths map[string]int64
}

// StatsProvider supplies statistics snapshots for the collector. Gathering
// hits MongoDB and the broker, so it is context-aware and can fail.
type StatsProvider interface {
	GetStats(ctx context.Context) (Stats, error)
}

// Collector periodically snapshots system statistics and fans them out to
// the library, job, cache-folder and queue-depth gauges.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stop     chan struct{}
}

// NewCollector builds a collector that refreshes every interval.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the refresh loop. The gauges update once right away, so
// the first scrape after boot is already populated.
func (c *Collector) Start() {
	go c.run()
}

// Stop ends the refresh loop.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) run() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stop:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := c.provider.GetStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	CollectionsTotal.Set(float64(stats.Collections))
	ImagesTotal.Set(float64(stats.Images))
	ImageBytesTotal.Set(float64(stats.ImageBytes))
	ThumbnailsTotal.Set(float64(stats.Thumbnails))
	ThumbnailBytesTotal.Set(float64(stats.ThumbnailBytes))
	CacheFilesTotal.Set(float64(stats.CacheFiles))
	CacheBytesTotal.Set(float64(stats.CacheBytes))

	JobsActive.Set(float64(stats.ActiveJobs))
	JobsCompleted.Set(float64(stats.CompletedJobs))
	JobsFailed.Set(float64(stats.FailedJobs))

	for _, folder := range stats.Folders {
		CacheFolderCapacityBytes.WithLabelValues(folder.Name).Set(float64(folder.MaxSizeBytes))
		CacheFolderUsedBytes.WithLabelValues(folder.Name).Set(float64(folder.UsedBytes))
		active := 0.0
		if folder.Active {
			active = 1.0
		}
		CacheFolderActive.WithLabelValues(folder.Name).Set(active)
	}

	for queue, depth := range stats.QueueDepths {
		BrokerQueueDepth.WithLabelValues(queue).Set(float64(depth))
	}

	logging.Debug("Metrics collected: collections=%d, images=%d, activeJobs=%d, folders=%d",
		stats.Collections, stats.Images, stats.ActiveJobs, len(stats.Folders))
}
