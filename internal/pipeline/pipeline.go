package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go4.org/syncutil"
	"golang.org/x/sync/errgroup"

	"imageviewer-pipeline/internal/archive"
	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/cachefolder"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/memory"
	"imageviewer-pipeline/internal/metrics"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// Sentinel errors classifying handler outcomes. The consumer loop maps them
// to message dispositions; everything else is transient and goes through the
// retry/dead-letter path.
var (
	// errSkipDelivery marks work deliberately not done: duplicate
	// redeliveries, cancelled jobs, collections that no longer exist.
	errSkipDelivery = errors.New("delivery skipped")

	// errPermanent marks deterministic failures already recorded in the job
	// state. Redelivery cannot change the outcome.
	errPermanent = errors.New("permanent failure")
)

// Message outcomes counted by metrics.PipelineMessagesTotal.
const (
	outcomeSuccess      = "success"
	outcomeFailed       = "failed"
	outcomeSkipped      = "skipped"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
)

// Store is the persistence surface the workers drive. *store.Store
// implements it; tests substitute fakes.
type Store interface {
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	GetCollectionSummary(ctx context.Context, id string) (*models.Collection, error)
	GetCollectionByPath(ctx context.Context, path string) (*models.Collection, error)
	CreateCollection(ctx context.Context, c *models.Collection) error
	ClearImageArrays(ctx context.Context, collectionID string) error
	AtomicAddImage(ctx context.Context, collectionID string, img models.EmbeddedImage) error
	AtomicAddThumbnails(ctx context.Context, collectionID string, thumbs []models.EmbeddedThumbnail) (int64, error)
	AtomicAddCacheImages(ctx context.Context, collectionID string, items []models.EmbeddedCache) (int64, error)
	IncrementLibraryStatistics(ctx context.Context, libraryID string, delta models.LibraryStatistics) error
	ResolveDefaults(ctx context.Context) (store.DerivativeDefaults, error)

	CreateJobState(ctx context.Context, js *models.FileProcessingJobState) error
	GetJobState(ctx context.Context, jobID string) (*models.FileProcessingJobState, error)
	IsProcessed(ctx context.Context, jobID, imageID string) (bool, error)
	IsJobCancelled(ctx context.Context, jobID string) (bool, error)
	IncrementCompleted(ctx context.Context, jobID, imageID string, artifactBytes int64) error
	IncrementFailed(ctx context.Context, jobID, imageID string) error
	IncrementSkipped(ctx context.Context, jobID, imageID string) error
	TrackError(ctx context.Context, jobID string, kind models.ErrorKind, message string) error
	IncrementDummyEntries(ctx context.Context, jobID string, n int64) error
	SetTotalImages(ctx context.Context, jobID string, total int64) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus) error
	MarkJobFailed(ctx context.Context, jobID, message string) error

	CreateBackgroundJob(ctx context.Context, job *models.BackgroundJob) error
	GetBackgroundJob(ctx context.Context, id string) (*models.BackgroundJob, error)
	EnsureStage(ctx context.Context, jobID, stage string, totalItems int64) error
	AtomicIncrementStage(ctx context.Context, jobID, stage string, n int64) error
	CompleteStage(ctx context.Context, jobID, stage string) error
}

var _ Store = (*store.Store)(nil)

// messageBus is the broker surface the pipeline uses. *broker.Broker
// implements it.
type messageBus interface {
	Consume(ctx context.Context, queue, consumerTag string) (<-chan amqp.Delivery, error)
	PublishMessage(ctx context.Context, routingKey string, msg any) error
	Ack(queue string, d amqp.Delivery) error
	DeadLetter(queue string, d amqp.Delivery) error
	RetryOrDeadLetter(ctx context.Context, queue string, d amqp.Delivery) (bool, error)
}

var _ messageBus = (*broker.Broker)(nil)

// Config tunes the consumer pool.
type Config struct {
	// ConsumerCount is the number of parallel consumers per queue.
	ConsumerCount int
	// HandlerDeadline bounds one delivery end to end. A handler that
	// overruns is dead-lettered without retry.
	HandlerDeadline time.Duration
	// PublishGate bounds concurrent fan-out publishes during a scan.
	PublishGate int
	// FanOutStage routes scans through image.processing instead of
	// publishing generation messages directly, so deployments can scale the
	// fan-out separately.
	FanOutStage bool
	// ReconnectWait is the pause before re-attaching a consumer after the
	// broker drops its channel.
	ReconnectWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConsumerCount <= 0 {
		c.ConsumerCount = 8
	}
	if c.HandlerDeadline <= 0 {
		c.HandlerDeadline = 10 * time.Minute
	}
	if c.PublishGate <= 0 {
		c.PublishGate = 32
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 5 * time.Second
	}
	return c
}

// handlerFunc processes one delivery body.
type handlerFunc func(ctx context.Context, body []byte) error

// Pipeline owns the consumer goroutines for all five queues.
type Pipeline struct {
	cfg    Config
	store  Store
	bus    messageBus
	reader *archive.Reader
	alloc  *cachefolder.Allocator
	mem    *memory.Monitor
	gate   *syncutil.Gate

	defaults defaultsCache
}

// New assembles a pipeline. mem may be nil when memory backpressure is
// disabled.
func New(cfg Config, st Store, bus messageBus, reader *archive.Reader, alloc *cachefolder.Allocator, mem *memory.Monitor) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		bus:    bus,
		reader: reader,
		alloc:  alloc,
		mem:    mem,
		gate:   syncutil.NewGate(cfg.PublishGate),
	}
}

// Run starts ConsumerCount consumers on every queue and blocks until ctx is
// cancelled and the last consumer has stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	handlers := map[string]handlerFunc{
		broker.QueueCollectionCreation:  p.handleCollectionCreation,
		broker.QueueCollectionScan:      p.handleCollectionScan,
		broker.QueueImageProcessing:     p.handleImageProcessing,
		broker.QueueThumbnailGeneration: p.handleThumbnailGeneration,
		broker.QueueCacheGeneration:     p.handleCacheGeneration,
	}

	g, gctx := errgroup.WithContext(ctx)
	for queue, handler := range handlers {
		for i := 0; i < p.cfg.ConsumerCount; i++ {
			tag := fmt.Sprintf("%s-%d", queue, i)
			g.Go(func() error {
				return p.consume(gctx, queue, tag, handler)
			})
		}
	}

	logging.Info("Pipeline running: %d consumers across %d queues, handler deadline %s",
		p.cfg.ConsumerCount*len(handlers), len(handlers), p.cfg.HandlerDeadline)
	return g.Wait()
}

// consume keeps one consumer attached to queue until ctx ends, re-attaching
// whenever the underlying channel drops.
func (p *Pipeline) consume(ctx context.Context, queue, tag string, handler handlerFunc) error {
	for {
		deliveries, err := p.bus.Consume(ctx, queue, tag)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("Consumer %s failed to attach: %v (retrying in %s)", tag, err, p.cfg.ReconnectWait)
		} else {
			metrics.PipelineConsumersActive.WithLabelValues(queue).Inc()
			for d := range deliveries {
				p.handleDelivery(ctx, queue, d, handler)
			}
			metrics.PipelineConsumersActive.WithLabelValues(queue).Dec()

			if ctx.Err() != nil {
				return nil
			}
			logging.Warn("Consumer %s lost its channel, re-attaching in %s", tag, p.cfg.ReconnectWait)
		}

		select {
		case <-time.After(p.cfg.ReconnectWait):
		case <-ctx.Done():
			return nil
		}
	}
}

// handleDelivery runs one message through its handler and settles it by the
// outcome. Skips and permanent failures ack; a blown deadline dead-letters
// immediately; everything else retries until the budget is spent.
func (p *Pipeline) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler handlerFunc) {
	if p.mem != nil {
		p.mem.WaitIfPaused()
	}

	hctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerDeadline)
	defer cancel()

	start := time.Now()
	err := handler(hctx, d.Body)
	metrics.PipelineHandlerDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		p.settle(queue, d, outcomeSuccess)

	case errors.Is(err, errSkipDelivery):
		logging.Debug("Skipped %s message: %v", queue, err)
		p.settle(queue, d, outcomeSkipped)

	case errors.Is(err, errPermanent):
		logging.Warn("Permanent failure on %s: %v", queue, err)
		p.settle(queue, d, outcomeFailed)

	case ctx.Err() != nil:
		// Shutdown, not a handler verdict. Leave the message unacked so the
		// broker redelivers it to the next process.
		logging.Info("Abandoning %s message during shutdown: %v", queue, err)

	case errors.Is(err, context.DeadlineExceeded):
		metrics.PipelineHandlerTimeouts.WithLabelValues(queue).Inc()
		logging.Error("Handler on %s exceeded %s deadline: %v", queue, p.cfg.HandlerDeadline, err)
		if dlErr := p.bus.DeadLetter(queue, d); dlErr != nil {
			logging.Error("Dead-lettering timed-out %s message: %v", queue, dlErr)
			return
		}
		metrics.PipelineMessagesTotal.WithLabelValues(queue, outcomeDeadLettered).Inc()

	default:
		requeued, rErr := p.bus.RetryOrDeadLetter(ctx, queue, d)
		if rErr != nil {
			logging.Error("Settling failed %s message: %v (handler error: %v)", queue, rErr, err)
			return
		}
		if requeued {
			logging.Warn("Retrying %s message: %v", queue, err)
			metrics.PipelineMessagesTotal.WithLabelValues(queue, outcomeRetried).Inc()
		} else {
			logging.Error("Dead-lettered %s message after retry budget: %v", queue, err)
			metrics.PipelineMessagesTotal.WithLabelValues(queue, outcomeDeadLettered).Inc()
		}
	}
}

// settle acks the delivery and counts the outcome.
func (p *Pipeline) settle(queue string, d amqp.Delivery, outcome string) {
	if err := p.bus.Ack(queue, d); err != nil {
		logging.Error("Acking %s message: %v", queue, err)
		return
	}
	metrics.PipelineMessagesTotal.WithLabelValues(queue, outcome).Inc()
}

// defaultsTTL is how long resolved derivative defaults stay warm before the
// settings collection is consulted again.
const defaultsTTL = 30 * time.Second

type defaultsCache struct {
	mu        sync.Mutex
	value     store.DerivativeDefaults
	fetchedAt time.Time
}

// derivativeDefaults returns the system derivative defaults, cached briefly
// so generation workers do not hit the settings collection per message.
func (p *Pipeline) derivativeDefaults(ctx context.Context) (store.DerivativeDefaults, error) {
	p.defaults.mu.Lock()
	defer p.defaults.mu.Unlock()

	if !p.defaults.fetchedAt.IsZero() && time.Since(p.defaults.fetchedAt) < defaultsTTL {
		return p.defaults.value, nil
	}
	d, err := p.store.ResolveDefaults(ctx)
	if err != nil {
		return d, err
	}
	p.defaults.value = d
	p.defaults.fetchedAt = time.Now()
	return d, nil
}

// collectionTypeForEntry infers how to open an entry path from its container
// segment, sparing generation workers a store round trip per message.
func collectionTypeForEntry(entryPath string) models.CollectionType {
	container, _ := archive.SplitEntryPath(entryPath)
	ext := strings.ToLower(filepath.Ext(container))
	if format := mediatypes.GetArchiveFormat(ext); format != mediatypes.ArchiveNone {
		return models.CollectionTypeForArchive(format)
	}
	return models.CollectionDirectory
}
