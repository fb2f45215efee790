package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/metrics"
)

// Topology names. Routing keys equal queue names on the topic exchange.
const (
	Exchange           = "imageviewer.exchange"
	DeadLetterExchange = "imageviewer.dlx"
	DeadLetterQueue    = "imageviewer.dead-letter"

	QueueCollectionCreation  = "collection.creation"
	QueueCollectionScan      = "collection.scan"
	QueueImageProcessing     = "image.processing"
	QueueThumbnailGeneration = "thumbnail.generation"
	QueueCacheGeneration     = "cache.generation"
)

// RetryCountHeader carries the number of times a message has been
// republished for retry. Absent on first delivery.
const RetryCountHeader = "x-retry-count"

// Configuration defaults.
const (
	DefaultPort           = 5672
	DefaultPrefetchCount  = 100
	DefaultMaxRetryCount  = 3
	DefaultMessageTTL     = 24 * time.Hour
	DefaultMaxQueueLength = 50_000_000
	DefaultDialAttempts   = 10

	dialBackoffInitial = 1 * time.Second
	dialBackoffMax     = 30 * time.Second
)

// ErrNotConnected is returned by operations attempted while the connection
// is down. Publishers treat it like any other transient broker failure.
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Queues returns the pipeline queues in processing order.
func Queues() []string {
	return []string{
		QueueCollectionCreation,
		QueueCollectionScan,
		QueueImageProcessing,
		QueueThumbnailGeneration,
		QueueCacheGeneration,
	}
}

// Config holds the RabbitMQ connection and behavior settings.
type Config struct {
	Hostname string
	Port     int
	Username string
	Password string
	VHost    string

	PrefetchCount  int
	MaxRetryCount  int
	MessageTTL     time.Duration
	MaxQueueLength int64
	DialAttempts   int
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.PrefetchCount == 0 {
		c.PrefetchCount = DefaultPrefetchCount
	}
	if c.MaxRetryCount == 0 {
		c.MaxRetryCount = DefaultMaxRetryCount
	}
	if c.MessageTTL == 0 {
		c.MessageTTL = DefaultMessageTTL
	}
	if c.MaxQueueLength == 0 {
		c.MaxQueueLength = DefaultMaxQueueLength
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = DefaultDialAttempts
	}
	return c
}

func (c Config) url() string {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     c.Hostname,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.VHost,
	}
	return uri.String()
}

// Broker is the RabbitMQ adapter. One shared channel serves publishes;
// every consumer gets a dedicated channel with its own prefetch window.
type Broker struct {
	cfg Config

	mu   sync.Mutex
	conn *amqp.Connection
	pub  *amqp.Channel

	closed    chan struct{}
	closeOnce sync.Once
}

// Connect dials RabbitMQ with bounded exponential backoff and opens the
// publisher channel. The returned broker watches the connection and redials
// on loss until Close is called.
func Connect(ctx context.Context, cfg Config) (*Broker, error) {
	b := &Broker{
		cfg:    cfg.withDefaults(),
		closed: make(chan struct{}),
	}
	if err := b.dial(ctx); err != nil {
		return nil, err
	}
	logging.Info("Connected to RabbitMQ at %s:%d (vhost %q)", b.cfg.Hostname, b.cfg.Port, b.cfg.VHost)
	return b, nil
}

func (b *Broker) dial(ctx context.Context) error {
	backoff := dialBackoffInitial
	var lastErr error

	for attempt := 1; attempt <= b.cfg.DialAttempts; attempt++ {
		conn, err := amqp.Dial(b.cfg.url())
		if err == nil {
			ch, cherr := conn.Channel()
			if cherr != nil {
				conn.Close()
				return fmt.Errorf("opening publisher channel: %w", cherr)
			}

			b.mu.Lock()
			b.conn = conn
			b.pub = ch
			b.mu.Unlock()

			metrics.BrokerConnectionUp.Set(1)
			go b.watchConnection(conn)
			return nil
		}

		lastErr = err
		logging.Warn("RabbitMQ dial attempt %d/%d failed: %v", attempt, b.cfg.DialAttempts, err)

		if attempt == b.cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return ErrNotConnected
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
	}
	return fmt.Errorf("connecting to RabbitMQ after %d attempts: %w", b.cfg.DialAttempts, lastErr)
}

// watchConnection redials when the server drops the connection. Consumers
// notice their delivery channels closing and re-attach via Consume.
func (b *Broker) watchConnection(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-b.closed:
		return
	case amqpErr := <-closeCh:
		if amqpErr == nil {
			// Graceful shutdown.
			return
		}
		metrics.BrokerConnectionUp.Set(0)
		logging.Error("RabbitMQ connection lost: %v", amqpErr)
	}

	for {
		select {
		case <-b.closed:
			return
		default:
		}

		metrics.BrokerReconnectsTotal.Inc()
		if err := b.dial(context.Background()); err == nil {
			logging.Info("RabbitMQ connection restored")
			if terr := b.DeclareTopology(); terr != nil {
				logging.Error("Re-declaring topology after reconnect: %v", terr)
			}
			return
		}

		select {
		case <-b.closed:
			return
		case <-time.After(dialBackoffMax):
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.pub != nil {
			b.pub.Close()
		}
		if b.conn != nil {
			err = b.conn.Close()
		}
		metrics.BrokerConnectionUp.Set(0)
		logging.Info("RabbitMQ connection closed")
	})
	return err
}

// IsConnected reports whether the underlying connection is usable.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed()
}

// channel opens a fresh channel for consumer and management operations.
func (b *Broker) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return conn.Channel()
}

// publisherChannel returns the shared publish channel, reopening it if a
// channel-level error closed it while the connection survived.
func (b *Broker) publisherChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	if b.pub == nil || b.pub.IsClosed() {
		ch, err := b.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("reopening publisher channel: %w", err)
		}
		b.pub = ch
	}
	return b.pub, nil
}
