package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/metrics"
)

// Default timeout for store operations.
const defaultTimeout = 5 * time.Second

// Sentinel errors shared by every store method.
var (
	// ErrNotFound means no document matched the identifying filter.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means a conditional update matched a document but its
	// guard clause rejected the mutation.
	ErrConflict = errors.New("conditional update rejected")
	// ErrDuplicate means the mutation was already applied by an earlier
	// delivery of the same message.
	ErrDuplicate = errors.New("already applied")
)

// Collection names.
const (
	collCollections   = "collections"
	collCacheFolders  = "cache_folders"
	collLibraries     = "libraries"
	collSettings      = "system_settings"
	collBackground    = "background_jobs"
	collJobStates     = "file_processing_job_states"
	collScheduled     = "scheduled_jobs"
	collScheduledRuns = "scheduled_job_runs"
)

// Config carries the MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64
	RetryWrites    bool
}

// Store manages all MongoDB access for the pipeline. Every mutation is a
// single conditional update; no method reads a document, modifies it in Go,
// and writes it back.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect establishes the MongoDB connection, verifies it with a ping, and
// returns a Store over the configured database.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	logging.Info("Connecting to MongoDB database %q", cfg.Database)

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.SocketTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetRetryWrites(cfg.RetryWrites)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		if closeErr := client.Disconnect(ctx); closeErr != nil {
			logging.Error("failed to disconnect after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to reach MongoDB: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.Database),
	}

	logging.Info("MongoDB connection established")
	return s, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies the connection is still alive. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// opContext bounds one store operation.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultTimeout)
}

// recordOp records operation metrics for one store call.
func recordOp(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrDuplicate) {
		status = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	metrics.StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}
