package handlers

import (
	"context"
	"time"

	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/monitor"
	"imageviewer-pipeline/internal/store"
)

// Store is the persistence surface the API reads. *store.Store implements
// it; tests substitute fakes.
type Store interface {
	Ping(ctx context.Context) error
	GetRunningJobs(ctx context.Context) ([]models.FileProcessingJobState, error)
	GetJobStatesForCollection(ctx context.Context, collectionID string) ([]models.FileProcessingJobState, error)
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	CancelJob(ctx context.Context, jobID string) error
	GetSystemStatistics(ctx context.Context) (*store.SystemStatistics, error)
	GetCacheStatistics(ctx context.Context) (*store.CacheStatistics, error)
}

var _ Store = (*store.Store)(nil)

// Queues is the broker surface the API reads.
type Queues interface {
	IsConnected() bool
	QueueDepths() (map[string]int64, error)
}

var _ Queues = (*broker.Broker)(nil)

// StatusReporter assembles the operator snapshot of one job.
type StatusReporter interface {
	GetJobStatus(ctx context.Context, jobID string) (*monitor.Status, error)
}

var _ StatusReporter = (*monitor.Monitor)(nil)

type Handlers struct {
	store   Store
	queues  Queues
	status  StatusReporter
	started time.Time
}

func New(st Store, q Queues, sr StatusReporter) *Handlers {
	return &Handlers{
		store:   st,
		queues:  q,
		status:  sr,
		started: time.Now(),
	}
}
