package models

import "time"

// ScheduledJob records a recurring operation an external scheduler (or an
// operator) enqueues through the pipeline. The scheduler itself lives outside
// this system; these documents are the contract it writes against.
type ScheduledJob struct {
	ID         string            `bson:"_id" json:"id"`
	Name       string            `bson:"name" json:"name"`
	JobKind    string            `bson:"jobKind" json:"jobKind"`
	Enabled    bool              `bson:"enabled" json:"enabled"`
	Parameters map[string]string `bson:"parameters,omitempty" json:"parameters,omitempty"`
	LastRunAt  *time.Time        `bson:"lastRunAt,omitempty" json:"lastRunAt,omitempty"`
	CreatedAt  time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// ScheduledJobRun is one execution record of a scheduled job: who triggered
// it, when, and how many messages it enqueued.
type ScheduledJobRun struct {
	ID             string     `bson:"_id" json:"id"`
	ScheduledJobID string     `bson:"scheduledJobId" json:"scheduledJobId"`
	TriggeredBy    string     `bson:"triggeredBy" json:"triggeredBy"`
	StartedAt      time.Time  `bson:"startedAt" json:"startedAt"`
	CompletedAt    *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	EnqueuedCount  int64      `bson:"enqueuedCount" json:"enqueuedCount"`
	Result         string     `bson:"result,omitempty" json:"result,omitempty"`
	Error          string     `bson:"error,omitempty" json:"error,omitempty"`
}
