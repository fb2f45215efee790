package models

import "time"

// Stage names tracked on background jobs.
const (
	StageScan      = "scan"
	StageThumbnail = "thumbnail"
	StageCache     = "cache"
)

// BackgroundJob is the operator-visible view of a pipeline run, tracking
// per-stage progress across the scan and generation queues.
type BackgroundJob struct {
	ID        string              `bson:"_id" json:"id"`
	JobType   JobType             `bson:"jobType" json:"jobType"`
	Status    JobStatus           `bson:"status" json:"status"`
	Stages    map[string]JobStage `bson:"stages" json:"stages"`
	CreatedAt time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// JobStage tracks one named stage of a background job.
type JobStage struct {
	TotalItems     int64      `bson:"totalItems" json:"totalItems"`
	CompletedItems int64      `bson:"completedItems" json:"completedItems"`
	StartedAt      time.Time  `bson:"startedAt" json:"startedAt"`
	CompletedAt    *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}
