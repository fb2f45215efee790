package models

import (
	"strings"
	"time"
)

// JobType identifies what a processing job produces.
type JobType string

const (
	JobTypeScan      JobType = "scan"
	JobTypeThumbnail JobType = "thumbnail"
	JobTypeCache     JobType = "cache"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ErrorKind keys the errorSummary map. Keys are kebab-case so they are safe
// as MongoDB field names under the dot-notation update operators.
type ErrorKind string

const (
	ErrorKindArchiveCorrupt    ErrorKind = "archive-corrupt"
	ErrorKindEntryTooLarge     ErrorKind = "archive-entry-too-large"
	ErrorKindStreamTruncated   ErrorKind = "archive-stream-truncated"
	ErrorKindEntryMissing      ErrorKind = "entry-missing"
	ErrorKindDecodeFailed      ErrorKind = "decode-failed"
	ErrorKindEncodeFailed      ErrorKind = "encode-failed"
	ErrorKindUnsupportedFormat ErrorKind = "unsupported-format"
	ErrorKindRenderFailed      ErrorKind = "render-failed"
	ErrorKindNoCapacity        ErrorKind = "no-capacity"
	ErrorKindStoreConflict     ErrorKind = "store-conflict"
	ErrorKindBrokerUnavailable ErrorKind = "broker-unavailable"
	ErrorKindDuplicateDelivery ErrorKind = "duplicate-delivery"
	ErrorKindQueueArgsMismatch ErrorKind = "queue-args-mismatch"
	ErrorKindDummyEntry        ErrorKind = "dummy-entry"
	ErrorKindDeadlineExceeded  ErrorKind = "deadline-exceeded"
)

// FileProcessingJobState is the durable progress record for one scan or
// generation run. Counters and ID sets move together in single conditional
// updates so that completedImages always equals len(processedImageIds), and
// likewise for failed and skipped. The three sets are disjoint.
type FileProcessingJobState struct {
	JobID        string    `bson:"_id" json:"jobId"`
	JobType      JobType   `bson:"jobType" json:"jobType"`
	CollectionID string    `bson:"collectionId" json:"collectionId"`
	Status       JobStatus `bson:"status" json:"status"`

	TotalImages     int64 `bson:"totalImages" json:"totalImages"`
	CompletedImages int64 `bson:"completedImages" json:"completedImages"`
	FailedImages    int64 `bson:"failedImages" json:"failedImages"`
	SkippedImages   int64 `bson:"skippedImages" json:"skippedImages"`
	TotalSizeBytes  int64 `bson:"totalSizeBytes" json:"totalSizeBytes"`

	ProcessedImageIDs []string `bson:"processedImageIds" json:"processedImageIds"`
	FailedImageIDs    []string `bson:"failedImageIds" json:"failedImageIds"`
	SkippedImageIDs   []string `bson:"skippedImageIds" json:"skippedImageIds"`

	ErrorSummary    map[string]int64 `bson:"errorSummary" json:"errorSummary"`
	DummyEntryCount int64            `bson:"dummyEntryCount" json:"dummyEntryCount"`
	HasErrors       bool             `bson:"hasErrors" json:"hasErrors"`
	ErrorMessage    string           `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	LastErrorKind   ErrorKind        `bson:"lastErrorKind,omitempty" json:"lastErrorKind,omitempty"`

	StartedAt      time.Time  `bson:"startedAt" json:"startedAt"`
	LastProgressAt time.Time  `bson:"lastProgressAt" json:"lastProgressAt"`
	CompletedAt    *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CanResume      bool       `bson:"canResume" json:"canResume"`
}

// Accounted returns the number of images the job has finished with, in any
// outcome.
func (j *FileProcessingJobState) Accounted() int64 {
	return j.CompletedImages + j.FailedImages + j.SkippedImages
}

// IsTerminal reports whether every image has been accounted for.
func (j *FileProcessingJobState) IsTerminal() bool {
	return j.TotalImages > 0 && j.Accounted() >= j.TotalImages
}

// DerivativeJobID names the generation job a scan run spawns. The scan job's
// ID is the prefix, so a redelivered scan lands on the same generation jobs
// instead of minting parallel ones.
func DerivativeJobID(scanJobID string, t JobType) string {
	return scanJobID + "." + string(t)
}

// BackgroundJobIDFor maps a job-state ID back to the background job tracking
// its stages: the scan job's own ID, shared with the derivative jobs it
// spawned.
func BackgroundJobIDFor(jobID string) string {
	if i := strings.LastIndexByte(jobID, '.'); i > 0 {
		switch JobType(jobID[i+1:]) {
		case JobTypeThumbnail, JobTypeCache:
			return jobID[:i]
		}
	}
	return jobID
}
