package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"imageviewer-pipeline/internal/models"
)

// CreateBackgroundJob inserts the operator-visible record of a pipeline run.
func (s *Store) CreateBackgroundJob(ctx context.Context, job *models.BackgroundJob) error {
	start := time.Now()
	var err error
	defer func() { recordOp("create_background_job", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobRunning
	}
	if job.Stages == nil {
		job.Stages = map[string]models.JobStage{}
	}

	_, err = s.db.Collection(collBackground).InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		err = fmt.Errorf("%w: background job %s", ErrDuplicate, job.ID)
	}
	return err
}

// GetBackgroundJob fetches one background job.
func (s *Store) GetBackgroundJob(ctx context.Context, id string) (*models.BackgroundJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_background_job", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var job models.BackgroundJob
	err = s.db.Collection(collBackground).FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: background job %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// EnsureStage creates a named stage with its item total, only if the stage
// does not exist yet. Redelivered scan work cannot reset a stage in flight.
func (s *Store) EnsureStage(ctx context.Context, jobID, stage string, totalItems int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("ensure_stage", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	field := "stages." + stage
	filter := bson.M{
		"_id": jobID,
		field: bson.M{"$exists": false},
	}
	update := bson.M{
		"$set": bson.M{
			field: models.JobStage{
				TotalItems: totalItems,
				StartedAt:  time.Now().UTC(),
			},
			"updatedAt": time.Now().UTC(),
		},
	}

	result, uerr := s.db.Collection(collBackground).UpdateOne(ctx, filter, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		// Either the job is gone or the stage already exists; both are
		// fine for an ensure.
		count, cerr := s.db.Collection(collBackground).CountDocuments(ctx, bson.M{"_id": jobID})
		if cerr != nil {
			err = cerr
			return err
		}
		if count == 0 {
			err = fmt.Errorf("%w: background job %s", ErrNotFound, jobID)
			return err
		}
	}
	return nil
}

// AtomicIncrementStage advances a stage's completed count by n.
func (s *Store) AtomicIncrementStage(ctx context.Context, jobID, stage string, n int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("atomic_increment_stage", start, err) }()

	if n == 0 {
		return nil
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	field := "stages." + stage
	filter := bson.M{"_id": jobID, field: bson.M{"$exists": true}}
	update := bson.M{
		"$inc": bson.M{field + ".completedItems": n},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}

	result, uerr := s.db.Collection(collBackground).UpdateOne(ctx, filter, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: background job %s stage %s", ErrNotFound, jobID, stage)
		return err
	}
	return nil
}

// CompleteStage stamps a stage's completion time.
func (s *Store) CompleteStage(ctx context.Context, jobID, stage string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("complete_stage", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	field := "stages." + stage
	result, uerr := s.db.Collection(collBackground).UpdateOne(ctx,
		bson.M{"_id": jobID, field: bson.M{"$exists": true}},
		bson.M{"$set": bson.M{field + ".completedAt": now, "updatedAt": now}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: background job %s stage %s", ErrNotFound, jobID, stage)
		return err
	}
	return nil
}

// UpdateBackgroundJobStatus moves the run through its lifecycle.
func (s *Store) UpdateBackgroundJobStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	start := time.Now()
	var err error
	defer func() { recordOp("update_background_job_status", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	result, uerr := s.db.Collection(collBackground).UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: background job %s", ErrNotFound, jobID)
		return err
	}
	return nil
}
