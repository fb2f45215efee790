package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"imageviewer-pipeline/internal/models"
)

// UpsertScheduledJob registers or updates a scheduled job definition by name.
func (s *Store) UpsertScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	start := time.Now()
	var err error
	defer func() { recordOp("upsert_scheduled_job", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	_, err = s.db.Collection(collScheduled).UpdateOne(ctx,
		bson.M{"name": job.Name},
		bson.M{
			"$set": bson.M{
				"jobKind":    job.JobKind,
				"enabled":    job.Enabled,
				"parameters": job.Parameters,
				"updatedAt":  now,
			},
			"$setOnInsert": bson.M{
				"_id":       job.ID,
				"createdAt": now,
			},
		},
		options.Update().SetUpsert(true))
	return err
}

// GetScheduledJobByName fetches one scheduled job definition.
func (s *Store) GetScheduledJobByName(ctx context.Context, name string) (*models.ScheduledJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_scheduled_job", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var job models.ScheduledJob
	err = s.db.Collection(collScheduled).FindOne(ctx, bson.M{"name": name}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: scheduled job %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListScheduledJobs returns all scheduled job definitions, optionally only
// the enabled ones.
func (s *Store) ListScheduledJobs(ctx context.Context, enabledOnly bool) ([]models.ScheduledJob, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list_scheduled_jobs", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{}
	if enabledOnly {
		filter["enabled"] = true
	}

	cursor, err := s.db.Collection(collScheduled).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var out []models.ScheduledJob
	err = cursor.All(ctx, &out)
	return out, err
}

// RecordScheduledRun inserts the run record for one scheduled job execution
// and stamps lastRunAt on the definition.
func (s *Store) RecordScheduledRun(ctx context.Context, run *models.ScheduledJobRun) error {
	start := time.Now()
	var err error
	defer func() { recordOp("record_scheduled_run", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	if _, err = s.db.Collection(collScheduledRuns).InsertOne(ctx, run); err != nil {
		return err
	}

	_, err = s.db.Collection(collScheduled).UpdateOne(ctx,
		bson.M{"_id": run.ScheduledJobID},
		bson.M{"$set": bson.M{"lastRunAt": run.StartedAt, "updatedAt": time.Now().UTC()}})
	return err
}

// CompleteScheduledRun finishes a run record with its outcome.
func (s *Store) CompleteScheduledRun(ctx context.Context, runID, result, errMessage string, enqueued int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("complete_scheduled_run", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	set := bson.M{
		"completedAt":   now,
		"result":        result,
		"enqueuedCount": enqueued,
	}
	if errMessage != "" {
		set["error"] = errMessage
	}

	res, uerr := s.db.Collection(collScheduledRuns).UpdateOne(ctx,
		bson.M{"_id": runID}, bson.M{"$set": set})
	if uerr != nil {
		err = uerr
		return err
	}
	if res.MatchedCount == 0 {
		err = fmt.Errorf("%w: scheduled run %s", ErrNotFound, runID)
		return err
	}
	return nil
}

// ListRecentRuns returns the latest runs for one scheduled job.
func (s *Store) ListRecentRuns(ctx context.Context, scheduledJobID string, limit int64) ([]models.ScheduledJobRun, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list_recent_runs", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	cursor, err := s.db.Collection(collScheduledRuns).Find(ctx,
		bson.M{"scheduledJobId": scheduledJobID},
		options.Find().
			SetSort(bson.D{{Key: "startedAt", Value: -1}}).
			SetLimit(limit))
	if err != nil {
		return nil, err
	}

	var out []models.ScheduledJobRun
	err = cursor.All(ctx, &out)
	return out, err
}
