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

// CreateJobState inserts a fresh progress record. The ID sets and error
// summary are always initialized so the conditional updates never touch a
// null field.
func (s *Store) CreateJobState(ctx context.Context, js *models.FileProcessingJobState) error {
	start := time.Now()
	var err error
	defer func() { recordOp("create_job_state", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if js.Status == "" {
		js.Status = models.JobPending
	}
	if js.StartedAt.IsZero() {
		js.StartedAt = now
	}
	js.LastProgressAt = now
	if js.ProcessedImageIDs == nil {
		js.ProcessedImageIDs = []string{}
	}
	if js.FailedImageIDs == nil {
		js.FailedImageIDs = []string{}
	}
	if js.SkippedImageIDs == nil {
		js.SkippedImageIDs = []string{}
	}
	if js.ErrorSummary == nil {
		js.ErrorSummary = map[string]int64{}
	}

	_, err = s.db.Collection(collJobStates).InsertOne(ctx, js)
	if mongo.IsDuplicateKeyError(err) {
		err = fmt.Errorf("%w: job state %s", ErrDuplicate, js.JobID)
	}
	return err
}

// GetJobState fetches one progress record.
func (s *Store) GetJobState(ctx context.Context, jobID string) (*models.FileProcessingJobState, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_job_state", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var js models.FileProcessingJobState
	err = s.db.Collection(collJobStates).FindOne(ctx, bson.M{"_id": jobID}).Decode(&js)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return &js, nil
}

// IsJobCancelled reports whether a job was cancelled: paused with resume
// revoked. Workers check this before expensive work and ack-skip when set.
// A missing job reads as not cancelled; the outcome update surfaces that.
func (s *Store) IsJobCancelled(ctx context.Context, jobID string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("is_job_cancelled", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	count, err := s.db.Collection(collJobStates).CountDocuments(ctx, bson.M{
		"_id":       jobID,
		"status":    models.JobPaused,
		"canResume": false,
	})
	return count > 0, err
}

// IsProcessed reports whether an image has already been accounted for by
// this job, in any outcome: completed, failed, or skipped.
func (s *Store) IsProcessed(ctx context.Context, jobID, imageID string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("is_processed", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	count, err := s.db.Collection(collJobStates).CountDocuments(ctx, bson.M{
		"_id": jobID,
		"$or": bson.A{
			bson.M{"processedImageIds": imageID},
			bson.M{"failedImageIds": imageID},
			bson.M{"skippedImageIds": imageID},
		},
	})
	return count > 0, err
}

// IncrementCompleted records one successful image in a single conditional
// update: the ID joins processedImageIds and the counters move only when the
// image is not yet in any outcome set. A second delivery of the same message
// matches nothing and returns ErrDuplicate, keeping completedImages equal to
// len(processedImageIds) under any concurrency.
func (s *Store) IncrementCompleted(ctx context.Context, jobID, imageID string, artifactBytes int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("increment_completed", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"_id":               jobID,
		"processedImageIds": bson.M{"$ne": imageID},
		"failedImageIds":    bson.M{"$ne": imageID},
		"skippedImageIds":   bson.M{"$ne": imageID},
	}
	update := bson.M{
		"$addToSet": bson.M{"processedImageIds": imageID},
		"$inc": bson.M{
			"completedImages": 1,
			"totalSizeBytes":  artifactBytes,
		},
		"$set": bson.M{"lastProgressAt": time.Now().UTC()},
	}

	err = s.applyOutcomeUpdate(ctx, jobID, filter, update)
	return err
}

// IncrementFailed records one failed image, with the same dedupe guard as
// IncrementCompleted.
func (s *Store) IncrementFailed(ctx context.Context, jobID, imageID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("increment_failed", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"_id":               jobID,
		"processedImageIds": bson.M{"$ne": imageID},
		"failedImageIds":    bson.M{"$ne": imageID},
		"skippedImageIds":   bson.M{"$ne": imageID},
	}
	update := bson.M{
		"$addToSet": bson.M{"failedImageIds": imageID},
		"$inc":      bson.M{"failedImages": 1},
		"$set": bson.M{
			"hasErrors":      true,
			"lastProgressAt": time.Now().UTC(),
		},
	}

	err = s.applyOutcomeUpdate(ctx, jobID, filter, update)
	return err
}

// IncrementSkipped records one image deliberately not processed, such as
// work acked after a job was cancelled.
func (s *Store) IncrementSkipped(ctx context.Context, jobID, imageID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("increment_skipped", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"_id":               jobID,
		"processedImageIds": bson.M{"$ne": imageID},
		"failedImageIds":    bson.M{"$ne": imageID},
		"skippedImageIds":   bson.M{"$ne": imageID},
	}
	update := bson.M{
		"$addToSet": bson.M{"skippedImageIds": imageID},
		"$inc":      bson.M{"skippedImages": 1},
		"$set":      bson.M{"lastProgressAt": time.Now().UTC()},
	}

	err = s.applyOutcomeUpdate(ctx, jobID, filter, update)
	return err
}

// applyOutcomeUpdate runs one guarded outcome update and maps a no-match to
// ErrNotFound or ErrDuplicate.
func (s *Store) applyOutcomeUpdate(ctx context.Context, jobID string, filter, update bson.M) error {
	result, err := s.db.Collection(collJobStates).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}

	count, err := s.db.Collection(collJobStates).CountDocuments(ctx, bson.M{"_id": jobID})
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
	}
	return ErrDuplicate
}

// TrackError bumps the per-kind error tally. An empty message leaves the
// last recorded message in place.
func (s *Store) TrackError(ctx context.Context, jobID string, kind models.ErrorKind, message string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("track_error", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	set := bson.M{
		"hasErrors":      true,
		"lastErrorKind":  string(kind),
		"lastProgressAt": time.Now().UTC(),
	}
	if message != "" {
		set["errorMessage"] = message
	}
	update := bson.M{
		"$inc": bson.M{"errorSummary." + string(kind): 1},
		"$set": set,
	}

	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx, bson.M{"_id": jobID}, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
		return err
	}
	return nil
}

// IncrementDummyEntries counts non-image entries found during a scan. The
// dedicated counter and the error summary move in the same update.
func (s *Store) IncrementDummyEntries(ctx context.Context, jobID string, n int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("increment_dummy_entries", start, err) }()

	if n <= 0 {
		return nil
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	update := bson.M{
		"$inc": bson.M{
			"dummyEntryCount": n,
			"errorSummary." + string(models.ErrorKindDummyEntry): n,
		},
		"$set": bson.M{"lastProgressAt": time.Now().UTC()},
	}

	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx, bson.M{"_id": jobID}, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
		return err
	}
	return nil
}

// SetTotalImages records the enumerated image count once the scan worker
// knows it.
func (s *Store) SetTotalImages(ctx context.Context, jobID string, total int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("set_total_images", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{"totalImages": total, "lastProgressAt": time.Now().UTC()}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
		return err
	}
	return nil
}

// UpdateJobStatus moves a job through its lifecycle. Terminal statuses stamp
// completedAt and clear canResume; the resume coordinator must never pick a
// finished job back up.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	start := time.Now()
	var err error
	defer func() { recordOp("update_job_status", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	set := bson.M{
		"status":         status,
		"lastProgressAt": now,
	}
	switch status {
	case models.JobCompleted, models.JobFailed:
		set["completedAt"] = now
		set["canResume"] = false
	}

	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx,
		bson.M{"_id": jobID}, bson.M{"$set": set})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
		return err
	}
	return nil
}

// MarkJobFailed fails the whole job, recording why. Reserved for failures
// before any per-image work exists, like an unreadable archive during
// enumeration.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, message string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("mark_job_failed", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{
			"status":         models.JobFailed,
			"hasErrors":      true,
			"errorMessage":   message,
			"completedAt":    now,
			"canResume":      false,
			"lastProgressAt": now,
		}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
		return err
	}
	return nil
}

// CompleteIfAccounted flips a running job to completed once every image has
// an outcome. The guard makes the sweep idempotent: only one sweeper ever
// observes the transition. Returns whether this call applied it.
func (s *Store) CompleteIfAccounted(ctx context.Context, jobID string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("complete_if_accounted", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{
		"_id":         jobID,
		"status":      models.JobRunning,
		"totalImages": bson.M{"$gt": 0},
		"$expr": bson.M{"$gte": bson.A{
			bson.M{"$add": bson.A{"$completedImages", "$failedImages", "$skippedImages"}},
			"$totalImages",
		}},
	}
	update := bson.M{"$set": bson.M{
		"status":         models.JobCompleted,
		"completedAt":    now,
		"canResume":      false,
		"lastProgressAt": now,
	}}

	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx, filter, update)
	if uerr != nil {
		err = uerr
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// CancelJob pauses a job without resume. In-flight deliveries observe the
// status and ack their messages as skipped.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("cancel_job", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"_id":    jobID,
		"status": bson.M{"$in": bson.A{models.JobPending, models.JobRunning, models.JobPaused}},
	}
	update := bson.M{"$set": bson.M{
		"status":         models.JobPaused,
		"canResume":      false,
		"lastProgressAt": time.Now().UTC(),
	}}

	result, uerr := s.db.Collection(collJobStates).UpdateOne(ctx, filter, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		count, cerr := s.db.Collection(collJobStates).CountDocuments(ctx, bson.M{"_id": jobID})
		if cerr != nil {
			err = cerr
			return err
		}
		if count == 0 {
			err = fmt.Errorf("%w: job state %s", ErrNotFound, jobID)
			return err
		}
		err = fmt.Errorf("%w: job %s already finished", ErrConflict, jobID)
		return err
	}
	return nil
}

// GetIncompleteJobs lists every job the resume coordinator should consider.
func (s *Store) GetIncompleteJobs(ctx context.Context) ([]models.FileProcessingJobState, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_incomplete_jobs", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"status":    bson.M{"$in": bson.A{models.JobPending, models.JobRunning, models.JobPaused}},
		"canResume": true,
	}

	cursor, err := s.db.Collection(collJobStates).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "startedAt", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var out []models.FileProcessingJobState
	err = cursor.All(ctx, &out)
	return out, err
}

// GetStaleJobs lists running jobs with no progress for at least threshold.
func (s *Store) GetStaleJobs(ctx context.Context, threshold time.Duration) ([]models.FileProcessingJobState, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_stale_jobs", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"status":         models.JobRunning,
		"lastProgressAt": bson.M{"$lt": time.Now().UTC().Add(-threshold)},
	}

	cursor, err := s.db.Collection(collJobStates).Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []models.FileProcessingJobState
	err = cursor.All(ctx, &out)
	return out, err
}

// GetRunningJobs lists jobs the completion sweep should examine.
func (s *Store) GetRunningJobs(ctx context.Context) ([]models.FileProcessingJobState, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_running_jobs", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collJobStates).Find(ctx, bson.M{"status": models.JobRunning})
	if err != nil {
		return nil, err
	}

	var out []models.FileProcessingJobState
	err = cursor.All(ctx, &out)
	return out, err
}

// CountJobsByStatus tallies job states per lifecycle status, for the job
// gauges the sweep maintains.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("count_jobs_by_status", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collJobStates).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status models.JobStatus `bson:"_id"`
		Count  int64            `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	out := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// GetJobStatesForCollection lists a collection's jobs, newest first.
func (s *Store) GetJobStatesForCollection(ctx context.Context, collectionID string) ([]models.FileProcessingJobState, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_job_states_for_collection", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collJobStates).Find(ctx,
		bson.M{"collectionId": collectionID},
		options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}

	var out []models.FileProcessingJobState
	err = cursor.All(ctx, &out)
	return out, err
}

// DeleteOldCompleted removes terminal job states older than the retention
// window and returns how many were dropped.
func (s *Store) DeleteOldCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("delete_old_completed", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	filter := bson.M{
		"status":      bson.M{"$in": bson.A{models.JobCompleted, models.JobFailed}},
		"completedAt": bson.M{"$lt": cutoff},
	}

	result, derr := s.db.Collection(collJobStates).DeleteMany(ctx, filter)
	if derr != nil {
		err = derr
		return 0, err
	}
	return result.DeletedCount, nil
}
