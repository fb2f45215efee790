package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"imageviewer-pipeline/internal/logging"
)

// EnsureIndexes creates the indexes every query path relies on. Safe to call
// on every startup; existing indexes are left alone.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()

	specs := map[string][]mongo.IndexModel{
		collCollections: {
			{Keys: bson.D{{Key: "path", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "libraryId", Value: 1}, {Key: "isDeleted", Value: 1}}},
			{Keys: bson.D{{Key: "images.id", Value: 1}}},
			{Keys: bson.D{{Key: "images.relativePath", Value: 1}}},
		},
		collJobStates: {
			{Keys: bson.D{{Key: "collectionId", Value: 1}, {Key: "jobType", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "canResume", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lastProgressAt", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "completedAt", Value: 1}}},
		},
		collCacheFolders: {
			{Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "priority", Value: 1}}},
		},
		collScheduled: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collScheduledRuns: {
			{Keys: bson.D{{Key: "scheduledJobId", Value: 1}, {Key: "startedAt", Value: -1}}},
		},
	}

	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating indexes on %s: %w", coll, err)
		}
	}

	logging.Info("MongoDB indexes ensured in %v", time.Since(start).Round(time.Millisecond))
	return nil
}
