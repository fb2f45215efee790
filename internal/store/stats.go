package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"imageviewer-pipeline/internal/models"
)

// CacheStatistics is the aggregate view over every cache folder.
type CacheStatistics struct {
	TotalFolders  int64 `bson:"totalFolders" json:"totalFolders"`
	ActiveFolders int64 `bson:"activeFolders" json:"activeFolders"`
	TotalCapacity int64 `bson:"totalCapacity" json:"totalCapacity"`
	UsedBytes     int64 `bson:"usedBytes" json:"usedBytes"`
}

// SystemStatistics is the aggregate view over collections and jobs.
type SystemStatistics struct {
	TotalCollections   int64 `bson:"totalCollections" json:"totalCollections"`
	TotalImages        int64 `bson:"totalImages" json:"totalImages"`
	TotalSize          int64 `bson:"totalSize" json:"totalSize"`
	TotalThumbnails    int64 `bson:"totalThumbnails" json:"totalThumbnails"`
	TotalThumbnailSize int64 `bson:"totalThumbnailSize" json:"totalThumbnailSize"`
	TotalCacheFiles    int64 `bson:"totalCacheFiles" json:"totalCacheFiles"`
	TotalCacheSize     int64 `bson:"totalCacheSize" json:"totalCacheSize"`

	ActiveJobs    int64 `bson:"activeJobs" json:"activeJobs"`
	CompletedJobs int64 `bson:"completedJobs" json:"completedJobs"`
	FailedJobs    int64 `bson:"failedJobs" json:"failedJobs"`
}

// GetCacheStatistics aggregates folder capacity and usage server-side.
func (s *Store) GetCacheStatistics(ctx context.Context) (*CacheStatistics, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_cache_statistics", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"totalFolders": bson.M{"$sum": 1},
			"activeFolders": bson.M{"$sum": bson.M{
				"$cond": bson.A{"$isActive", 1, 0},
			}},
			"totalCapacity": bson.M{"$sum": "$maxSizeBytes"},
			"usedBytes":     bson.M{"$sum": "$currentSizeBytes"},
		}}},
	}

	cursor, aerr := s.db.Collection(collCacheFolders).Aggregate(ctx, pipeline)
	if aerr != nil {
		err = aerr
		return nil, err
	}

	var rows []CacheStatistics
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &CacheStatistics{}, nil
	}
	return &rows[0], nil
}

// GetSystemStatistics aggregates the denormalized collection counters and
// the job status census server-side.
func (s *Store) GetSystemStatistics(ctx context.Context) (*SystemStatistics, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_system_statistics", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	stats := &SystemStatistics{}

	collectionPipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"isDeleted": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":                nil,
			"totalCollections":   bson.M{"$sum": 1},
			"totalImages":        bson.M{"$sum": "$statistics.totalItems"},
			"totalSize":          bson.M{"$sum": "$statistics.totalSize"},
			"totalThumbnails":    bson.M{"$sum": "$statistics.totalThumbnails"},
			"totalThumbnailSize": bson.M{"$sum": "$statistics.totalThumbnailSize"},
			"totalCacheFiles":    bson.M{"$sum": "$statistics.totalCacheFiles"},
			"totalCacheSize":     bson.M{"$sum": "$statistics.totalCacheSize"},
		}}},
	}

	cursor, aerr := s.db.Collection(collCollections).Aggregate(ctx, collectionPipeline)
	if aerr != nil {
		err = aerr
		return nil, err
	}
	var collectionRows []SystemStatistics
	if err = cursor.All(ctx, &collectionRows); err != nil {
		return nil, err
	}
	if len(collectionRows) > 0 {
		*stats = collectionRows[0]
	}

	jobPipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id": "$status",
			"n":   bson.M{"$sum": 1},
		}}},
	}

	cursor, aerr = s.db.Collection(collJobStates).Aggregate(ctx, jobPipeline)
	if aerr != nil {
		err = aerr
		return nil, err
	}
	var jobRows []struct {
		Status models.JobStatus `bson:"_id"`
		N      int64            `bson:"n"`
	}
	if err = cursor.All(ctx, &jobRows); err != nil {
		return nil, err
	}
	for _, row := range jobRows {
		switch row.Status {
		case models.JobPending, models.JobRunning, models.JobPaused:
			stats.ActiveJobs += row.N
		case models.JobCompleted:
			stats.CompletedJobs = row.N
		case models.JobFailed:
			stats.FailedJobs = row.N
		}
	}

	return stats, nil
}
