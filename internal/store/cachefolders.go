package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"imageviewer-pipeline/internal/models"
)

// CreateCacheFolder registers a new artifact folder.
func (s *Store) CreateCacheFolder(ctx context.Context, f *models.CacheFolder) error {
	start := time.Now()
	var err error
	defer func() { recordOp("create_cache_folder", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err = s.db.Collection(collCacheFolders).InsertOne(ctx, f)
	if mongo.IsDuplicateKeyError(err) {
		err = fmt.Errorf("%w: cache folder %s", ErrDuplicate, f.ID)
	}
	return err
}

// GetCacheFolder fetches one folder.
func (s *Store) GetCacheFolder(ctx context.Context, folderID string) (*models.CacheFolder, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_cache_folder", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var f models.CacheFolder
	err = s.db.Collection(collCacheFolders).FindOne(ctx, bson.M{"_id": folderID}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: cache folder %s", ErrNotFound, folderID)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListCacheFolders returns every folder, active or not.
func (s *Store) ListCacheFolders(ctx context.Context) ([]models.CacheFolder, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list_cache_folders", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collCacheFolders).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "priority", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var out []models.CacheFolder
	err = cursor.All(ctx, &out)
	return out, err
}

// ListActiveFolders returns active folders in placement order: priority
// ascending, then remaining capacity descending. The remaining-capacity tie
// break is computed from the snapshot this read returns; the reservation
// guard is what actually protects capacity.
func (s *Store) ListActiveFolders(ctx context.Context) ([]models.CacheFolder, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list_active_folders", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collCacheFolders).Find(ctx, bson.M{"isActive": true})
	if err != nil {
		return nil, err
	}

	var out []models.CacheFolder
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RemainingBytes() > out[j].RemainingBytes()
	})
	return out, nil
}

// ReserveBytes reserves artifact space on a folder. The guard admits the
// increment only while the folder is active and the reservation fits, so
// currentSizeBytes can never exceed maxSizeBytes no matter how many workers
// reserve concurrently. A rejected reservation returns ErrConflict.
func (s *Store) ReserveBytes(ctx context.Context, folderID string, size int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("reserve_bytes", start, err) }()

	if size < 0 {
		err = fmt.Errorf("negative reservation: %d", size)
		return err
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"_id":      folderID,
		"isActive": true,
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$currentSizeBytes", size}},
			"$maxSizeBytes",
		}},
	}
	update := bson.M{
		"$inc": bson.M{"currentSizeBytes": size},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}

	result, uerr := s.db.Collection(collCacheFolders).UpdateOne(ctx, filter, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: folder %s cannot fit %d bytes", ErrConflict, folderID, size)
		return err
	}
	return nil
}

// ReleaseBytes returns reserved space, clamping at zero so double releases
// after a crash cannot drive the accounting negative.
func (s *Store) ReleaseBytes(ctx context.Context, folderID string, size int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("release_bytes", start, err) }()

	if size < 0 {
		err = fmt.Errorf("negative release: %d", size)
		return err
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"currentSizeBytes": bson.M{"$max": bson.A{
				0,
				bson.M{"$subtract": bson.A{"$currentSizeBytes", size}},
			}},
			"updatedAt": "$$NOW",
		}}},
	}

	result, uerr := s.db.Collection(collCacheFolders).UpdateOne(ctx, bson.M{"_id": folderID}, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: cache folder %s", ErrNotFound, folderID)
		return err
	}
	return nil
}

// SetFolderActive flips a folder in or out of the placement rotation.
func (s *Store) SetFolderActive(ctx context.Context, folderID string, active bool) error {
	start := time.Now()
	var err error
	defer func() { recordOp("set_folder_active", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	result, uerr := s.db.Collection(collCacheFolders).UpdateOne(ctx,
		bson.M{"_id": folderID},
		bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().UTC()}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: cache folder %s", ErrNotFound, folderID)
		return err
	}
	return nil
}

// SetFolderSize overwrites the accounted size after a verify pass reconciled
// it against the bytes actually on disk.
func (s *Store) SetFolderSize(ctx context.Context, folderID string, size int64) error {
	start := time.Now()
	var err error
	defer func() { recordOp("set_folder_size", start, err) }()

	if size < 0 {
		size = 0
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	result, uerr := s.db.Collection(collCacheFolders).UpdateOne(ctx,
		bson.M{"_id": folderID},
		bson.M{"$set": bson.M{"currentSizeBytes": size, "updatedAt": time.Now().UTC()}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: cache folder %s", ErrNotFound, folderID)
		return err
	}
	return nil
}
