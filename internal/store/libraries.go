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

// CreateLibrary inserts a new library.
func (s *Store) CreateLibrary(ctx context.Context, lib *models.Library) error {
	start := time.Now()
	var err error
	defer func() { recordOp("create_library", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	lib.CreatedAt = now
	lib.UpdatedAt = now

	_, err = s.db.Collection(collLibraries).InsertOne(ctx, lib)
	if mongo.IsDuplicateKeyError(err) {
		err = fmt.Errorf("%w: library %s", ErrDuplicate, lib.ID)
	}
	return err
}

// GetLibrary fetches one library.
func (s *Store) GetLibrary(ctx context.Context, id string) (*models.Library, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_library", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var lib models.Library
	err = s.db.Collection(collLibraries).FindOne(ctx, bson.M{"_id": id}).Decode(&lib)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: library %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

// ListLibraries returns every library.
func (s *Store) ListLibraries(ctx context.Context) ([]models.Library, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list_libraries", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collLibraries).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	var out []models.Library
	err = cursor.All(ctx, &out)
	return out, err
}

// IncrementLibraryStatistics applies a statistics delta in one update.
// Negative fields subtract; callers pass the delta of whatever they just
// added to or removed from a collection in this library.
func (s *Store) IncrementLibraryStatistics(ctx context.Context, libraryID string, delta models.LibraryStatistics) error {
	start := time.Now()
	var err error
	defer func() { recordOp("increment_library_statistics", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	inc := bson.M{}
	add := func(field string, v int64) {
		if v != 0 {
			inc["statistics."+field] = v
		}
	}
	add("totalCollections", delta.TotalCollections)
	add("totalImages", delta.TotalImages)
	add("totalSize", delta.TotalSize)
	add("totalThumbnails", delta.TotalThumbnails)
	add("totalThumbnailSize", delta.TotalThumbnailSize)
	add("totalCacheFiles", delta.TotalCacheFiles)
	add("totalCacheSize", delta.TotalCacheSize)
	if len(inc) == 0 {
		return nil
	}

	result, uerr := s.db.Collection(collLibraries).UpdateOne(ctx,
		bson.M{"_id": libraryID},
		bson.M{"$inc": inc, "$set": bson.M{"updatedAt": time.Now().UTC()}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: library %s", ErrNotFound, libraryID)
		return err
	}
	return nil
}
