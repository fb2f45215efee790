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

// arrayStrippedProjection excludes the embedded arrays, which can hold tens
// of thousands of entries on large collections.
var arrayStrippedProjection = bson.M{
	"images":      0,
	"thumbnails":  0,
	"cacheImages": 0,
}

// CreateCollection inserts a new collection document. Embedded arrays are
// always initialized so the atomic array operators never see a null field.
func (s *Store) CreateCollection(ctx context.Context, c *models.Collection) error {
	start := time.Now()
	var err error
	defer func() { recordOp("create_collection", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Images == nil {
		c.Images = []models.EmbeddedImage{}
	}
	if c.Thumbnails == nil {
		c.Thumbnails = []models.EmbeddedThumbnail{}
	}
	if c.CacheImages == nil {
		c.CacheImages = []models.EmbeddedCache{}
	}

	_, err = s.db.Collection(collCollections).InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		err = fmt.Errorf("%w: collection for path %q", ErrDuplicate, c.Path)
	}
	return err
}

// GetCollection fetches a collection with its embedded arrays.
func (s *Store) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_collection", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var c models.Collection
	err = s.db.Collection(collCollections).
		FindOne(ctx, bson.M{"_id": id, "isDeleted": false}).
		Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: collection %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCollectionSummary fetches a collection without its embedded arrays.
// Workers that only need the path, type, and settings use this.
func (s *Store) GetCollectionSummary(ctx context.Context, id string) (*models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_collection_summary", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var c models.Collection
	err = s.db.Collection(collCollections).
		FindOne(ctx, bson.M{"_id": id, "isDeleted": false},
			options.FindOne().SetProjection(arrayStrippedProjection)).
		Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: collection %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCollectionByPath looks a collection up by its source path.
func (s *Store) GetCollectionByPath(ctx context.Context, path string) (*models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_collection_by_path", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var c models.Collection
	err = s.db.Collection(collCollections).
		FindOne(ctx, bson.M{"path": path, "isDeleted": false},
			options.FindOne().SetProjection(arrayStrippedProjection)).
		Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = fmt.Errorf("%w: collection at %q", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCollections returns every active collection without embedded arrays.
// An empty libraryID lists across libraries.
func (s *Store) ListCollections(ctx context.Context, libraryID string) ([]models.Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("list_collections", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{"isDeleted": false}
	if libraryID != "" {
		filter["libraryId"] = libraryID
	}

	cursor, err := s.db.Collection(collCollections).Find(ctx, filter,
		options.Find().
			SetProjection(arrayStrippedProjection).
			SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var out []models.Collection
	err = cursor.All(ctx, &out)
	return out, err
}

// AtomicAddImage appends one image and bumps the item statistics in a single
// conditional update. The guard rejects the push when an image with the same
// relativePath is already embedded; scan workers allocate fresh IDs on every
// run, so the path is the only stable identity a redelivered scan carries.
// Returns ErrDuplicate when the image is already present and ErrNotFound
// when the collection does not exist or is deleted.
func (s *Store) AtomicAddImage(ctx context.Context, collectionID string, img models.EmbeddedImage) error {
	start := time.Now()
	var err error
	defer func() { recordOp("atomic_add_image", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	filter := bson.M{
		"_id":                 collectionID,
		"isDeleted":           false,
		"images.relativePath": bson.M{"$ne": img.RelativePath},
	}
	update := bson.M{
		"$push": bson.M{"images": img},
		"$inc": bson.M{
			"statistics.totalItems": 1,
			"statistics.totalSize":  img.FileSize,
		},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}

	result, uerr := s.db.Collection(collCollections).UpdateOne(ctx, filter, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = s.classifyNoMatch(ctx, collectionID)
		return err
	}
	return nil
}

// AtomicAddThumbnails appends a batch of thumbnails as one unordered bulk of
// conditional updates, each deduplicated on (imageId, width, height).
// Returns how many were actually appended; the rest were already present.
func (s *Store) AtomicAddThumbnails(ctx context.Context, collectionID string, thumbs []models.EmbeddedThumbnail) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("atomic_add_thumbnails", start, err) }()

	if len(thumbs) == 0 {
		return 0, nil
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(thumbs))
	for _, t := range thumbs {
		filter := bson.M{
			"_id":       collectionID,
			"isDeleted": false,
			"thumbnails": bson.M{"$not": bson.M{"$elemMatch": bson.M{
				"imageId": t.ImageID,
				"width":   t.Width,
				"height":  t.Height,
			}}},
		}
		update := bson.M{
			"$push": bson.M{"thumbnails": t},
			"$inc": bson.M{
				"statistics.totalThumbnails":    1,
				"statistics.totalThumbnailSize": t.FileSize,
			},
			"$set": bson.M{"updatedAt": now},
		}
		writes = append(writes, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update))
	}

	result, berr := s.db.Collection(collCollections).
		BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if berr != nil {
		err = berr
		return 0, err
	}
	return result.ModifiedCount, nil
}

// AtomicAddCacheImages appends a batch of cache entries as one unordered
// bulk of conditional updates, each deduplicated on imageId alone: a source
// image has at most one cache derivative.
func (s *Store) AtomicAddCacheImages(ctx context.Context, collectionID string, items []models.EmbeddedCache) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("atomic_add_cache_images", start, err) }()

	if len(items) == 0 {
		return 0, nil
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(items))
	for _, item := range items {
		filter := bson.M{
			"_id":                 collectionID,
			"isDeleted":           false,
			"cacheImages.imageId": bson.M{"$ne": item.ImageID},
		}
		update := bson.M{
			"$push": bson.M{"cacheImages": item},
			"$inc": bson.M{
				"statistics.totalCacheFiles": 1,
				"statistics.totalCacheSize":  item.FileSize,
			},
			"$set": bson.M{"updatedAt": now},
		}
		writes = append(writes, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update))
	}

	result, berr := s.db.Collection(collCollections).
		BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if berr != nil {
		err = berr
		return 0, err
	}
	return result.ModifiedCount, nil
}

// ClearImageArrays empties the embedded arrays and zeroes the statistics in
// one update. Called before a force rescan repopulates the collection.
func (s *Store) ClearImageArrays(ctx context.Context, collectionID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("clear_image_arrays", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"images":      []models.EmbeddedImage{},
			"thumbnails":  []models.EmbeddedThumbnail{},
			"cacheImages": []models.EmbeddedCache{},
			"statistics":  models.CollectionStatistics{},
			"updatedAt":   time.Now().UTC(),
		},
	}

	result, uerr := s.db.Collection(collCollections).
		UpdateOne(ctx, bson.M{"_id": collectionID, "isDeleted": false}, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
		return err
	}
	return nil
}

// ClearDerivativeArrays drops the generated thumbnails and cache images of a
// collection while keeping the source image inventory. The artifacts on disk
// are the caller's to remove.
func (s *Store) ClearDerivativeArrays(ctx context.Context, collectionID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("clear_derivative_arrays", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"thumbnails":                    []models.EmbeddedThumbnail{},
			"cacheImages":                   []models.EmbeddedCache{},
			"statistics.totalThumbnails":    0,
			"statistics.totalThumbnailSize": 0,
			"statistics.totalCacheFiles":    0,
			"statistics.totalCacheSize":     0,
			"updatedAt":                     time.Now().UTC(),
		},
	}

	result, uerr := s.db.Collection(collCollections).
		UpdateOne(ctx, bson.M{"_id": collectionID, "isDeleted": false}, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
		return err
	}
	return nil
}

// RecalculateStatistics recomputes the denormalized counters from the
// embedded arrays in a single pipeline update, so readers never observe a
// partially recalculated document.
func (s *Store) RecalculateStatistics(ctx context.Context, collectionID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("recalculate_statistics", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"statistics.totalItems":         bson.M{"$size": bson.M{"$ifNull": bson.A{"$images", bson.A{}}}},
			"statistics.totalSize":          bson.M{"$sum": bson.M{"$ifNull": bson.A{"$images.fileSize", bson.A{}}}},
			"statistics.totalThumbnails":    bson.M{"$size": bson.M{"$ifNull": bson.A{"$thumbnails", bson.A{}}}},
			"statistics.totalThumbnailSize": bson.M{"$sum": bson.M{"$ifNull": bson.A{"$thumbnails.fileSize", bson.A{}}}},
			"statistics.totalCacheFiles":    bson.M{"$size": bson.M{"$ifNull": bson.A{"$cacheImages", bson.A{}}}},
			"statistics.totalCacheSize":     bson.M{"$sum": bson.M{"$ifNull": bson.A{"$cacheImages.fileSize", bson.A{}}}},
			"updatedAt":                     "$$NOW",
		}}},
	}

	result, uerr := s.db.Collection(collCollections).
		UpdateOne(ctx, bson.M{"_id": collectionID}, update)
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
		return err
	}
	return nil
}

// SoftDeleteCollection marks a collection deleted. Its artifacts stay on
// disk until cache cleanup removes them.
func (s *Store) SoftDeleteCollection(ctx context.Context, collectionID string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("soft_delete_collection", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	result, uerr := s.db.Collection(collCollections).UpdateOne(ctx,
		bson.M{"_id": collectionID, "isDeleted": false},
		bson.M{"$set": bson.M{"isDeleted": true, "updatedAt": time.Now().UTC()}})
	if uerr != nil {
		err = uerr
		return err
	}
	if result.MatchedCount == 0 {
		err = fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
		return err
	}
	return nil
}

// classifyNoMatch distinguishes a missing collection from a guard rejection
// after a conditional update matched nothing.
func (s *Store) classifyNoMatch(ctx context.Context, collectionID string) error {
	count, cerr := s.db.Collection(collCollections).
		CountDocuments(ctx, bson.M{"_id": collectionID, "isDeleted": false})
	if cerr != nil {
		return cerr
	}
	if count == 0 {
		return fmt.Errorf("%w: collection %s", ErrNotFound, collectionID)
	}
	return ErrDuplicate
}
