package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/models"
)

// Built-in fallbacks used when a settings key is absent.
const (
	defaultThumbnailFormat  = "jpeg"
	defaultThumbnailQuality = 80
	defaultThumbnailSize    = 256
	defaultThumbnailFit     = "contain"
	defaultCacheFormat      = "webp"
	defaultCacheQuality     = 85
	defaultCacheFit         = "inside"
)

// DerivativeDefaults are the resolved system-wide derivative settings. Format
// and fit values are kept as strings; callers parse them and fall back when a
// stored value is unknown.
type DerivativeDefaults struct {
	ThumbnailFormat  string
	ThumbnailQuality int
	ThumbnailSize    int
	ThumbnailFit     string
	CacheFormat      string
	CacheQuality     int
	CacheFit         string
}

// GetSetting returns one setting value, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("get_setting", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	var setting models.SystemSetting
	err = s.db.Collection(collSettings).FindOne(ctx, bson.M{"_id": key}).Decode(&setting)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// SetSetting upserts one setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	start := time.Now()
	var err error
	defer func() { recordOp("set_setting", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err = s.db.Collection(collSettings).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value, "updatedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true))
	return err
}

// ResolveDefaults reads the derivative settings keys, falling back to the
// built-in defaults for any that are absent or malformed.
func (s *Store) ResolveDefaults(ctx context.Context) (DerivativeDefaults, error) {
	d := DerivativeDefaults{
		ThumbnailFormat:  defaultThumbnailFormat,
		ThumbnailQuality: defaultThumbnailQuality,
		ThumbnailSize:    defaultThumbnailSize,
		ThumbnailFit:     defaultThumbnailFit,
		CacheFormat:      defaultCacheFormat,
		CacheQuality:     defaultCacheQuality,
		CacheFit:         defaultCacheFit,
	}

	assignString := func(key string, dst *string) error {
		v, err := s.GetSetting(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if v != "" {
			*dst = v
		}
		return nil
	}
	assignInt := func(key string, dst *int) error {
		v, err := s.GetSetting(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n, perr := strconv.Atoi(v)
		if perr != nil || n <= 0 {
			logging.Warn("Ignoring malformed setting %s=%q", key, v)
			return nil
		}
		*dst = n
		return nil
	}

	steps := []func() error{
		func() error { return assignString(models.SettingThumbnailDefaultFormat, &d.ThumbnailFormat) },
		func() error { return assignInt(models.SettingThumbnailDefaultQuality, &d.ThumbnailQuality) },
		func() error { return assignInt(models.SettingThumbnailDefaultSize, &d.ThumbnailSize) },
		func() error { return assignString(models.SettingThumbnailDefaultFit, &d.ThumbnailFit) },
		func() error { return assignString(models.SettingCacheDefaultFormat, &d.CacheFormat) },
		func() error { return assignInt(models.SettingCacheDefaultQuality, &d.CacheQuality) },
		func() error { return assignString(models.SettingCacheDefaultFit, &d.CacheFit) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return d, err
		}
	}
	return d, nil
}

// CleanupLegacySettings migrates PascalCase settings keys left behind by
// earlier deployments to their dot-notation replacements, then removes the
// legacy documents. A dot-notation key that already exists wins over its
// legacy counterpart.
func (s *Store) CleanupLegacySettings(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordOp("cleanup_legacy_settings", start, err) }()

	ctx, cancel := opContext(ctx)
	defer cancel()

	legacy := map[string]string{
		"CacheDefaultFormat":      models.SettingCacheDefaultFormat,
		"CacheDefaultQuality":     models.SettingCacheDefaultQuality,
		"ThumbnailDefaultFormat":  models.SettingThumbnailDefaultFormat,
		"ThumbnailDefaultQuality": models.SettingThumbnailDefaultQuality,
		"ThumbnailDefaultSize":    models.SettingThumbnailDefaultSize,
	}

	legacyKeys := make(bson.A, 0, len(legacy))
	for k := range legacy {
		legacyKeys = append(legacyKeys, k)
	}

	cursor, ferr := s.db.Collection(collSettings).Find(ctx, bson.M{"_id": bson.M{"$in": legacyKeys}})
	if ferr != nil {
		err = ferr
		return 0, err
	}

	var found []models.SystemSetting
	if err = cursor.All(ctx, &found); err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}

	logging.Info("Migrating %d legacy settings keys to dot notation", len(found))

	for _, setting := range found {
		newKey := legacy[setting.Key]
		// Only copy the value across when the new key is not set yet.
		_, uerr := s.db.Collection(collSettings).UpdateOne(ctx,
			bson.M{"_id": newKey},
			bson.M{"$setOnInsert": bson.M{"value": setting.Value, "updatedAt": time.Now().UTC()}},
			options.Update().SetUpsert(true))
		if uerr != nil {
			err = uerr
			return 0, err
		}
	}

	result, derr := s.db.Collection(collSettings).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": legacyKeys}})
	if derr != nil {
		err = derr
		return 0, err
	}

	logging.Info("Migration complete: removed %d legacy settings keys", result.DeletedCount)
	return result.DeletedCount, nil
}
