package models

import "time"

// System settings keys. Keys use dot notation; PascalCase keys from earlier
// deployments are legacy and removed by the settings cleanup migration.
const (
	SettingCacheDefaultFit         = "cache.default.fit"
	SettingCacheDefaultFormat      = "cache.default.format"
	SettingCacheDefaultQuality     = "cache.default.quality"
	SettingThumbnailDefaultFit     = "thumbnail.default.fit"
	SettingThumbnailDefaultFormat  = "thumbnail.default.format"
	SettingThumbnailDefaultQuality = "thumbnail.default.quality"
	SettingThumbnailDefaultSize    = "thumbnail.default.size"
)

// SystemSetting is one process-wide configuration value.
type SystemSetting struct {
	Key       string    `bson:"_id" json:"key"`
	Value     string    `bson:"value" json:"value"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
