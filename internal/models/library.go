package models

import "time"

// Library groups collections and carries the parent-level aggregate the
// collection store maintains symmetrically with collection statistics.
type Library struct {
	ID          string            `bson:"_id" json:"id"`
	Name        string            `bson:"name" json:"name"`
	Description string            `bson:"description,omitempty" json:"description,omitempty"`
	Statistics  LibraryStatistics `bson:"statistics" json:"statistics"`
	CreatedAt   time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time         `bson:"updatedAt" json:"updatedAt"`
}

type LibraryStatistics struct {
	TotalCollections   int64 `bson:"totalCollections" json:"totalCollections"`
	TotalImages        int64 `bson:"totalImages" json:"totalImages"`
	TotalSize          int64 `bson:"totalSize" json:"totalSize"`
	TotalThumbnails    int64 `bson:"totalThumbnails" json:"totalThumbnails"`
	TotalThumbnailSize int64 `bson:"totalThumbnailSize" json:"totalThumbnailSize"`
	TotalCacheFiles    int64 `bson:"totalCacheFiles" json:"totalCacheFiles"`
	TotalCacheSize     int64 `bson:"totalCacheSize" json:"totalCacheSize"`
}
