package models

import (
	"time"

	"imageviewer-pipeline/internal/mediatypes"
)

// CollectionType identifies how a collection's path is read.
type CollectionType string

const (
	CollectionDirectory CollectionType = "directory"
	CollectionZip       CollectionType = "zip"
	CollectionSevenZip  CollectionType = "sevenzip"
	CollectionRar       CollectionType = "rar"
	CollectionTar       CollectionType = "tar"
)

// CollectionTypeForArchive maps an archive format to its collection type.
func CollectionTypeForArchive(format mediatypes.ArchiveFormat) CollectionType {
	switch format {
	case mediatypes.ArchiveZip:
		return CollectionZip
	case mediatypes.ArchiveSevenZip:
		return CollectionSevenZip
	case mediatypes.ArchiveRar:
		return CollectionRar
	case mediatypes.ArchiveTar:
		return CollectionTar
	}
	return CollectionDirectory
}

// IsArchive reports whether the collection is backed by an archive container
// rather than a plain directory.
func (t CollectionType) IsArchive() bool {
	return t != CollectionDirectory && t != ""
}

// Collection is the ingest unit: one directory or archive whose images the
// pipeline enumerates and derives. The embedded arrays are only ever mutated
// through the store's atomic push operations.
type Collection struct {
	ID          string               `bson:"_id" json:"id"`
	LibraryID   string               `bson:"libraryId" json:"libraryId"`
	Name        string               `bson:"name" json:"name"`
	Path        string               `bson:"path" json:"path"`
	Type        CollectionType       `bson:"type" json:"type"`
	Settings    CollectionSettings   `bson:"settings" json:"settings"`
	Images      []EmbeddedImage      `bson:"images" json:"images"`
	Thumbnails  []EmbeddedThumbnail  `bson:"thumbnails" json:"thumbnails"`
	CacheImages []EmbeddedCache      `bson:"cacheImages" json:"cacheImages"`
	Statistics  CollectionStatistics `bson:"statistics" json:"statistics"`
	IsDeleted   bool                 `bson:"isDeleted" json:"isDeleted"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// EmbeddedImage is one source image inside a collection. For archive entries
// RelativePath is "<archive-path>#<inner-entry>"; the '#' separator is
// literal, and archive paths containing '#' are preserved verbatim.
type EmbeddedImage struct {
	ID           string                 `bson:"id" json:"id"`
	FileName     string                 `bson:"fileName" json:"fileName"`
	RelativePath string                 `bson:"relativePath" json:"relativePath"`
	FileSize     int64                  `bson:"fileSize" json:"fileSize"`
	Width        int                    `bson:"width" json:"width"`
	Height       int                    `bson:"height" json:"height"`
	Format       mediatypes.ImageFormat `bson:"format" json:"format"`
	IsDeleted    bool                   `bson:"isDeleted" json:"isDeleted"`
}

// EmbeddedThumbnail is one generated thumbnail artifact. At most one exists
// per (imageId, width, height).
type EmbeddedThumbnail struct {
	ImageID     string                 `bson:"imageId" json:"imageId"`
	Width       int                    `bson:"width" json:"width"`
	Height      int                    `bson:"height" json:"height"`
	Format      mediatypes.ImageFormat `bson:"format" json:"format"`
	Quality     int                    `bson:"quality" json:"quality"`
	StoragePath string                 `bson:"storagePath" json:"storagePath"`
	FileSize    int64                  `bson:"fileSize" json:"fileSize"`
	GeneratedAt time.Time              `bson:"generatedAt" json:"generatedAt"`
}

// EmbeddedCache is one generated cache artifact. At most one exists per imageId.
type EmbeddedCache struct {
	ImageID     string                 `bson:"imageId" json:"imageId"`
	Width       int                    `bson:"width" json:"width"`
	Height      int                    `bson:"height" json:"height"`
	Format      mediatypes.ImageFormat `bson:"format" json:"format"`
	Quality     int                    `bson:"quality" json:"quality"`
	StoragePath string                 `bson:"storagePath" json:"storagePath"`
	FileSize    int64                  `bson:"fileSize" json:"fileSize"`
	GeneratedAt time.Time              `bson:"generatedAt" json:"generatedAt"`
}

// CollectionStatistics are denormalized counters maintained by the same
// atomic updates that grow the embedded arrays.
type CollectionStatistics struct {
	TotalItems         int64 `bson:"totalItems" json:"totalItems"`
	TotalSize          int64 `bson:"totalSize" json:"totalSize"`
	TotalThumbnails    int64 `bson:"totalThumbnails" json:"totalThumbnails"`
	TotalThumbnailSize int64 `bson:"totalThumbnailSize" json:"totalThumbnailSize"`
	TotalCacheFiles    int64 `bson:"totalCacheFiles" json:"totalCacheFiles"`
	TotalCacheSize     int64 `bson:"totalCacheSize" json:"totalCacheSize"`
}

// CollectionSettings control derivative generation for one collection.
// Zero values are filled from system settings at scan time.
type CollectionSettings struct {
	ThumbnailWidth   int                    `bson:"thumbnailWidth" json:"thumbnailWidth"`
	ThumbnailHeight  int                    `bson:"thumbnailHeight" json:"thumbnailHeight"`
	CacheWidth       int                    `bson:"cacheWidth" json:"cacheWidth"`
	CacheHeight      int                    `bson:"cacheHeight" json:"cacheHeight"`
	Quality          int                    `bson:"quality" json:"quality"`
	EnableCache      bool                   `bson:"enableCache" json:"enableCache"`
	AutoScan         bool                   `bson:"autoScan" json:"autoScan"`
	PreserveOriginal bool                   `bson:"preserveOriginal" json:"preserveOriginal"`
	Format           mediatypes.ImageFormat `bson:"format" json:"format"`
}
