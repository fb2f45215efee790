// Package mediatypes classifies the files the image pipeline encounters:
// which extensions are images, which are archive containers, and what an
// image stream's magic bytes actually encode.
//
// It sits at the bottom of the import graph (types and pure functions only)
// so archive, render and pipeline can all depend on it without cycles.
//
// IsImageFile and GetArchiveFormat bucket a lowercased extension:
//
//	ext := strings.ToLower(filepath.Ext(name))
//	if mediatypes.IsImageFile(ext) { ... }                          // decodable image
//	if f := mediatypes.GetArchiveFormat(ext); f != mediatypes.ArchiveNone { ... } // container
//
// Comic-book aliases (.cbz, .cb7, .cbr, .cbt) count as archives;
// GetArchiveFormat maps them to the underlying container format.
//
// Extensions lie, so the renderer never trusts them alone: SniffImageFormat
// inspects a stream's leading magic bytes and reports the actual encoding,
// FormatUnknown when it is not a supported image. The raw extension maps
// (ImageExtensions, ArchiveExtensions) are exported for validation and
// iteration.
package mediatypes
