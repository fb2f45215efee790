package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
)

// enumerateZip lists the members of a zip container from its central
// directory without touching compressed bodies.
func (r *Reader) enumerateZip(ctx context.Context, path string) ([]Entry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}
	defer zr.Close()

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{
			RelativePath:  JoinEntryPath(path, f.Name),
			SizeHint:      int64(f.UncompressedSize64),
			IsLikelyImage: isLikelyImage(f.Name),
		})
	}
	return entries, nil
}

// openZipEntry opens one member by its stored name. The returned closer
// releases both the entry stream and the container.
func (r *Reader) openZipEntry(archivePath, innerPath string) (io.ReadCloser, int64, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
	}

	for _, f := range zr.File {
		if f.Name != innerPath {
			continue
		}
		size := int64(f.UncompressedSize64)
		if size > r.maxEntrySize {
			zr.Close()
			return nil, 0, fmt.Errorf("%w: %s is %d bytes (cap %d)", ErrEntryTooLarge, innerPath, size, r.maxEntrySize)
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, 0, fmt.Errorf("%w: opening %s in %s: %v", ErrStreamTruncated, innerPath, archivePath, err)
		}
		return &entryReadCloser{Reader: rc, closers: []io.Closer{rc, zr}}, size, nil
	}

	zr.Close()
	return nil, 0, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, innerPath, archivePath)
}
