package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"
)

// enumerateSevenZip lists the members of a 7z container from its header
// tables without decompressing any stream.
func (r *Reader) enumerateSevenZip(ctx context.Context, path string) ([]Entry, error) {
	zr, err := sevenzip.OpenReader(path)
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
			SizeHint:      int64(f.UncompressedSize),
			IsLikelyImage: isLikelyImage(f.Name),
		})
	}
	return entries, nil
}

// openSevenZipEntry opens one member by its stored name. 7z packs files into
// solid streams, so the decoder may decompress preceding members of the same
// stream internally; the caller only sees the requested entry.
func (r *Reader) openSevenZipEntry(archivePath, innerPath string) (io.ReadCloser, int64, error) {
	zr, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
	}

	for _, f := range zr.File {
		if f.Name != innerPath || f.FileInfo().IsDir() {
			continue
		}
		size := int64(f.UncompressedSize)
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
