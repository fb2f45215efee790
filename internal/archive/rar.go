package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nwaples/rardecode/v2"
)

// enumerateRar walks the header chain of a rar container. Solid archives
// still enumerate cheaply because bodies are skipped, not decompressed.
func (r *Reader) enumerateRar(ctx context.Context, path string) ([]Entry, error) {
	rr, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}
	defer rr.Close()

	var entries []Entry
	for {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
		}
		if hdr.IsDir {
			continue
		}
		size := hdr.UnPackedSize
		if hdr.UnKnownSize {
			size = -1
		}
		entries = append(entries, Entry{
			RelativePath:  JoinEntryPath(path, hdr.Name),
			SizeHint:      size,
			IsLikelyImage: isLikelyImage(hdr.Name),
		})
	}
	return entries, nil
}

// openRarEntry scans forward to the named member. The rar reader is the
// body reader once positioned, so the container closer is all that is held.
func (r *Reader) openRarEntry(archivePath, innerPath string) (io.ReadCloser, int64, error) {
	rr, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
	}

	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rr.Close()
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
		}
		if hdr.IsDir || hdr.Name != innerPath {
			continue
		}
		size := hdr.UnPackedSize
		if hdr.UnKnownSize {
			size = -1
		}
		if size > r.maxEntrySize {
			rr.Close()
			return nil, 0, fmt.Errorf("%w: %s is %d bytes (cap %d)", ErrEntryTooLarge, innerPath, size, r.maxEntrySize)
		}
		return &entryReadCloser{Reader: rr, closers: []io.Closer{rr}}, size, nil
	}

	rr.Close()
	return nil, 0, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, innerPath, archivePath)
}
