package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"

	"imageviewer-pipeline/internal/filesystem"
)

// enumerateTar scans the header chain of a tar container. Bodies are skipped
// by the tar reader, so this stays cheap even for large archives.
func (r *Reader) enumerateTar(ctx context.Context, path string) ([]Entry, error) {
	f, err := filesystem.OpenWithRetry(path, r.retry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}
	defer f.Close()

	var entries []Entry
	tr := tar.NewReader(f)
	for {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		entries = append(entries, Entry{
			RelativePath:  JoinEntryPath(path, hdr.Name),
			SizeHint:      hdr.Size,
			IsLikelyImage: isLikelyImage(hdr.Name),
		})
	}
	return entries, nil
}

// openTarEntry scans forward to the named member and hands back a reader
// positioned at its body. Closing the result closes the container file.
func (r *Reader) openTarEntry(archivePath, innerPath string) (io.ReadCloser, int64, error) {
	f, err := filesystem.OpenWithRetry(archivePath, r.retry)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Name != innerPath {
			continue
		}
		if hdr.Size > r.maxEntrySize {
			f.Close()
			return nil, 0, fmt.Errorf("%w: %s is %d bytes (cap %d)", ErrEntryTooLarge, innerPath, hdr.Size, r.maxEntrySize)
		}
		return &entryReadCloser{Reader: tr, closers: []io.Closer{f}}, hdr.Size, nil
	}

	f.Close()
	return nil, 0, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, innerPath, archivePath)
}
