package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"imageviewer-pipeline/internal/filesystem"
)

// enumerateDir walks a directory collection recursively. Every regular file
// becomes an entry; classification to image or dummy happens downstream.
func (r *Reader) enumerateDir(ctx context.Context, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := checkCtx(ctx); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			RelativePath:  path,
			SizeHint:      info.Size(),
			IsLikelyImage: isLikelyImage(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return entries, nil
}

// openLooseFile opens a plain file on disk, enforcing the loose file cap.
func (r *Reader) openLooseFile(path string) (io.ReadCloser, int64, error) {
	info, err := filesystem.StatWithRetry(path, r.retry)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrEntryNotFound, path, err)
	}
	if info.Size() > r.maxLooseFileSize {
		return nil, 0, fmt.Errorf("%w: %s is %d bytes (cap %d)", ErrEntryTooLarge, path, info.Size(), r.maxLooseFileSize)
	}

	f, err := filesystem.OpenWithRetry(path, r.retry)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, info.Size(), nil
}
