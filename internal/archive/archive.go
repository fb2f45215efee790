package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/facette/natsort"

	"imageviewer-pipeline/internal/filesystem"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/models"
)

// Sentinel errors, mapped by the pipeline onto the job error summary.
var (
	// ErrArchiveCorrupt means the container could not be opened or its
	// central directory is unreadable.
	ErrArchiveCorrupt = errors.New("archive corrupt")
	// ErrEntryTooLarge means an entry exceeds the configured size cap.
	ErrEntryTooLarge = errors.New("entry too large")
	// ErrStreamTruncated means an entry body ended before its declared size.
	ErrStreamTruncated = errors.New("stream truncated")
	// ErrEntryNotFound means the addressed entry is absent from the container.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrUnsupportedArchive means the collection type has no reader.
	ErrUnsupportedArchive = errors.New("unsupported archive type")
)

// Default entry size caps.
const (
	DefaultMaxEntrySize     = 20 << 30  // archive members
	DefaultMaxLooseFileSize = 500 << 20 // loose files in directory collections
)

// EntrySeparator joins an archive path to an inner entry path.
const EntrySeparator = "#"

// Entry is one enumerable item of a collection. RelativePath is the full
// addressable path: the absolute file path for directory collections, or
// "<archive-path>#<inner-entry>" for archive members.
type Entry struct {
	RelativePath  string
	SizeHint      int64
	IsLikelyImage bool
}

// Reader enumerates and opens collection entries with size caps enforced.
type Reader struct {
	maxEntrySize     int64
	maxLooseFileSize int64
	retry            filesystem.RetryConfig
}

// NewReader creates a Reader with the given size caps. Zero caps fall back
// to the defaults.
func NewReader(maxEntrySize, maxLooseFileSize int64) *Reader {
	if maxEntrySize <= 0 {
		maxEntrySize = DefaultMaxEntrySize
	}
	if maxLooseFileSize <= 0 {
		maxLooseFileSize = DefaultMaxLooseFileSize
	}
	return &Reader{
		maxEntrySize:     maxEntrySize,
		maxLooseFileSize: maxLooseFileSize,
		retry:            filesystem.DefaultRetryConfig(),
	}
}

// Enumerate lists the entries of a collection in natural sort order.
// Entry bodies are not read; only container metadata is touched.
func (r *Reader) Enumerate(ctx context.Context, path string, ctype models.CollectionType) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)

	switch ctype {
	case models.CollectionDirectory:
		entries, err = r.enumerateDir(ctx, path)
	case models.CollectionZip:
		entries, err = r.enumerateZip(ctx, path)
	case models.CollectionSevenZip:
		entries, err = r.enumerateSevenZip(ctx, path)
	case models.CollectionRar:
		entries, err = r.enumerateRar(ctx, path)
	case models.CollectionTar:
		entries, err = r.enumerateTar(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedArchive, ctype)
	}
	if err != nil {
		return nil, err
	}

	sortEntries(entries)
	return entries, nil
}

// Open returns a reader over one entry's bytes plus the entry size. The
// returned ReadCloser owns every underlying handle; closing it releases the
// container on all paths. Size caps are enforced against container metadata
// before any body bytes are read.
func (r *Reader) Open(ctx context.Context, entryPath string, ctype models.CollectionType) (io.ReadCloser, int64, error) {
	if ctype == models.CollectionDirectory {
		return r.openLooseFile(entryPath)
	}

	container, inner := SplitEntryPath(entryPath)
	if inner == "" {
		return nil, 0, fmt.Errorf("%w: %q has no inner entry", ErrEntryNotFound, entryPath)
	}

	switch ctype {
	case models.CollectionZip:
		return r.openZipEntry(container, inner)
	case models.CollectionSevenZip:
		return r.openSevenZipEntry(container, inner)
	case models.CollectionRar:
		return r.openRarEntry(container, inner)
	case models.CollectionTar:
		return r.openTarEntry(container, inner)
	}
	return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedArchive, ctype)
}

// ReadEntry opens an entry and reads it fully. Bodies that end before the
// declared size surface as ErrStreamTruncated. Entries without a declared
// size (rar can omit it) are read up to the entry cap and rejected as too
// large past it.
func (r *Reader) ReadEntry(ctx context.Context, entryPath string, ctype models.CollectionType) ([]byte, error) {
	rc, size, err := r.Open(ctx, entryPath, ctype)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	limit := size
	if limit < 0 {
		limit = r.maxEntrySize + 1
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStreamTruncated, entryPath, err)
	}
	if size >= 0 && int64(len(data)) < size {
		return nil, fmt.Errorf("%w: %s: got %d of %d bytes", ErrStreamTruncated, entryPath, len(data), size)
	}
	if size < 0 && int64(len(data)) > r.maxEntrySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, entryPath, r.maxEntrySize)
	}
	return data, nil
}

// JoinEntryPath composes the addressable path of an archive member.
func JoinEntryPath(archivePath, innerPath string) string {
	return archivePath + EntrySeparator + innerPath
}

// SplitEntryPath splits an addressable path into its container path and
// inner entry path. Because both the archive name and the inner entry may
// contain '#', candidates are tried from the last '#' backward and the
// longest prefix that exists as a file on disk wins: composition appends
// '#inner' to the real container path, so the longest existing prefix is
// its faithful inverse. A path with no viable split is a loose file:
// container is the whole path and inner is empty.
func SplitEntryPath(entryPath string) (container, inner string) {
	for i := len(entryPath) - 1; i > 0; i-- {
		if entryPath[i] != '#' {
			continue
		}
		prefix := entryPath[:i]
		if info, err := filesystem.StatWithRetry(prefix, filesystem.DefaultRetryConfig()); err == nil && !info.IsDir() {
			return prefix, entryPath[i+1:]
		}
	}
	return entryPath, ""
}

// isLikelyImage classifies an entry name by extension.
func isLikelyImage(name string) bool {
	return mediatypes.IsImageFile(strings.ToLower(filepath.Ext(name)))
}

// sortEntries orders entries naturally by path so enumeration order, and
// therefore image ID allocation, is stable across runs.
func sortEntries(entries []Entry) {
	paths := make([]string, len(entries))
	byPath := make(map[string]Entry, len(entries))
	for i, e := range entries {
		paths[i] = e.RelativePath
		byPath[e.RelativePath] = e
	}
	natsort.Sort(paths)
	for i, p := range paths {
		entries[i] = byPath[p]
	}
}

// entryReadCloser ties an entry body reader to the container handles that
// must be released with it.
type entryReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (e *entryReadCloser) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// checkCtx lets long enumerations bail out when the handler deadline hits.
func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
