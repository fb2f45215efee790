package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/filesystem"
	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// candidate is one directory or archive found under a parent path.
type candidate struct {
	name  string
	path  string
	ctype models.CollectionType
}

// handleCollectionCreation expands a parent path into collection candidates,
// creates the ones that do not exist yet, and publishes a scan for each new
// collection when autoAdd is set.
func (p *Pipeline) handleCollectionCreation(ctx context.Context, body []byte) error {
	var msg messages.CollectionCreation
	if err := messages.Decode(body, &msg); err != nil {
		return fmt.Errorf("decoding collection.creation: %w", err)
	}
	if msg.ParentPath == "" {
		return fmt.Errorf("%w: collection.creation %s has no parentPath", errPermanent, msg.ID)
	}

	info, err := filesystem.StatWithRetry(msg.ParentPath, filesystem.DefaultRetryConfig())
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: parent path %s does not exist", errPermanent, msg.ParentPath)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", msg.ParentPath, err)
	}

	var candidates []candidate
	if info.IsDir() {
		candidates, err = expandParentPath(msg.ParentPath, msg.IncludeSubfolders)
		if err != nil {
			return fmt.Errorf("expanding %s: %w", msg.ParentPath, err)
		}
	} else if c, ok := archiveCandidate(msg.ParentPath); ok {
		// Pointing bulk-add at a single archive file adds just that archive.
		candidates = []candidate{c}
	} else {
		return fmt.Errorf("%w: parent path %s is neither a directory nor an archive", errPermanent, msg.ParentPath)
	}

	var created, existing, archives int
	for _, c := range candidates {
		if msg.Prefix != "" && !strings.HasPrefix(c.name, msg.Prefix) {
			continue
		}

		if _, gerr := p.store.GetCollectionByPath(ctx, c.path); gerr == nil {
			existing++
			continue
		} else if !errors.Is(gerr, store.ErrNotFound) {
			return fmt.Errorf("looking up collection for %s: %w", c.path, gerr)
		}

		col := &models.Collection{
			ID:        uuid.New().String(),
			LibraryID: msg.LibraryID,
			Name:      c.name,
			Path:      c.path,
			Type:      c.ctype,
			Settings:  msg.Settings,
		}
		col.Settings.AutoScan = msg.AutoAdd

		if cerr := p.store.CreateCollection(ctx, col); cerr != nil {
			if errors.Is(cerr, store.ErrDuplicate) {
				// Another creation worker won the insert race.
				existing++
				continue
			}
			return fmt.Errorf("creating collection %s: %w", c.path, cerr)
		}
		created++
		if c.ctype.IsArchive() {
			archives++
		}

		if msg.AutoAdd {
			scan := messages.CollectionScan{
				Envelope:     messages.NewEnvelope(messages.TypeCollectionScan, msg.CorrelationID),
				CollectionID: col.ID,
			}
			if perr := p.bus.PublishMessage(ctx, broker.QueueCollectionScan, scan); perr != nil {
				return fmt.Errorf("publishing scan for %s: %w", col.ID, perr)
			}
		}
	}

	if created > 0 && msg.LibraryID != "" {
		delta := models.LibraryStatistics{TotalCollections: int64(created)}
		if lerr := p.store.IncrementLibraryStatistics(ctx, msg.LibraryID, delta); lerr != nil {
			logging.Warn("Updating library %s statistics: %v", msg.LibraryID, lerr)
		}
	}

	logging.Info("Expanded %s into %d new collections (%d archive-backed, %d already present, autoAdd=%t)",
		msg.ParentPath, created, archives, existing, msg.AutoAdd)
	return nil
}

// expandParentPath lists the collection candidates under a parent directory:
// every direct subdirectory, every archive file directly inside it, and,
// when includeSubfolders is set, archives at any depth below.
func expandParentPath(parent string, includeSubfolders bool) ([]candidate, error) {
	entries, err := filesystem.ReadDirWithRetry(parent, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, e := range entries {
		full := filepath.Join(parent, e.Name())
		if e.IsDir() {
			out = append(out, candidate{name: e.Name(), path: full, ctype: models.CollectionDirectory})
			if includeSubfolders {
				nested, nerr := nestedArchives(full)
				if nerr != nil {
					return nil, nerr
				}
				out = append(out, nested...)
			}
			continue
		}
		if c, ok := archiveCandidate(full); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// nestedArchives walks a subtree collecting archive files.
func nestedArchives(root string) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if c, ok := archiveCandidate(path); ok {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// archiveCandidate classifies a file path as an archive-backed collection.
// The candidate name drops the container extension.
func archiveCandidate(path string) (candidate, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	format := mediatypes.GetArchiveFormat(ext)
	if format == mediatypes.ArchiveNone {
		return candidate{}, false
	}
	base := filepath.Base(path)
	return candidate{
		name:  strings.TrimSuffix(base, filepath.Ext(base)),
		path:  path,
		ctype: models.CollectionTypeForArchive(format),
	}, true
}
