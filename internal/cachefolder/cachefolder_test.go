package cachefolder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
)

// ============================================================================
// Fake folder store
// ============================================================================

type fakeFolderStore struct {
	mu                sync.Mutex
	folders           []models.CacheFolder
	reserveCalls      int
	conflictsToInject int
	listErr           error
}

func (f *fakeFolderStore) ListActiveFolders(_ context.Context) ([]models.CacheFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.CacheFolder
	for _, fl := range f.folders {
		if fl.IsActive {
			out = append(out, fl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RemainingBytes() > out[j].RemainingBytes()
	})
	return out, nil
}

func (f *fakeFolderStore) ReserveBytes(_ context.Context, folderID string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++
	if f.conflictsToInject > 0 {
		f.conflictsToInject--
		return fmt.Errorf("%w: injected race", store.ErrConflict)
	}
	for i := range f.folders {
		fl := &f.folders[i]
		if fl.ID != folderID {
			continue
		}
		if !fl.IsActive || fl.CurrentSizeBytes+size > fl.MaxSizeBytes {
			return fmt.Errorf("%w: folder %s cannot fit %d bytes", store.ErrConflict, folderID, size)
		}
		fl.CurrentSizeBytes += size
		return nil
	}
	return fmt.Errorf("%w: folder %s cannot fit %d bytes", store.ErrConflict, folderID, size)
}

func (f *fakeFolderStore) ReleaseBytes(_ context.Context, folderID string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.folders {
		fl := &f.folders[i]
		if fl.ID == folderID {
			fl.CurrentSizeBytes -= size
			if fl.CurrentSizeBytes < 0 {
				fl.CurrentSizeBytes = 0
			}
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeFolderStore) used(folderID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fl := range f.folders {
		if fl.ID == folderID {
			return fl.CurrentSizeBytes
		}
	}
	return -1
}

func folder(id string, priority int, maxBytes int64) models.CacheFolder {
	return models.CacheFolder{
		ID:           id,
		Name:         id,
		Path:         "/cache/" + id,
		Priority:     priority,
		MaxSizeBytes: maxBytes,
		IsActive:     true,
	}
}

// ============================================================================
// Allocation
// ============================================================================

func TestAllocateSpreadsAcrossFoldersByPriority(t *testing.T) {
	const megabyte = 1 << 20
	const artifact = 300 << 10 // 300 KB

	fs := &fakeFolderStore{folders: []models.CacheFolder{
		folder("a", 1, megabyte),
		folder("b", 2, megabyte),
		folder("c", 3, megabyte),
	}}
	a := NewAllocator(fs)
	ctx := context.Background()

	// Each 1 MB folder fits three 300 KB artifacts. The first nine
	// allocations fill a, then b, then c; the tenth finds no capacity.
	var placements []string
	for i := 0; i < 9; i++ {
		p, err := a.Allocate(ctx, artifact)
		if err != nil {
			t.Fatalf("Allocate() #%d error = %v", i+1, err)
		}
		placements = append(placements, p.FolderID)
	}

	want := []string{"a", "a", "a", "b", "b", "b", "c", "c", "c"}
	for i := range want {
		if placements[i] != want[i] {
			t.Errorf("placement[%d] = %s, want %s", i, placements[i], want[i])
		}
	}

	if _, err := a.Allocate(ctx, artifact); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("tenth Allocate() error = %v, want ErrNoCapacity", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if got := fs.used(id); got != 3*artifact {
			t.Errorf("folder %s used = %d, want %d", id, got, 3*artifact)
		}
	}
}

func TestAllocateBreaksPriorityTiesByRemaining(t *testing.T) {
	fs := &fakeFolderStore{folders: []models.CacheFolder{
		folder("tight", 1, 1000),
		folder("roomy", 1, 5000),
	}}
	a := NewAllocator(fs)

	p, err := a.Allocate(context.Background(), 500)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if p.FolderID != "roomy" {
		t.Errorf("Allocate() placed on %s, want roomy", p.FolderID)
	}
}

func TestAllocateSkipsInactiveFolders(t *testing.T) {
	inactive := folder("off", 1, 1<<20)
	inactive.IsActive = false

	fs := &fakeFolderStore{folders: []models.CacheFolder{
		inactive,
		folder("on", 2, 1<<20),
	}}
	a := NewAllocator(fs)

	p, err := a.Allocate(context.Background(), 100)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if p.FolderID != "on" {
		t.Errorf("Allocate() placed on %s, want on", p.FolderID)
	}
}

func TestAllocateRetriesAfterLostRace(t *testing.T) {
	fs := &fakeFolderStore{
		folders:           []models.CacheFolder{folder("a", 1, 1 << 20)},
		conflictsToInject: 1,
	}
	a := NewAllocator(fs)

	p, err := a.Allocate(context.Background(), 100)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if p.FolderID != "a" {
		t.Errorf("Allocate() placed on %s, want a", p.FolderID)
	}
	if fs.reserveCalls != 2 {
		t.Errorf("reserve calls = %d, want 2", fs.reserveCalls)
	}
}

func TestAllocateGivesUpAfterBoundedRetries(t *testing.T) {
	fs := &fakeFolderStore{
		folders:           []models.CacheFolder{folder("a", 1, 1 << 20)},
		conflictsToInject: 100,
	}
	a := NewAllocator(fs)

	_, err := a.Allocate(context.Background(), 100)
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("Allocate() error = %v, want ErrNoCapacity", err)
	}
	if fs.reserveCalls != maxAllocateAttempts {
		t.Errorf("reserve calls = %d, want %d", fs.reserveCalls, maxAllocateAttempts)
	}
}

func TestAllocateBacksOffBetweenPasses(t *testing.T) {
	fs := &fakeFolderStore{
		folders:           []models.CacheFolder{folder("a", 1, 1 << 20)},
		conflictsToInject: 1,
	}
	a := NewAllocator(fs)

	start := time.Now()
	if _, err := a.Allocate(context.Background(), 100); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Allocate() recovered after %v, want at least 25ms between passes", elapsed)
	}
}

func TestAllocateBackoffHonorsCancellation(t *testing.T) {
	fs := &fakeFolderStore{
		folders:           []models.CacheFolder{folder("a", 1, 1 << 20)},
		conflictsToInject: 100,
	}
	a := NewAllocator(fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Allocate(ctx, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Allocate() error = %v, want context.Canceled", err)
	}
	if fs.reserveCalls != 1 {
		t.Errorf("reserve calls = %d, want 1 before the backoff noticed cancellation", fs.reserveCalls)
	}
}

func TestAllocateNoFolders(t *testing.T) {
	a := NewAllocator(&fakeFolderStore{})

	if _, err := a.Allocate(context.Background(), 100); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("Allocate() error = %v, want ErrNoCapacity", err)
	}
}

func TestAllocateOversizedArtifact(t *testing.T) {
	fs := &fakeFolderStore{folders: []models.CacheFolder{folder("a", 1, 1000)}}
	a := NewAllocator(fs)

	if _, err := a.Allocate(context.Background(), 2000); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("Allocate() error = %v, want ErrNoCapacity", err)
	}
	if fs.reserveCalls != 0 {
		t.Errorf("reserve calls = %d, want 0 for an artifact nothing can fit", fs.reserveCalls)
	}
}

func TestAllocateListError(t *testing.T) {
	fs := &fakeFolderStore{listErr: errors.New("mongo down")}
	a := NewAllocator(fs)

	if _, err := a.Allocate(context.Background(), 100); err == nil {
		t.Error("Allocate() error = nil, want list error propagated")
	}
}

// ============================================================================
// Artifact writes
// ============================================================================

func TestWriteCreatesArtifact(t *testing.T) {
	dir := t.TempDir()
	f := folder("a", 1, 1<<20)
	f.Path = dir

	fs := &fakeFolderStore{folders: []models.CacheFolder{f}}
	a := NewAllocator(fs)

	data := []byte("derivative bytes")
	name := ThumbnailFileName("img-1", 256, 256, mediatypes.FormatJPEG)

	artifact, err := a.Write(context.Background(), KindThumbnail, "coll-1", name, data)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	wantPath := filepath.Join(dir, "coll-1", "img-1_thumb_256x256.jpeg")
	if artifact.StoragePath != wantPath {
		t.Errorf("StoragePath = %q, want %q", artifact.StoragePath, wantPath)
	}
	if artifact.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(data))
	}

	got, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("artifact content = %q, want %q", got, data)
	}

	if used := fs.used("a"); used != int64(len(data)) {
		t.Errorf("folder used = %d, want %d", used, len(data))
	}
}

func TestWriteFailureReleasesReservation(t *testing.T) {
	dir := t.TempDir()

	// Make the collection segment unusable by placing a regular file where
	// the directory must go.
	if err := os.WriteFile(filepath.Join(dir, "coll-1"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	f := folder("a", 1, 1<<20)
	f.Path = dir

	fs := &fakeFolderStore{folders: []models.CacheFolder{f}}
	a := NewAllocator(fs)

	_, err := a.Write(context.Background(), KindCache, "coll-1", "img-1_100x100_q85.webp", []byte("data"))
	if err == nil {
		t.Fatal("Write() error = nil, want mkdir failure")
	}

	if used := fs.used("a"); used != 0 {
		t.Errorf("folder used = %d after failed write, want 0", used)
	}
}

func TestDiscardRemovesArtifactAndReleases(t *testing.T) {
	dir := t.TempDir()
	f := folder("a", 1, 1<<20)
	f.Path = dir

	fs := &fakeFolderStore{folders: []models.CacheFolder{f}}
	a := NewAllocator(fs)
	ctx := context.Background()

	artifact, err := a.Write(ctx, KindCache, "coll-1", "img-1_100x100_q85.webp", []byte("data"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := a.Discard(ctx, artifact); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	if _, err := os.Stat(artifact.StoragePath); !os.IsNotExist(err) {
		t.Errorf("artifact still exists after Discard, stat err = %v", err)
	}
	if used := fs.used("a"); used != 0 {
		t.Errorf("folder used = %d after Discard, want 0", used)
	}
}

// ============================================================================
// File names
// ============================================================================

func TestArtifactFileNames(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "thumbnail jpeg",
			got:  ThumbnailFileName("abc", 256, 256, mediatypes.FormatJPEG),
			want: "abc_thumb_256x256.jpeg",
		},
		{
			name: "thumbnail png",
			got:  ThumbnailFileName("abc", 128, 96, mediatypes.FormatPNG),
			want: "abc_thumb_128x96.png",
		},
		{
			name: "cache webp",
			got:  CacheFileName("abc", 1920, 1080, 85, mediatypes.FormatWebP),
			want: "abc_1920x1080_q85.webp",
		},
		{
			name: "cache jpeg low quality",
			got:  CacheFileName("xyz", 640, 480, 60, mediatypes.FormatJPEG),
			want: "xyz_640x480_q60.jpeg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("file name = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
