package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"imageviewer-pipeline/internal/broker"
	"imageviewer-pipeline/internal/filesystem"
	"imageviewer-pipeline/internal/mediatypes"
	"imageviewer-pipeline/internal/messages"
	"imageviewer-pipeline/internal/models"
	"imageviewer-pipeline/internal/store"
	"imageviewer-pipeline/internal/workers"
)

const (
	// Default timeout for store and broker operations
	defaultTimeout = 30 * time.Second
	// Timeout for commands that walk collections or cache folders on disk
	longTimeout = 10 * time.Minute
)

func main() {
	// Same .env file the daemon reads; a missing file is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	switch command {
	case "bulk-add":
		if !bulkAdd(ctx, args) {
			os.Exit(1)
		}
	case "scan":
		if !scanCollection(ctx, args) {
			os.Exit(1)
		}
	case "remove-collection":
		if !removeCollection(ctx, args) {
			os.Exit(1)
		}
	case "clear-queue":
		if !clearQueue(ctx, args) {
			os.Exit(1)
		}
	case "clear-cache":
		if !clearCache(ctx, args) {
			os.Exit(1)
		}
	case "verify":
		if !verifyCollections(ctx, args) {
			os.Exit(1)
		}
	case "status":
		if !showStatus(ctx, args) {
			os.Exit(1)
		}
	case "cache-folders":
		if !cacheFolders(ctx, args) {
			os.Exit(1)
		}
	case "settings":
		if !manageSettings(ctx, args) {
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		// Sanitize command input using allowlist to break taint chain
		sanitized := sanitizeCommand(command)
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sanitized) //nolint:gosec // G705 - input is sanitized via allowlist in sanitizeCommand; only [a-zA-Z0-9_-] characters pass through
		printUsage()
		os.Exit(1)
	}
}

// sanitizeCommand returns a safe representation of a command string for display.
// It uses an allowlist approach, replacing any character that is not alphanumeric,
// a hyphen, or an underscore with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage() {
	fmt.Println("Image Viewer Pipeline Control")
	fmt.Println("")
	fmt.Println("Usage: pipectl <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  bulk-add           - Expand a parent path into collections and enqueue them")
	fmt.Println("  scan               - Enqueue a scan of one collection")
	fmt.Println("  remove-collection  - Soft-delete a collection (artifacts stay until clear-cache)")
	fmt.Println("  clear-queue        - Purge messages from pipeline queues")
	fmt.Println("  clear-cache        - Remove generated thumbnails and cache images")
	fmt.Println("  verify             - Recompute collection statistics and report drift")
	fmt.Println("  status             - Show job, queue, cache folder and recent run state")
	fmt.Println("  cache-folders      - List, register, enable or disable cache folders")
	fmt.Println("  settings           - Read or write system settings keys")
	fmt.Println("")
	fmt.Println("Run 'pipectl <command> -h' for command flags.")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Println("  MONGO_URI       - MongoDB connection string (default: mongodb://localhost:27017)")
	fmt.Println("  MONGO_DATABASE  - Database name (default: imageviewer)")
	fmt.Println("  AMQP_HOSTNAME   - RabbitMQ host (default: localhost)")
	fmt.Println("  AMQP_PORT, AMQP_USERNAME, AMQP_PASSWORD, AMQP_VHOST")
}

// ============================================================================
// Commands
// ============================================================================

func bulkAdd(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("bulk-add", flag.ExitOnError)
	path := flags.String("path", "", "parent path to expand into collections (required)")
	library := flags.String("library", "", "library name or ID for the new collections (created if missing)")
	prefix := flags.String("prefix", "", "only add candidates whose name starts with this prefix")
	subfolders := flags.Bool("subfolders", false, "also pick up archives nested below subdirectories")
	autoAdd := flags.Bool("auto-add", true, "publish a scan for each newly created collection")
	thumbWidth := flags.Int("thumb-width", 0, "thumbnail width (0 uses the system default)")
	thumbHeight := flags.Int("thumb-height", 0, "thumbnail height (0 uses the system default)")
	cacheWidth := flags.Int("cache-width", 0, "cache image width (0 keeps the source width)")
	cacheHeight := flags.Int("cache-height", 0, "cache image height (0 keeps the source height)")
	quality := flags.Int("quality", 0, "cache encode quality (0 uses the system default)")
	enableCache := flags.Bool("cache", true, "generate cache images in addition to thumbnails")
	format := flags.String("format", "", "cache output format: jpeg, png, gif, webp, bmp, tiff (empty uses the system default)")
	_ = flags.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "Error: -path is required")
		flags.Usage()
		return false
	}

	var cacheFormat mediatypes.ImageFormat
	if *format != "" {
		cacheFormat = mediatypes.ParseImageFormat(*format)
		if cacheFormat == mediatypes.FormatUnknown {
			fmt.Fprintf(os.Stderr, "Error: unknown format %q (want jpeg, png, gif, webp, bmp or tiff)\n", *format)
			return false
		}
	}

	// Add timeout to context for store and broker operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	libraryID, err := resolveLibrary(ctx, st, *library, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: resolving library: %v\n", err)
		return false
	}

	bk, ok := mustConnectBroker(ctx)
	if !ok {
		return false
	}
	defer closeBroker(bk)

	msg := messages.CollectionCreation{
		Envelope:          messages.NewEnvelope(messages.TypeCollectionCreation, ""),
		ParentPath:        *path,
		LibraryID:         libraryID,
		Prefix:            *prefix,
		IncludeSubfolders: *subfolders,
		AutoAdd:           *autoAdd,
		Settings: models.CollectionSettings{
			ThumbnailWidth:  *thumbWidth,
			ThumbnailHeight: *thumbHeight,
			CacheWidth:      *cacheWidth,
			CacheHeight:     *cacheHeight,
			Quality:         *quality,
			EnableCache:     *enableCache,
			Format:          cacheFormat,
		},
	}

	runID := beginRun(ctx, st, "bulk-add-collections", messages.TypeCollectionCreation, map[string]string{
		"parentPath":        *path,
		"libraryId":         libraryID,
		"prefix":            *prefix,
		"includeSubfolders": strconv.FormatBool(*subfolders),
		"autoAdd":           strconv.FormatBool(*autoAdd),
	})

	if err := bk.PublishMessage(ctx, broker.QueueCollectionCreation, msg); err != nil {
		finishRun(ctx, st, runID, "failed", err.Error(), 0)
		fmt.Fprintf(os.Stderr, "Error: publishing collection creation: %v\n", err)
		return false
	}
	finishRun(ctx, st, runID, "enqueued", "", 1)

	fmt.Printf("Enqueued collection creation for %s (message %s)\n", *path, msg.ID)
	fmt.Println("The creation worker expands the path; watch the daemon log or 'pipectl status' for progress.")
	return true
}

func scanCollection(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("scan", flag.ExitOnError)
	collectionID := flags.String("collection", "", "collection ID to scan (required)")
	force := flags.Bool("force", false, "clear embedded images and artifacts before rescanning")
	_ = flags.Parse(args)

	if *collectionID == "" {
		fmt.Fprintln(os.Stderr, "Error: -collection is required")
		flags.Usage()
		return false
	}

	// Add timeout to context for store and broker operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	col, err := st.GetCollectionSummary(ctx, *collectionID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: collection %s not found\n", *collectionID)
		return false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: looking up collection: %v\n", err)
		return false
	}

	bk, ok := mustConnectBroker(ctx)
	if !ok {
		return false
	}
	defer closeBroker(bk)

	msg := messages.CollectionScan{
		Envelope:     messages.NewEnvelope(messages.TypeCollectionScan, ""),
		CollectionID: col.ID,
		ForceRescan:  *force,
	}

	runID := beginRun(ctx, st, "scan-collection", messages.TypeCollectionScan, map[string]string{
		"collectionId": col.ID,
		"forceRescan":  strconv.FormatBool(*force),
	})

	if err := bk.PublishMessage(ctx, broker.QueueCollectionScan, msg); err != nil {
		finishRun(ctx, st, runID, "failed", err.Error(), 0)
		fmt.Fprintf(os.Stderr, "Error: publishing collection scan: %v\n", err)
		return false
	}
	finishRun(ctx, st, runID, "enqueued", "", 1)

	fmt.Printf("Enqueued scan of %q (%s, force=%t, message %s)\n", col.Name, col.ID, *force, msg.ID)
	return true
}

func removeCollection(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("remove-collection", flag.ExitOnError)
	collectionID := flags.String("collection", "", "collection ID to remove (required)")
	yes := flags.Bool("yes", false, "skip the confirmation prompt")
	_ = flags.Parse(args)

	if *collectionID == "" {
		fmt.Fprintln(os.Stderr, "Error: -collection is required")
		flags.Usage()
		return false
	}

	prompt := fmt.Sprintf("Remove collection %s? Generated artifacts stay on disk until clear-cache runs.", *collectionID)
	if !confirm(prompt, *yes) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return false
	}

	// Add timeout to context for store operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	col, err := st.GetCollectionSummary(ctx, *collectionID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: collection %s not found\n", *collectionID)
		return false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: looking up collection: %v\n", err)
		return false
	}

	if err := st.SoftDeleteCollection(ctx, col.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: removing collection: %v\n", err)
		return false
	}

	kind := "directory"
	if col.Type.IsArchive() {
		kind = "archive"
	}
	fmt.Printf("Removed %s collection %q (%s). Artifacts remain until clear-cache runs.\n", kind, col.Name, col.ID)
	return true
}

func clearQueue(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("clear-queue", flag.ExitOnError)
	queue := flags.String("queue", "", "queue to purge: a pipeline queue name, 'dead-letter', or 'all' (required)")
	yes := flags.Bool("yes", false, "skip the confirmation prompt")
	_ = flags.Parse(args)

	if *queue == "" {
		fmt.Fprintln(os.Stderr, "Error: -queue is required")
		flags.Usage()
		return false
	}

	targets, err := queueTargets(*queue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	if !confirm(fmt.Sprintf("Purge all messages from %s?", strings.Join(targets, ", ")), *yes) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return false
	}

	// Add timeout to context for broker operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	bk, ok := mustConnectBroker(ctx)
	if !ok {
		return false
	}
	defer closeBroker(bk)

	allOK := true
	for _, q := range targets {
		n, perr := bk.Purge(q)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "Error: purging %s: %v\n", q, perr)
			allOK = false
			continue
		}
		fmt.Printf("Purged %d messages from %s\n", n, q)
	}
	return allOK
}

// queueTargets resolves the -queue argument to concrete queue names. "all"
// covers the five pipeline queues; the dead-letter queue must be named
// explicitly so a routine drain never eats the evidence.
func queueTargets(arg string) ([]string, error) {
	switch arg {
	case "all":
		return broker.Queues(), nil
	case "dead-letter", broker.DeadLetterQueue:
		return []string{broker.DeadLetterQueue}, nil
	}
	for _, q := range broker.Queues() {
		if q == arg {
			return []string{q}, nil
		}
	}
	return nil, fmt.Errorf("unknown queue %q (want one of %s, 'dead-letter' or 'all')",
		arg, strings.Join(broker.Queues(), ", "))
}

func clearCache(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	collectionID := flags.String("collection", "", "collection ID to clear (empty clears every collection)")
	yes := flags.Bool("yes", false, "skip the confirmation prompt")
	_ = flags.Parse(args)

	prompt := "Remove generated thumbnails and cache images for ALL collections?"
	if *collectionID != "" {
		prompt = fmt.Sprintf("Remove generated thumbnails and cache images for collection %s?", *collectionID)
	}
	if !confirm(prompt, *yes) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return false
	}

	// Clearing walks cache folders on disk, which can take a while on NFS.
	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	folders, err := st.ListCacheFolders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing cache folders: %v\n", err)
		return false
	}

	var cols []models.Collection
	if *collectionID != "" {
		col, gerr := st.GetCollectionSummary(ctx, *collectionID)
		if errors.Is(gerr, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: collection %s not found\n", *collectionID)
			return false
		}
		if gerr != nil {
			fmt.Fprintf(os.Stderr, "Error: looking up collection: %v\n", gerr)
			return false
		}
		cols = []models.Collection{*col}
	} else {
		cols, err = st.ListCollections(ctx, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: listing collections: %v\n", err)
			return false
		}
	}

	retry := filesystem.DefaultRetryConfig()
	allOK := true
	cleared := 0
	for _, col := range cols {
		for _, f := range folders {
			dir := filepath.Join(f.Path, col.ID)
			if rerr := filesystem.RemoveAllWithRetry(dir, retry); rerr != nil {
				fmt.Fprintf(os.Stderr, "Warning: removing %s: %v\n", dir, rerr)
				allOK = false
			}
		}
		if cerr := st.ClearDerivativeArrays(ctx, col.ID); cerr != nil && !errors.Is(cerr, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: clearing artifact records for %s: %v\n", col.ID, cerr)
			allOK = false
			continue
		}
		cleared++
	}

	// Disk usage changed under the folders; re-measure so the allocator works
	// from real numbers instead of the stale counters.
	for _, f := range folders {
		size, serr := directorySize(f.Path)
		if serr != nil {
			fmt.Fprintf(os.Stderr, "Warning: measuring %s: %v\n", f.Path, serr)
			allOK = false
			continue
		}
		if serr := st.SetFolderSize(ctx, f.ID, size); serr != nil {
			fmt.Fprintf(os.Stderr, "Warning: updating folder %s usage: %v\n", f.Name, serr)
			allOK = false
		}
	}

	fmt.Printf("Cleared artifacts for %d of %d collections across %d cache folders\n",
		cleared, len(cols), len(folders))
	return allOK
}

func verifyCollections(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("verify", flag.ExitOnError)
	library := flags.String("library", "", "only verify collections in this library (name or ID)")
	_ = flags.Parse(args)

	// Recalculation aggregates over embedded arrays; give large deployments room.
	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	libraryID, err := resolveLibrary(ctx, st, *library, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	cols, err := st.ListCollections(ctx, libraryID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing collections: %v\n", err)
		return false
	}
	if len(cols) == 0 {
		fmt.Println("No collections to verify.")
		return true
	}

	// Each collection recalculates independently, so fan the store work out
	// across an I/O-sized pool and report in listing order afterwards.
	type verification struct {
		diffs []string
		err   error
	}
	results := make([]verification, len(cols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers.ForIO(16))
	for i := range cols {
		g.Go(func() error {
			col := &cols[i]
			if rerr := st.RecalculateStatistics(gctx, col.ID); rerr != nil {
				results[i].err = fmt.Errorf("recalculating %s: %w", col.ID, rerr)
				return nil
			}
			after, gerr := st.GetCollectionSummary(gctx, col.ID)
			if gerr != nil {
				results[i].err = fmt.Errorf("re-reading %s: %w", col.ID, gerr)
				return nil
			}
			results[i].diffs = diffStatistics(col.Statistics, after.Statistics)
			return nil
		})
	}
	_ = g.Wait()

	drifted := 0
	allOK := true
	for i, col := range cols {
		if results[i].err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", results[i].err)
			allOK = false
			continue
		}
		if len(results[i].diffs) == 0 {
			continue
		}
		drifted++
		fmt.Printf("Collection %q (%s): %s\n", col.Name, col.ID, strings.Join(results[i].diffs, ", "))
	}

	if drifted == 0 {
		fmt.Printf("Verified %d collections, no drift.\n", len(cols))
	} else {
		fmt.Printf("Verified %d collections, corrected drift on %d.\n", len(cols), drifted)
	}
	return allOK
}

// diffStatistics lists the counters whose recalculated values differ from the
// stored ones, formatted as "name stored -> actual".
func diffStatistics(before, after models.CollectionStatistics) []string {
	type field struct {
		name          string
		before, after int64
	}
	fields := []field{
		{"totalItems", before.TotalItems, after.TotalItems},
		{"totalSize", before.TotalSize, after.TotalSize},
		{"totalThumbnails", before.TotalThumbnails, after.TotalThumbnails},
		{"totalThumbnailSize", before.TotalThumbnailSize, after.TotalThumbnailSize},
		{"totalCacheFiles", before.TotalCacheFiles, after.TotalCacheFiles},
		{"totalCacheSize", before.TotalCacheSize, after.TotalCacheSize},
	}
	var out []string
	for _, f := range fields {
		if f.before != f.after {
			out = append(out, fmt.Sprintf("%s %d -> %d", f.name, f.before, f.after))
		}
	}
	return out
}

func showStatus(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	_ = flags.Parse(args)

	// Add timeout to context for store and broker operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	sys, err := st.GetSystemStatistics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading system statistics: %v\n", err)
		return false
	}

	fmt.Println("Collections:")
	fmt.Printf("  %-18s %d\n", "collections", sys.TotalCollections)
	fmt.Printf("  %-18s %d (%s)\n", "images", sys.TotalImages, formatBytes(sys.TotalSize))
	fmt.Printf("  %-18s %d (%s)\n", "thumbnails", sys.TotalThumbnails, formatBytes(sys.TotalThumbnailSize))
	fmt.Printf("  %-18s %d (%s)\n", "cache images", sys.TotalCacheFiles, formatBytes(sys.TotalCacheSize))

	byStatus, err := st.CountJobsByStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: counting jobs: %v\n", err)
		return false
	}
	fmt.Println("Jobs:")
	for _, status := range []models.JobStatus{
		models.JobPending, models.JobRunning, models.JobPaused,
		models.JobCompleted, models.JobFailed,
	} {
		fmt.Printf("  %-18s %d\n", string(status), byStatus[status])
	}

	folders, err := st.ListCacheFolders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing cache folders: %v\n", err)
		return false
	}
	fmt.Println("Cache folders:")
	if len(folders) == 0 {
		fmt.Println("  (none configured)")
	}
	for _, f := range folders {
		state := "active"
		if !f.IsActive {
			state = "inactive"
		}
		fmt.Printf("  %-18s %s / %s (%s, priority %d)\n",
			f.Name, formatBytes(f.CurrentSizeBytes), formatBytes(f.MaxSizeBytes), state, f.Priority)
	}

	jobs, err := st.ListScheduledJobs(ctx, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing scheduled jobs: %v\n", err)
		return false
	}
	fmt.Println("Recent runs:")
	if len(jobs) == 0 {
		fmt.Println("  (none recorded)")
	}
	for _, job := range jobs {
		runs, rerr := st.ListRecentRuns(ctx, job.ID, 3)
		if rerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: listing runs for %s: %v\n", job.Name, rerr)
			continue
		}
		for _, run := range runs {
			fmt.Printf("  %-22s %s  %s\n", job.Name, run.StartedAt.Format("2006-01-02 15:04"), describeRun(run))
		}
	}

	// Queue depths are best-effort; a broker outage still leaves the
	// store-backed sections above usable.
	fmt.Println("Queues:")
	bk, err := connectBroker(ctx)
	if err != nil {
		fmt.Printf("  (broker unavailable: %v)\n", err)
		return true
	}
	defer closeBroker(bk)

	depths, err := bk.QueueDepths()
	if err != nil {
		fmt.Printf("  (depths unavailable: %v)\n", err)
		return true
	}
	for _, q := range append(broker.Queues(), broker.DeadLetterQueue) {
		fmt.Printf("  %-24s %d\n", q, depths[q])
	}
	return true
}

// describeRun renders one scheduled-run record for the status listing.
func describeRun(run models.ScheduledJobRun) string {
	if run.CompletedAt == nil {
		return fmt.Sprintf("in flight (by %s)", run.TriggeredBy)
	}
	s := fmt.Sprintf("%s, %d enqueued (by %s)", run.Result, run.EnqueuedCount, run.TriggeredBy)
	if run.Error != "" {
		s += ": " + run.Error
	}
	return s
}

func cacheFolders(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("cache-folders", flag.ExitOnError)
	add := flags.Bool("add", false, "register a new cache folder")
	name := flags.String("name", "", "folder name for -add")
	path := flags.String("path", "", "absolute folder path for -add")
	maxSize := flags.String("max-size", "", "capacity for -add, e.g. 500GB or a byte count")
	priority := flags.Int("priority", 100, "allocation priority for -add (lower fills first)")
	enable := flags.String("enable", "", "folder ID to mark active")
	disable := flags.String("disable", "", "folder ID to mark inactive")
	_ = flags.Parse(args)

	// Add timeout to context for store operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	switch {
	case *add:
		return addCacheFolder(ctx, st, *name, *path, *maxSize, *priority)
	case *enable != "":
		return setCacheFolderActive(ctx, st, *enable, true)
	case *disable != "":
		return setCacheFolderActive(ctx, st, *disable, false)
	default:
		return listCacheFolders(ctx, st)
	}
}

func addCacheFolder(ctx context.Context, st *store.Store, name, path, maxSize string, priority int) bool {
	if name == "" || path == "" || maxSize == "" {
		fmt.Fprintln(os.Stderr, "Error: -add requires -name, -path and -max-size")
		return false
	}
	if !filepath.IsAbs(path) {
		fmt.Fprintf(os.Stderr, "Error: -path must be absolute, got %q\n", path)
		return false
	}
	limit, err := parseSize(maxSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if _, err := os.Stat(path); err != nil {
		// The CLI may run on a different host than the workers, so a
		// missing path here is a warning rather than a refusal.
		fmt.Fprintf(os.Stderr, "Warning: %v (the path may only exist on the daemon host)\n", err)
	}

	folder := &models.CacheFolder{
		ID:           uuid.New().String(),
		Name:         name,
		Path:         path,
		MaxSizeBytes: limit,
		Priority:     priority,
		IsActive:     true,
	}
	if err := st.CreateCacheFolder(ctx, folder); err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating cache folder: %v\n", err)
		return false
	}
	fmt.Printf("Registered cache folder %q (%s, %s) as %s\n", name, path, formatBytes(limit), folder.ID)
	return true
}

func setCacheFolderActive(ctx context.Context, st *store.Store, id string, active bool) bool {
	folder, err := st.GetCacheFolder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: cache folder %s not found\n", id)
		return false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: looking up cache folder: %v\n", err)
		return false
	}
	if err := st.SetFolderActive(ctx, id, active); err != nil {
		fmt.Fprintf(os.Stderr, "Error: updating cache folder: %v\n", err)
		return false
	}
	verb := "Disabled"
	if active {
		verb = "Enabled"
	}
	fmt.Printf("%s cache folder %q (%s)\n", verb, folder.Name, id)
	return true
}

func listCacheFolders(ctx context.Context, st *store.Store) bool {
	folders, err := st.ListCacheFolders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listing cache folders: %v\n", err)
		return false
	}
	if len(folders) == 0 {
		fmt.Println("No cache folders registered. Add one with: pipectl cache-folders -add")
		return true
	}
	for _, f := range folders {
		state := "active"
		if !f.IsActive {
			state = "inactive"
		}
		fmt.Printf("%-36s  %-18s %s / %s (%s, priority %d)\n    %s\n",
			f.ID, f.Name, formatBytes(f.CurrentSizeBytes), formatBytes(f.MaxSizeBytes), state, f.Priority, f.Path)
	}
	return true
}

func manageSettings(ctx context.Context, args []string) bool {
	flags := flag.NewFlagSet("settings", flag.ExitOnError)
	get := flags.String("get", "", "setting key to read")
	set := flags.String("set", "", "setting key to write (with -value)")
	value := flags.String("value", "", "value for -set")
	_ = flags.Parse(args)

	if (*get == "") == (*set == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -get or -set is required")
		flags.Usage()
		return false
	}

	// Add timeout to context for store operations
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	st, ok := mustConnectStore(ctx)
	if !ok {
		return false
	}
	defer closeStore(st)

	if *get != "" {
		stored, err := st.GetSetting(ctx, *get)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: setting %q is not set\n", *get)
			return false
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading setting: %v\n", err)
			return false
		}
		fmt.Printf("%s = %q\n", *get, stored)
		return true
	}

	if !knownSettingKey(*set) {
		fmt.Fprintf(os.Stderr, "Warning: %q is not a key the pipeline reads (known: %s)\n",
			*set, strings.Join(knownSettingKeys(), ", "))
	}
	if err := st.SetSetting(ctx, *set, *value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: writing setting: %v\n", err)
		return false
	}
	fmt.Printf("Set %s = %q\n", *set, *value)
	return true
}

// knownSettingKeys lists the keys the daemon resolves at spec-build time.
// Unknown keys are stored anyway; the warning exists to catch typos.
func knownSettingKeys() []string {
	return []string{
		models.SettingCacheDefaultFit,
		models.SettingCacheDefaultFormat,
		models.SettingCacheDefaultQuality,
		models.SettingThumbnailDefaultFit,
		models.SettingThumbnailDefaultFormat,
		models.SettingThumbnailDefaultQuality,
		models.SettingThumbnailDefaultSize,
	}
}

func knownSettingKey(key string) bool {
	for _, k := range knownSettingKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// ============================================================================
// Connections
// ============================================================================

func mustConnectStore(ctx context.Context) (*store.Store, bool) {
	st, err := connectStore(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to MongoDB: %v\n", err)
		fmt.Fprintln(os.Stderr, "Make sure MONGO_URI and MONGO_DATABASE are set correctly")
		return nil, false
	}
	return st, true
}

func connectStore(ctx context.Context) (*store.Store, error) {
	uri := promptURIPassword(envOr("MONGO_URI", "mongodb://localhost:27017"))
	return store.Connect(ctx, store.Config{
		URI:            uri,
		Database:       envOr("MONGO_DATABASE", "imageviewer"),
		ConnectTimeout: 10 * time.Second,
		SocketTimeout:  time.Minute,
		MaxPoolSize:    10,
		RetryWrites:    true,
	})
}

// closeStore uses its own context so the disconnect still happens when the
// command context has already expired.
func closeStore(st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close MongoDB connection: %v\n", err)
	}
}

func mustConnectBroker(ctx context.Context) (*broker.Broker, bool) {
	bk, err := connectBroker(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to RabbitMQ: %v\n", err)
		fmt.Fprintln(os.Stderr, "Make sure AMQP_HOSTNAME and AMQP_PORT are set correctly")
		return nil, false
	}
	return bk, true
}

func connectBroker(ctx context.Context) (*broker.Broker, error) {
	return broker.Connect(ctx, broker.Config{
		Hostname: envOr("AMQP_HOSTNAME", "localhost"),
		Port:     envInt("AMQP_PORT", broker.DefaultPort),
		Username: envOr("AMQP_USERNAME", "guest"),
		Password: brokerPassword(),
		VHost:    envOr("AMQP_VHOST", "/"),
		// A CLI should fail fast rather than redial with backoff.
		DialAttempts: 1,
	})
}

func closeBroker(bk *broker.Broker) {
	if err := bk.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close RabbitMQ connection: %v\n", err)
	}
}

// brokerPassword resolves the RabbitMQ password: the env var when set, an
// interactive prompt when it is not and stdin is a terminal, the broker
// default otherwise.
func brokerPassword() string {
	if pw, ok := os.LookupEnv("AMQP_PASSWORD"); ok {
		return pw
	}
	if term.IsTerminal(syscall.Stdin) {
		fmt.Fprint(os.Stderr, "RabbitMQ password (empty for default): ")
		pw, err := term.ReadPassword(syscall.Stdin)
		fmt.Fprintln(os.Stderr)
		if err == nil && len(pw) > 0 {
			return string(pw)
		}
	}
	return "guest"
}

// promptURIPassword fills in the password for a MongoDB URI that names a user
// without one, e.g. mongodb://admin@db.internal:27017. Non-interactive runs
// leave the URI untouched.
func promptURIPassword(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil || u.User.Username() == "" {
		return uri
	}
	if _, set := u.User.Password(); set {
		return uri
	}
	if !term.IsTerminal(syscall.Stdin) {
		return uri
	}
	fmt.Fprintf(os.Stderr, "MongoDB password for %s: ", u.User.Username())
	pw, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil || len(pw) == 0 {
		return uri
	}
	u.User = url.UserPassword(u.User.Username(), string(pw))
	return u.String()
}

// ============================================================================
// Scheduled-run bookkeeping
// ============================================================================

// beginRun records a scheduled-job run for an enqueue command so the run
// history shows who enqueued what. Bookkeeping is best-effort: failures warn
// and return an empty run ID.
func beginRun(ctx context.Context, st *store.Store, name, kind string, params map[string]string) string {
	job := &models.ScheduledJob{
		ID:         uuid.New().String(),
		Name:       name,
		JobKind:    kind,
		Enabled:    true,
		Parameters: params,
	}
	if err := st.UpsertScheduledJob(ctx, job); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: recording scheduled job: %v\n", err)
		return ""
	}

	// The upsert keys on the name; read back the persisted ID in case the
	// definition already existed.
	stored, err := st.GetScheduledJobByName(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: reading back scheduled job: %v\n", err)
		return ""
	}

	run := &models.ScheduledJobRun{
		ID:             uuid.New().String(),
		ScheduledJobID: stored.ID,
		TriggeredBy:    "pipectl",
		StartedAt:      time.Now().UTC(),
	}
	if err := st.RecordScheduledRun(ctx, run); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: recording scheduled run: %v\n", err)
		return ""
	}
	return run.ID
}

func finishRun(ctx context.Context, st *store.Store, runID, result, errMessage string, enqueued int64) {
	if runID == "" {
		return
	}
	if err := st.CompleteScheduledRun(ctx, runID, result, errMessage, enqueued); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: completing scheduled run: %v\n", err)
	}
}

// ============================================================================
// Helpers
// ============================================================================

// resolveLibrary turns a -library flag value into a stored library ID. The
// flag accepts an ID or a name; an unknown name is created on the spot when
// create is set, and is an error otherwise. An empty value stays empty.
func resolveLibrary(ctx context.Context, st *store.Store, nameOrID string, create bool) (string, error) {
	if nameOrID == "" {
		return "", nil
	}
	lib, err := st.GetLibrary(ctx, nameOrID)
	if err == nil {
		return lib.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	libs, err := st.ListLibraries(ctx)
	if err != nil {
		return "", err
	}
	for i := range libs {
		if libs[i].Name == nameOrID {
			return libs[i].ID, nil
		}
	}
	if !create {
		return "", fmt.Errorf("library %q not found", nameOrID)
	}
	created := &models.Library{ID: uuid.New().String(), Name: nameOrID}
	if err := st.CreateLibrary(ctx, created); err != nil {
		return "", err
	}
	fmt.Printf("Created library %q (%s)\n", nameOrID, created.ID)
	return created.ID, nil
}

// confirm asks the operator to approve a destructive action. Non-interactive
// runs refuse unless -yes was given.
func confirm(prompt string, assumeYes bool) bool {
	if assumeYes {
		return true
	}
	if !term.IsTerminal(syscall.Stdin) {
		fmt.Fprintln(os.Stderr, "Error: refusing destructive action without -yes on a non-interactive run")
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// directorySize sums the file bytes under root. A root that does not exist
// counts as empty, matching a cache folder nothing was ever written to.
func directorySize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			if os.IsNotExist(werr) {
				return nil
			}
			return werr
		}
		if d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// parseSize reads a human-entered capacity like "500GB", "1.5TiB" or a bare
// byte count. All suffixes are binary (GB and GiB both mean 1024^3).
func parseSize(arg string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(arg))
	multiplier := int64(1)
	for _, u := range []struct {
		suffix string
		factor int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30}, {"TIB", 1 << 40},
		{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}, {"TB", 1 << 40},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.factor
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q (want e.g. 500GB, 1.5TiB or a byte count)", arg)
	}
	return int64(n * float64(multiplier)), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s %q, using %d\n", key, raw, fallback)
		return fallback
	}
	return v
}
