package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"imageviewer-pipeline/internal/logging"
)

// VolumeResolver labels absolute paths with the pipeline volume that holds
// them, so operation metrics can be attributed to a mount. The longest
// configured prefix wins; paths outside every volume resolve to "unknown".
type VolumeResolver struct {
	prefixes []volumePrefix
}

type volumePrefix struct {
	prefix string // absolute, trailing slash
	label  string
}

// NewVolumeResolver builds a resolver from label to mount roots. A label
// may cover several roots; cache folders usually live on separate disks.
func NewVolumeResolver(volumes map[string][]string) *VolumeResolver {
	vr := &VolumeResolver{}
	for label, roots := range volumes {
		for _, root := range roots {
			abs, err := filepath.Abs(root)
			if err != nil {
				abs = root
			}
			vr.prefixes = append(vr.prefixes, volumePrefix{
				prefix: strings.TrimSuffix(abs, "/") + "/",
				label:  label,
			})
		}
	}
	// Most specific mount first.
	slices.SortFunc(vr.prefixes, func(a, b volumePrefix) int {
		return len(b.prefix) - len(a.prefix)
	})
	return vr
}

// Resolve returns the volume label for path.
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return "unknown"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "unknown"
	}
	for _, p := range vr.prefixes {
		// The appended slash lets a volume root match itself.
		if strings.HasPrefix(abs+"/", p.prefix) {
			return p.label
		}
	}
	return "unknown"
}

var defaultResolver *VolumeResolver

// SetDefaultVolumeResolver installs the resolver used by RetryConfigs that
// carry none. The daemon wires it at boot from the registered cache folders
// and configured media roots.
func SetDefaultVolumeResolver(vr *VolumeResolver) {
	defaultResolver = vr
}

// RetryConfig bounds the retry loop for one filesystem operation.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// VolumeResolver labels paths for metrics. Nil means the resolver
	// installed by SetDefaultVolumeResolver.
	VolumeResolver *VolumeResolver
}

// DefaultRetryConfig is tuned for transient NFS hiccups: three retries
// spanning well under a second in total.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c *RetryConfig) resolveVolume(path string) string {
	if c.VolumeResolver != nil {
		return c.VolumeResolver.Resolve(path)
	}
	return defaultResolver.Resolve(path)
}

// isNFSStaleError reports whether err carries ESTALE, the errno an NFS
// client surfaces when the server has invalidated a handle it still holds.
func isNFSStaleError(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ESTALE
}

// withRetry runs attempt with exponential backoff on NFS stale file handle
// errors. Non-ESTALE errors return immediately. Events go to the package
// Observer under the given operation and volume labels.
func withRetry(op, path string, config RetryConfig, attempt func() error) error {
	start := time.Now()
	volume := config.resolveVolume(path)
	o := observe()
	var lastErr error
	backoff := config.InitialBackoff

	for try := 0; try <= config.MaxRetries; try++ {
		err := attempt()
		if err == nil {
			if try > 0 {
				logging.Info("NFS %s succeeded on retry %d for %s", op, try, path)
				o.RetrySucceeded(op, volume)
			}
			o.Operation(op, volume, time.Since(start).Seconds(), nil)
			return nil
		}

		lastErr = err

		if !isNFSStaleError(err) {
			o.Operation(op, volume, time.Since(start).Seconds(), err)
			return err
		}

		o.StaleHandle(op, volume)

		// The final attempt's failure is terminal, no point sleeping.
		if try < config.MaxRetries {
			o.RetryScheduled(op, volume)
			logging.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
				op, path, backoff, try+1, config.MaxRetries)
			time.Sleep(backoff)
			backoff = min(backoff*2, config.MaxBackoff)
		}
	}

	logging.Warn("NFS %s failed after %d retries for %s: %v", op, config.MaxRetries, path, lastErr)
	o.RetriesExhausted(op, volume)
	o.Operation(op, volume, time.Since(start).Seconds(), lastErr)
	return lastErr
}

// StatWithRetry is os.Stat inside the ESTALE retry loop.
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	var info os.FileInfo
	err := withRetry("stat", path, config, func() error {
		var err error
		info, err = os.Stat(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// OpenWithRetry is os.Open inside the ESTALE retry loop.
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	var file *os.File
	err := withRetry("open", path, config, func() error {
		var err error
		file, err = os.Open(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ReadDirWithRetry is os.ReadDir inside the ESTALE retry loop.
func ReadDirWithRetry(path string, config RetryConfig) ([]os.DirEntry, error) {
	var entries []os.DirEntry
	err := withRetry("readdir", path, config, func() error {
		var err error
		entries, err = os.ReadDir(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteFileWithRetry is os.WriteFile inside the ESTALE retry loop. Cache
// and thumbnail artifact writes land through here.
func WriteFileWithRetry(path string, data []byte, perm os.FileMode, config RetryConfig) error {
	return withRetry("write", path, config, func() error {
		return os.WriteFile(path, data, perm)
	})
}

// MkdirAllWithRetry is os.MkdirAll inside the ESTALE retry loop.
func MkdirAllWithRetry(path string, perm os.FileMode, config RetryConfig) error {
	return withRetry("mkdir", path, config, func() error {
		return os.MkdirAll(path, perm)
	})
}

// RemoveWithRetry is os.Remove inside the ESTALE retry loop. A missing
// file is not an error.
func RemoveWithRetry(path string, config RetryConfig) error {
	return withRetry("remove", path, config, func() error {
		err := os.Remove(path)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

// RemoveAllWithRetry is os.RemoveAll inside the ESTALE retry loop.
func RemoveAllWithRetry(path string, config RetryConfig) error {
	return withRetry("remove_all", path, config, func() error {
		return os.RemoveAll(path)
	})
}
