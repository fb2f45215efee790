package render

import (
	"fmt"
	"sync"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips initializes the libvips library.
// This should be called once at startup, before any workers render.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Configure vips logging BEFORE Startup() to respect LOG_LEVEL.
	// vips is chatty at its info level; only surface that under debug.
	threshold := vips.LogLevelWarning
	if logging.GetLevel() == logging.LevelDebug {
		threshold = vips.LogLevelInfo
	}
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}, threshold)

	// Start vips with conservative memory settings. Parallelism comes from
	// the consumer pool, so vips itself processes one image at a time.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// vipsCanExport reports whether the vips path handles the output format.
// gif/bmp/tiff support varies with how libvips was built, so those always
// take the pure Go path.
func vipsCanExport(format mediatypes.ImageFormat) bool {
	switch format {
	case mediatypes.FormatJPEG, mediatypes.FormatPNG, mediatypes.FormatWebP:
		return true
	}
	return false
}

// renderWithVips decodes, fits, and encodes entirely inside libvips.
// Decode-time shrinking makes this far more memory efficient than decoding
// the full image into Go and resizing there.
func renderWithVips(src []byte, spec Spec) (*Result, error) {
	ref, err := vips.LoadImageFromBuffer(src, vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("%w: vips load: %v", ErrDecodeFailed, err)
	}
	defer ref.Close()

	// Output must be upright regardless of EXIF orientation.
	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("%w: vips auto-rotate: %v", ErrDecodeFailed, err)
	}

	if err := applyVipsFit(ref, spec); err != nil {
		return nil, err
	}

	var data []byte
	switch spec.Format {
	case mediatypes.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = spec.Quality
		params.StripMetadata = true
		params.OptimizeCoding = true
		data, _, err = ref.ExportJpeg(params)
	case mediatypes.FormatPNG:
		params := vips.NewPngExportParams()
		params.StripMetadata = true
		data, _, err = ref.ExportPng(params)
	case mediatypes.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = spec.Quality
		params.StripMetadata = true
		data, _, err = ref.ExportWebp(params)
	default:
		return nil, fmt.Errorf("%w: vips cannot export %s", ErrUnsupportedFormat, spec.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: vips export %s: %v", ErrEncodeFailed, spec.Format, err)
	}

	return &Result{
		Data:   data,
		Width:  ref.Width(),
		Height: ref.Height(),
		Format: spec.Format,
	}, nil
}

// applyVipsFit maps a fit mode onto vips thumbnail/resize operations.
func applyVipsFit(ref *vips.ImageRef, spec Spec) error {
	var err error
	switch spec.Fit {
	case FitContain:
		// Scale into the box, then letterbox onto the exact target canvas.
		if err = ref.ThumbnailWithSize(spec.Width, spec.Height, vips.InterestingNone, vips.SizeBoth); err == nil {
			left := (spec.Width - ref.Width()) / 2
			top := (spec.Height - ref.Height()) / 2
			err = ref.Embed(left, top, spec.Width, spec.Height, vips.ExtendBlack)
		}
	case FitCover:
		err = ref.ThumbnailWithSize(spec.Width, spec.Height, vips.InterestingCentre, vips.SizeBoth)
	case FitFill:
		err = ref.ThumbnailWithSize(spec.Width, spec.Height, vips.InterestingNone, vips.SizeForce)
	case FitInside:
		err = ref.ThumbnailWithSize(spec.Width, spec.Height, vips.InterestingNone, vips.SizeDown)
	case FitOutside:
		if ref.Width() < spec.Width || ref.Height() < spec.Height {
			scale := float64(spec.Width) / float64(ref.Width())
			if s := float64(spec.Height) / float64(ref.Height()); s > scale {
				scale = s
			}
			err = ref.Resize(scale, vips.KernelLanczos3)
		}
	default:
		return fmt.Errorf("%w: unknown fit mode %q", ErrUnsupportedFormat, spec.Fit)
	}
	if err != nil {
		return fmt.Errorf("%w: vips fit %s: %v", ErrEncodeFailed, spec.Fit, err)
	}
	return nil
}
