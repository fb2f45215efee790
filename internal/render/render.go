package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"imageviewer-pipeline/internal/logging"
	"imageviewer-pipeline/internal/mediatypes"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	_ "golang.org/x/image/webp"
)

// Sentinel errors, mapped by the pipeline onto the job error summary.
var (
	ErrDecodeFailed      = errors.New("image decode failed")
	ErrEncodeFailed      = errors.New("image encode failed")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// Fit selects how the source is mapped onto the target dimensions.
type Fit string

const (
	// FitContain scales into the box and letterboxes onto the exact canvas.
	FitContain Fit = "contain"
	// FitCover fills the box and crops the overflow, centered.
	FitCover Fit = "cover"
	// FitFill stretches to the exact dimensions, ignoring aspect ratio.
	FitFill Fit = "fill"
	// FitInside scales down to fit within the box; never enlarges.
	FitInside Fit = "inside"
	// FitOutside scales up until both dimensions cover the box; never shrinks.
	FitOutside Fit = "outside"
)

// ParseFit maps a settings string to a Fit mode.
func ParseFit(s string) (Fit, bool) {
	switch Fit(s) {
	case FitContain, FitCover, FitFill, FitInside, FitOutside:
		return Fit(s), true
	}
	return "", false
}

// DefaultQuality applies when a spec carries no encoder quality.
const DefaultQuality = 85

// Spec describes one derivative to produce.
type Spec struct {
	Width   int
	Height  int
	Format  mediatypes.ImageFormat
	Quality int
	Fit     Fit
}

// Result is the encoded derivative plus its actual pixel dimensions.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Format mediatypes.ImageFormat
}

// Render produces a derivative from source bytes. The same input and spec
// yield the same output bytes on the same renderer build.
//
// When libvips is initialized and the output format is one it exports, the
// whole operation runs inside vips. Otherwise, or if vips fails on this
// input, the pure Go decoders take over.
func Render(src []byte, spec Spec) (*Result, error) {
	if mediatypes.SniffImageFormat(src) == mediatypes.FormatUnknown {
		return nil, fmt.Errorf("%w: source is not a recognized image", ErrUnsupportedFormat)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid target %dx%d", ErrEncodeFailed, spec.Width, spec.Height)
	}
	if spec.Quality <= 0 {
		spec.Quality = DefaultQuality
	}
	if spec.Fit == "" {
		spec.Fit = FitContain
	}

	if IsVipsAvailable() && vipsCanExport(spec.Format) {
		result, err := renderWithVips(src, spec)
		if err == nil {
			return result, nil
		}
		logging.Debug("vips render failed, falling back to pure Go: %v", err)
	}

	return renderWithImaging(src, spec)
}

// renderWithImaging is the pure Go render path. It handles every supported
// input format but cannot encode webp.
func renderWithImaging(src []byte, spec Spec) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	fitted, err := applyFit(img, spec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeImage(&buf, fitted, spec); err != nil {
		return nil, err
	}

	bounds := fitted.Bounds()
	return &Result{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: spec.Format,
	}, nil
}

// applyFit maps a fit mode onto imaging operations.
func applyFit(img image.Image, spec Spec) (image.Image, error) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	switch spec.Fit {
	case FitContain:
		fitted := imaging.Fit(img, spec.Width, spec.Height, imaging.Lanczos)
		// Letterbox bars are transparent; JPEG flattens them to black.
		canvas := imaging.New(spec.Width, spec.Height, color.NRGBA{})
		return imaging.PasteCenter(canvas, fitted), nil
	case FitCover:
		return imaging.Fill(img, spec.Width, spec.Height, imaging.Center, imaging.Lanczos), nil
	case FitFill:
		return imaging.Resize(img, spec.Width, spec.Height, imaging.Lanczos), nil
	case FitInside:
		if srcW <= spec.Width && srcH <= spec.Height {
			return img, nil
		}
		return imaging.Fit(img, spec.Width, spec.Height, imaging.Lanczos), nil
	case FitOutside:
		if srcW >= spec.Width && srcH >= spec.Height {
			return img, nil
		}
		scale := float64(spec.Width) / float64(srcW)
		if s := float64(spec.Height) / float64(srcH); s > scale {
			scale = s
		}
		w := int(math.Ceil(float64(srcW) * scale))
		h := int(math.Ceil(float64(srcH) * scale))
		return imaging.Resize(img, w, h, imaging.Lanczos), nil
	}
	return nil, fmt.Errorf("%w: unknown fit mode %q", ErrUnsupportedFormat, spec.Fit)
}

// encodeImage writes the fitted image in the requested output format.
func encodeImage(w io.Writer, img image.Image, spec Spec) error {
	var err error
	switch spec.Format {
	case mediatypes.FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: spec.Quality})
	case mediatypes.FormatPNG:
		err = png.Encode(w, img)
	case mediatypes.FormatGIF:
		err = gif.Encode(w, img, &gif.Options{NumColors: 256})
	case mediatypes.FormatBMP:
		err = bmp.Encode(w, img)
	case mediatypes.FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case mediatypes.FormatWebP:
		// No pure Go webp encoder exists; webp output needs libvips.
		return fmt.Errorf("%w: webp encoding requires libvips", ErrUnsupportedFormat)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, spec.Format)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEncodeFailed, spec.Format, err)
	}
	return nil
}

// ProbeDimensions reads the pixel dimensions and encoding of an image from
// its header without decoding pixel data. Dimensions are reported upright:
// EXIF orientations that rotate by 90 degrees swap width and height.
func ProbeDimensions(src []byte) (width, height int, format mediatypes.ImageFormat, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return 0, 0, mediatypes.FormatUnknown, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	width, height = cfg.Width, cfg.Height
	format = mediatypes.SniffImageFormat(src)

	if format == mediatypes.FormatJPEG && exifRotates(src) {
		width, height = height, width
	}
	return width, height, format, nil
}

// exifRotates reports whether the EXIF orientation tag calls for a 90 degree
// rotation. Missing or unreadable EXIF data counts as upright.
func exifRotates(src []byte) bool {
	x, err := exif.Decode(bytes.NewReader(src))
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return false
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return false
	}
	// 5 through 8 are the transpositions.
	return orientation >= 5 && orientation <= 8
}
