// Package render produces image derivatives: thumbnails and cache images.
//
// Render is a pure operation from source bytes plus a Spec (target
// dimensions, output format, encoder quality, fit mode) to encoded output
// bytes. The same input and spec produce the same output on a given build.
//
// # Fit Modes
//
//	contain  letterbox within the exact target canvas
//	cover    fill the target, cropping overflow (centered)
//	fill     stretch to the target, ignoring aspect ratio
//	inside   shrink to fit within the target; never enlarge
//	outside  enlarge until both dimensions cover the target; never shrink
//
// # Render Paths
//
// Two implementations back Render. When libvips is initialized via InitVips
// and the output format is jpeg, png, or webp, the whole decode-fit-encode
// runs inside vips, which shrinks at decode time and uses a fraction of the
// memory. Everything else, and any input vips rejects, goes through the
// pure Go path (disintegration/imaging plus the stdlib and x/image codecs).
// The pure Go path cannot encode webp; such specs fail with
// ErrUnsupportedFormat when vips is unavailable.
//
// Embedded EXIF orientation is honored on both paths: output pixels are
// always upright, and ProbeDimensions reports upright dimensions.
package render
