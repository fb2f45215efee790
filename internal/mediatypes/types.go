package mediatypes

// ImageFormat identifies an image encoding.
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatGIF     ImageFormat = "gif"
	FormatWebP    ImageFormat = "webp"
	FormatBMP     ImageFormat = "bmp"
	FormatTIFF    ImageFormat = "tiff"
	FormatUnknown ImageFormat = "unknown"
)

// ArchiveFormat identifies a supported archive container type.
type ArchiveFormat string

const (
	ArchiveZip      ArchiveFormat = "zip"
	ArchiveSevenZip ArchiveFormat = "sevenzip"
	ArchiveRar      ArchiveFormat = "rar"
	ArchiveTar      ArchiveFormat = "tar"
	ArchiveNone     ArchiveFormat = ""
)

// ImageExtensions maps file extensions to whether the pipeline can decode them.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
}

// ArchiveExtensions maps file extensions to their archive format.
// Comic-book aliases map to the underlying container type.
var ArchiveExtensions = map[string]ArchiveFormat{
	".zip": ArchiveZip,
	".cbz": ArchiveZip,
	".7z":  ArchiveSevenZip,
	".cb7": ArchiveSevenZip,
	".rar": ArchiveRar,
	".cbr": ArchiveRar,
	".tar": ArchiveTar,
	".cbt": ArchiveTar,
}

// extensionsByFormat maps image formats to their canonical file extension.
var extensionsByFormat = map[ImageFormat]string{
	FormatJPEG: ".jpeg",
	FormatPNG:  ".png",
	FormatGIF:  ".gif",
	FormatWebP: ".webp",
	FormatBMP:  ".bmp",
	FormatTIFF: ".tiff",
}

// GetArchiveFormat returns the archive format for a given file extension.
// The extension should be lowercase and include the leading dot (e.g. ".cbz").
// Returns ArchiveNone if the extension is not a supported archive type.
func GetArchiveFormat(ext string) ArchiveFormat {
	return ArchiveExtensions[ext]
}

// Extension returns the canonical file extension for the format, including
// the leading dot. Returns ".bin" for unknown formats.
func (f ImageFormat) Extension() string {
	if ext, ok := extensionsByFormat[f]; ok {
		return ext
	}
	return ".bin"
}

// ParseImageFormat normalizes a format name ("jpg", "jpeg", "webp", ...) to
// an ImageFormat. Used when resolving format names from system settings.
func ParseImageFormat(name string) ImageFormat {
	switch name {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "webp":
		return FormatWebP
	case "bmp":
		return FormatBMP
	case "tif", "tiff":
		return FormatTIFF
	}
	return FormatUnknown
}

// IsImageFile returns true if the extension represents a decodable image.
func IsImageFile(ext string) bool {
	return ImageExtensions[ext]
}

// SniffImageFormat inspects leading magic bytes and reports the actual image
// format regardless of file extension. Pass at least the first 12 bytes.
// Returns FormatUnknown when the header matches no supported format.
func SniffImageFormat(header []byte) ImageFormat {
	switch {
	case len(header) >= 3 && header[0] == 0xFF && header[1] == 0xD8 && header[2] == 0xFF:
		return FormatJPEG

	case len(header) >= 8 && header[0] == 0x89 && header[1] == 0x50 && header[2] == 0x4E && header[3] == 0x47:
		return FormatPNG

	case len(header) >= 4 && header[0] == 0x47 && header[1] == 0x49 && header[2] == 0x46 && header[3] == 0x38:
		return FormatGIF

	case len(header) >= 12 && header[0] == 0x52 && header[1] == 0x49 && header[2] == 0x46 && header[3] == 0x46 &&
		header[8] == 0x57 && header[9] == 0x45 && header[10] == 0x42 && header[11] == 0x50:
		return FormatWebP

	case len(header) >= 2 && header[0] == 0x42 && header[1] == 0x4D:
		return FormatBMP

	case len(header) >= 4 && ((header[0] == 0x49 && header[1] == 0x49 && header[2] == 0x2A && header[3] == 0x00) ||
		(header[0] == 0x4D && header[1] == 0x4D && header[2] == 0x00 && header[3] == 0x2A)):
		return FormatTIFF
	}

	return FormatUnknown
}
