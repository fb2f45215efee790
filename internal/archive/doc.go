// Package archive enumerates and opens the entries of a collection path,
// which is either a plain directory or an archive container.
//
// Supported containers:
//   - Directory: recursive walk, every regular file is an entry
//   - Zip (.zip, .cbz): archive/zip, central directory enumeration
//   - SevenZip (.7z, .cb7): bodgit/sevenzip, header table enumeration
//   - Rar (.rar, .cbr): nwaples/rardecode, header chain scan
//   - Tar (.tar, .cbt): archive/tar, header chain scan
//
// # Entry Addressing
//
// Archive members are addressed as "<archive-path>#<inner-entry>", composed
// with JoinEntryPath. The '#' separator is literal: archive file names
// containing '#' are preserved verbatim, and SplitEntryPath resolves the
// resulting ambiguity by probing candidate prefixes against the filesystem.
// Directory entries use their absolute file path with no separator.
//
// # Enumeration
//
// Enumerate lists entries from container metadata only; no entry bodies are
// decompressed. Results come back in natural sort order (natsort) so that
// repeated scans of the same collection see the same sequence, which keeps
// image ID allocation stable across rescans.
//
// # Size Caps
//
// Open enforces per-entry size caps before reading: archive members against
// MaxEntrySize and loose files against MaxLooseFileSize. Oversized entries
// fail with ErrEntryTooLarge and never allocate body buffers. Bodies that
// end early surface as ErrStreamTruncated, and unreadable containers as
// ErrArchiveCorrupt.
package archive
