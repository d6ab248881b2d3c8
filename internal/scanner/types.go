// Package scanner enumerates candidate files under the configured roots,
// applying include/exclude filters and computing content fingerprints.
package scanner

// FileEntry is one candidate file yielded by a scan or a watch event.
type FileEntry struct {
	// Path is the absolute, cleaned path.
	Path string
	Size int64
	// ModTimeNano is the modification time in nanoseconds since the epoch.
	ModTimeNano int64
	// FastFingerprint is the xxhash64 of the file content.
	FastFingerprint uint64
}

// ScanResult is one scan outcome: an entry or a walk error.
type ScanResult struct {
	Entry *FileEntry
	Err   error
}

// Options controls a scan pass.
type Options struct {
	// Roots are the absolute directories to walk.
	Roots []string
	// Include globs ("**" aware). Empty includes everything.
	Include []string
	// Exclude globs, applied after Include.
	Exclude []string
	// MaxFileSize in bytes; larger files are skipped.
	MaxFileSize int64
	// FollowSymlinks descends into symlinked files and directories.
	FollowSymlinks bool
	// IncludeHidden includes dot-files and dot-directories.
	IncludeHidden bool
}
