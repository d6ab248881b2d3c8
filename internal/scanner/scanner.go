package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	derr "github.com/docdex/docdex/internal/errors"
)

// Scanner walks the configured roots and streams candidate file entries.
type Scanner struct {
	opts Options
}

// New creates a Scanner. Every root must exist and be a directory.
func New(opts Options) (*Scanner, error) {
	for _, root := range opts.Roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, derr.New(derr.ErrCodeRootNotFound,
				fmt.Sprintf("root %s not found", root), err)
		}
		if !info.IsDir() {
			return nil, derr.New(derr.ErrCodeRootNotFound,
				fmt.Sprintf("root %s is not a directory", root), nil)
		}
	}
	return &Scanner{opts: opts}, nil
}

// Scan walks all roots and streams results. The channel is closed when the
// walk finishes or ctx is cancelled. Files vanishing mid-scan are skipped
// with a warning, never fatal.
func (s *Scanner) Scan(ctx context.Context) <-chan ScanResult {
	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		for _, root := range s.opts.Roots {
			s.walkRoot(ctx, root, results)
		}
	}()

	return results
}

// Accepts reports whether an absolute path under root passes the scanner's
// filters. Used by the watcher to filter live events with the same rules as
// the cold scan.
func (s *Scanner) Accepts(root, absPath string) bool {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return false
	}
	return s.acceptsRel(rel)
}

// AcceptsPath is Accepts for callers that only hold the absolute path; the
// containing root is resolved from the scanner's own root list.
func (s *Scanner) AcceptsPath(absPath string) bool {
	for _, root := range s.opts.Roots {
		if absPath == root || strings.HasPrefix(absPath, root+string(filepath.Separator)) {
			return s.Accepts(root, absPath)
		}
	}
	return false
}

func (s *Scanner) acceptsRel(rel string) bool {
	if !s.opts.IncludeHidden && hasHiddenComponent(rel) {
		return false
	}
	if len(s.opts.Include) > 0 && !MatchAny(s.opts.Include, rel) {
		return false
	}
	if MatchAny(s.opts.Exclude, rel) {
		return false
	}
	return true
}

// Stat builds a FileEntry for one path, fingerprinting its content. Returns
// a vanished error when the file disappeared.
func (s *Scanner) Stat(path string) (*FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, vanishedOr(path, err)
	}
	if info.IsDir() {
		return nil, derr.New(derr.ErrCodeFileNotFound, "path is a directory", nil).
			WithDetail("path", path)
	}
	if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
		return nil, nil // oversize, silently skipped
	}

	fp, err := FastFingerprint(path)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Path:            path,
		Size:            info.Size(),
		ModTimeNano:     info.ModTime().UnixNano(),
		FastFingerprint: fp,
	}, nil
}

func (s *Scanner) walkRoot(ctx context.Context, root string, results chan<- ScanResult) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // skip entries we cannot access
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if !s.opts.IncludeHidden && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			if MatchAny(s.opts.Exclude, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !s.opts.FollowSymlinks {
				return nil
			}
			// Resolve the target; dangling links are skipped.
			if _, err := os.Stat(path); err != nil {
				return nil
			}
		}

		if !s.acceptsRel(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
			slog.Debug("skipping oversize file",
				slog.String("path", path), slog.Int64("size", info.Size()))
			return nil
		}

		fp, err := FastFingerprint(path)
		if err != nil {
			if derr.Is(err, derr.New(derr.ErrCodeFileVanished, "", nil)) {
				slog.Debug("file vanished during scan", slog.String("path", path))
				return nil
			}
			select {
			case results <- ScanResult{Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		entry := &FileEntry{
			Path:            path,
			Size:            info.Size(),
			ModTimeNano:     info.ModTime().UnixNano(),
			FastFingerprint: fp,
		}
		select {
		case results <- ScanResult{Entry: entry}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Err: err}:
		default:
		}
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func hasHiddenComponent(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if isHidden(part) {
			return true
		}
	}
	return false
}
