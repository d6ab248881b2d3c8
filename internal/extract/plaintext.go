package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	derr "github.com/docdex/docdex/internal/errors"
)

// PlainTextExtractor reads recognized text formats directly, skipping the
// sidecar round trip entirely.
type PlainTextExtractor struct {
	exts            map[string]bool
	defaultLanguage string
}

var _ Extractor = (*PlainTextExtractor)(nil)

// NewPlainTextExtractor creates an extractor for the given extensions
// (".txt", ".md", ...). Matching is case-insensitive.
func NewPlainTextExtractor(exts []string, defaultLanguage string) *PlainTextExtractor {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return &PlainTextExtractor{exts: set, defaultLanguage: defaultLanguage}
}

// Supports reports whether path has a recognized plain-text extension.
func (e *PlainTextExtractor) Supports(path string) bool {
	return e.exts[strings.ToLower(filepath.Ext(path))]
}

// Extract reads the file and resolves its language. Content that is not
// valid UTF-8 is rejected as permanent: the file claimed a text extension
// but is not text.
func (e *PlainTextExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, derr.New(derr.ErrCodeFileVanished, "file vanished before extraction", err).
				WithDetail("path", path)
		}
		return nil, derr.TransientExtract("failed to read file", err).WithDetail("path", path)
	}

	text := string(data)
	if !utf8.ValidString(text) {
		return nil, derr.PermanentExtract("file is not valid UTF-8 text", nil).WithDetail("path", path)
	}

	return &Result{
		Text:      text,
		Language:  resolveLanguage("", text, e.defaultLanguage),
		Extractor: "plaintext",
	}, nil
}

// Name identifies the extractor in document records.
func (e *PlainTextExtractor) Name() string { return "plaintext" }
