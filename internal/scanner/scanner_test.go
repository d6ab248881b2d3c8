package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derr "github.com/docdex/docdex/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, s *Scanner) map[string]*FileEntry {
	t.Helper()
	out := make(map[string]*FileEntry)
	for res := range s.Scan(context.Background()) {
		require.NoError(t, res.Err)
		out[res.Entry.Path] = res.Entry
	}
	return out
}

func TestScan_FindsFilesWithFingerprints(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "project timeline Q3")
	b := writeFile(t, dir, "sub/b.md", "release notes")

	s, err := New(Options{Roots: []string{dir}})
	require.NoError(t, err)

	entries := collect(t, s)
	require.Len(t, entries, 2)
	assert.NotZero(t, entries[a].FastFingerprint)
	assert.Equal(t, int64(len("project timeline Q3")), entries[a].Size)
	assert.NotEqual(t, entries[a].FastFingerprint, entries[b].FastFingerprint)
}

func TestScan_EmptyRoot(t *testing.T) {
	s, err := New(Options{Roots: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.Empty(t, collect(t, s))
}

func TestNew_MissingRootFails(t *testing.T) {
	_, err := New(Options{Roots: []string{"/no/such/root"}})
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeRootNotFound, derr.CodeOf(err))
}

func TestScan_ExcludeGlobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "keep")
	writeFile(t, dir, "skip.tmp", "skip")
	writeFile(t, dir, "node_modules/dep/index.js", "skip")

	s, err := New(Options{
		Roots:   []string{dir},
		Exclude: []string{"**/*.tmp", "**/node_modules/**"},
	})
	require.NoError(t, err)

	entries := collect(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, filepath.Join(dir, "keep.txt"))
}

func TestScan_IncludeGlobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "doc")
	writeFile(t, dir, "deep/nested/b.md", "doc")
	writeFile(t, dir, "c.bin", "binary")

	s, err := New(Options{
		Roots:   []string{dir},
		Include: []string{"**/*.md"},
	})
	require.NoError(t, err)

	entries := collect(t, s)
	assert.Len(t, entries, 2)
	assert.NotContains(t, entries, filepath.Join(dir, "c.bin"))
}

func TestScan_HiddenPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "visible.txt", "x")
	writeFile(t, dir, ".hidden.txt", "x")
	writeFile(t, dir, ".config/inner.txt", "x")

	s, err := New(Options{Roots: []string{dir}})
	require.NoError(t, err)
	assert.Len(t, collect(t, s), 1)

	s, err = New(Options{Roots: []string{dir}, IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, collect(t, s), 3)
}

func TestScan_MaxFileSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "small.txt", "ok")
	writeFile(t, dir, "big.txt", "this one is too large")

	s, err := New(Options{Roots: []string{dir}, MaxFileSize: 10})
	require.NoError(t, err)

	entries := collect(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, filepath.Join(dir, "small.txt"))
}

func TestScan_SymlinkPolicy(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "target.txt", "content")
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	s, err := New(Options{Roots: []string{dir}})
	require.NoError(t, err)
	entries := collect(t, s)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, target)

	s, err = New(Options{Roots: []string{dir}, FollowSymlinks: true})
	require.NoError(t, err)
	assert.Len(t, collect(t, s), 2)
}

func TestFingerprints(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello world")

	fast1, err := FastFingerprint(path)
	require.NoError(t, err)
	fast2, err := FastFingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, fast1, fast2, "deterministic")

	strong, err := StrongFingerprint(path)
	require.NoError(t, err)
	assert.Len(t, strong, 64)
	assert.Equal(t, StrongFingerprintBytes([]byte("hello world")), strong)
}

func TestFingerprint_VanishedFile(t *testing.T) {
	_, err := FastFingerprint(filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeFileVanished, derr.CodeOf(err))
}

func TestStat_Oversize(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.txt", "0123456789abcdef")

	s, err := New(Options{Roots: []string{dir}, MaxFileSize: 4})
	require.NoError(t, err)

	entry, err := s.Stat(path)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/*.md", "a.md", true},
		{"**/*.md", "deep/nested/a.md", true},
		{"**/*.md", "a.txt", false},
		{"docs/**", "docs/a/b/c.txt", true},
		{"docs/**", "other/a.txt", false},
		{"**/node_modules/**", "x/node_modules/y/z.js", true},
		{"*.txt", "a.txt", true},
		{"*.txt", "dir/a.txt", false},
		{"a/?.txt", "a/b.txt", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.path),
			"pattern %q path %q", tt.pattern, tt.path)
	}
}
