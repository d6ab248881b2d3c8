package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/config"
	derr "github.com/docdex/docdex/internal/errors"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestPlainText_SupportedExtensions(t *testing.T) {
	e := NewPlainTextExtractor([]string{".txt", "md", " .LOG "}, "auto")

	assert.True(t, e.Supports("/docs/a.txt"))
	assert.True(t, e.Supports("/docs/README.MD"))
	assert.True(t, e.Supports("/var/app.log"))
	assert.False(t, e.Supports("/docs/report.pdf"))
	assert.False(t, e.Supports("/docs/noext"))
}

func TestPlainText_Extract(t *testing.T) {
	path := writeFile(t, "note.txt", []byte("the cat sat on the mat and it was not for nothing that this is here"))
	e := NewPlainTextExtractor([]string{".txt"}, "auto")

	res, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plaintext", res.Extractor)
	assert.Equal(t, "en", res.Language)
	assert.Contains(t, res.Text, "the cat sat")
	assert.Zero(t, res.PageCount)
}

func TestPlainText_InvalidUTF8IsPermanent(t *testing.T) {
	path := writeFile(t, "binary.txt", []byte{0xff, 0xfe, 0x00, 0x01})
	e := NewPlainTextExtractor([]string{".txt"}, "auto")

	_, err := e.Extract(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeExtractPermanent, derr.CodeOf(err))
	assert.False(t, derr.IsRetryable(err))
}

func TestPlainText_VanishedFile(t *testing.T) {
	e := NewPlainTextExtractor([]string{".txt"}, "auto")

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeFileVanished, derr.CodeOf(err))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "the quick brown fox is in the barn and it is not for sale with that", "en"},
		{"french", "le chat est dans la maison et les enfants sont dans le jardin pour une heure", "fr"},
		{"too short", "hello", ""},
		{"no stopwords", "zzz qqq xxx www yyy", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}

func TestResolveLanguage_Precedence(t *testing.T) {
	english := "the cat is in the house and it is not there for nothing with that"

	// Extractor-reported language wins over the heuristic.
	assert.Equal(t, "de", resolveLanguage("de", english, "auto"))
	assert.Equal(t, "fr", resolveLanguage("fr-FR", english, "auto"))

	// Heuristic fills in when the extractor stays silent.
	assert.Equal(t, "en", resolveLanguage("", english, "auto"))

	// Configured default covers undetermined text; "auto" does not force one.
	assert.Equal(t, "fr", resolveLanguage("", "zzz", "fr"))
	assert.Equal(t, "", resolveLanguage("", "zzz", "auto"))
}

func sidecarServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestSidecar_Success(t *testing.T) {
	srv := sidecarServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req sidecarRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/docs/report.pdf", req.Path)
		assert.Equal(t, "auto", req.LangHint)

		lang, pages, text := "en", int64(12), "report body"
		_ = json.NewEncoder(w).Encode(sidecarResponse{
			OK:        true,
			Extractor: "docling",
			Version:   "1.0",
			Lang:      &lang,
			Pages:     &pages,
			Text:      &text,
		})
	})

	e := NewSidecarExtractor(srv.URL, time.Second, "auto")
	res, err := e.Extract(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "report body", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 12, res.PageCount)
	assert.Equal(t, "docling", res.Extractor)
}

func TestSidecar_MarkdownFallback(t *testing.T) {
	srv := sidecarServer(t, func(w http.ResponseWriter, r *http.Request) {
		md := "# Heading\n\nbody"
		_ = json.NewEncoder(w).Encode(sidecarResponse{OK: true, Extractor: "docling", Markdown: &md})
	})

	e := NewSidecarExtractor(srv.URL, time.Second, "auto")
	res, err := e.Extract(context.Background(), "/docs/a.docx")
	require.NoError(t, err)
	assert.Equal(t, "# Heading\n\nbody", res.Text)
}

func TestSidecar_ServerErrorIsTransient(t *testing.T) {
	srv := sidecarServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	e := NewSidecarExtractor(srv.URL, time.Second, "auto")
	_, err := e.Extract(context.Background(), "/docs/a.pdf")
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeExtractTransient, derr.CodeOf(err))
	assert.True(t, derr.IsRetryable(err))
}

func TestSidecar_ClientErrorIsPermanent(t *testing.T) {
	srv := sidecarServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusUnprocessableEntity)
	})

	e := NewSidecarExtractor(srv.URL, time.Second, "auto")
	_, err := e.Extract(context.Background(), "/docs/a.xyz")
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeExtractPermanent, derr.CodeOf(err))
	assert.False(t, derr.IsRetryable(err))
}

func TestSidecar_ReportedFailureIsPermanent(t *testing.T) {
	srv := sidecarServer(t, func(w http.ResponseWriter, r *http.Request) {
		reason := "encrypted document"
		_ = json.NewEncoder(w).Encode(sidecarResponse{OK: false, Error: &reason})
	})

	e := NewSidecarExtractor(srv.URL, time.Second, "auto")
	_, err := e.Extract(context.Background(), "/docs/a.pdf")
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeExtractPermanent, derr.CodeOf(err))
}

func TestSidecar_UnreachableIsTransient(t *testing.T) {
	e := NewSidecarExtractor("http://127.0.0.1:1/extract", 200*time.Millisecond, "auto")
	_, err := e.Extract(context.Background(), "/docs/a.pdf")
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeExtractTransient, derr.CodeOf(err))
}

func TestService_RoutesPlainTextPastSidecar(t *testing.T) {
	called := false
	srv := sidecarServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		http.Error(w, "should not be called", http.StatusInternalServerError)
	})

	cfg := config.ExtractionConfig{
		SidecarURL:      srv.URL,
		Timeout:         config.Duration(time.Second),
		PlainTextExts:   []string{".txt"},
		DefaultLanguage: "auto",
	}
	svc := NewService(cfg)
	defer svc.Close()

	path := writeFile(t, "note.txt", []byte("plain text body"))
	res, err := svc.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plaintext", res.Extractor)
	assert.False(t, called)
}

func TestService_NoSidecarRejectsBinaryFormats(t *testing.T) {
	svc := NewService(config.ExtractionConfig{
		PlainTextExts:   []string{".txt"},
		DefaultLanguage: "auto",
	})

	_, err := svc.Extract(context.Background(), "/docs/report.pdf")
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeExtractPermanent, derr.CodeOf(err))
}
