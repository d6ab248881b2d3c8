package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	derr "github.com/docdex/docdex/internal/errors"
)

// Sidecar defaults, applied when the config leaves them zero.
const (
	DefaultSidecarTimeout = 60 * time.Second
	sidecarPoolSize       = 4
)

type sidecarRequest struct {
	Path     string `json:"path"`
	LangHint string `json:"lang_hint"`
}

type sidecarResponse struct {
	OK        bool    `json:"ok"`
	Extractor string  `json:"extractor"`
	Version   string  `json:"version"`
	Lang      *string `json:"lang"`
	Pages     *int64  `json:"pages"`
	Markdown  *string `json:"markdown"`
	Text      *string `json:"text"`
	Error     *string `json:"error"`
}

// SidecarExtractor calls the extraction sidecar over HTTP. The sidecar
// receives the file path and returns extracted text; it runs on the same
// host, so paths are shared.
type SidecarExtractor struct {
	client   *http.Client
	url      string
	timeout  time.Duration
	langHint string
}

var _ Extractor = (*SidecarExtractor)(nil)

// NewSidecarExtractor creates a client for the sidecar at url. langHint is
// forwarded with every request; "auto" lets the sidecar decide.
func NewSidecarExtractor(url string, timeout time.Duration, langHint string) *SidecarExtractor {
	if timeout <= 0 {
		timeout = DefaultSidecarTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        sidecarPoolSize,
		MaxIdleConnsPerHost: sidecarPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}
	return &SidecarExtractor{
		// No client timeout: the per-request context carries it, so a
		// caller-supplied deadline is never silently overridden.
		client:   &http.Client{Transport: transport},
		url:      url,
		timeout:  timeout,
		langHint: langHint,
	}
}

// Extract posts the file path to the sidecar and classifies failures:
// transport errors, timeouts and 5xx responses are transient; 4xx responses
// and sidecar-reported failures are permanent.
func (e *SidecarExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(sidecarRequest{Path: path, LangHint: e.langHint})
	if err != nil {
		return nil, derr.New(derr.ErrCodeInternal, "failed to marshal extraction request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, derr.New(derr.ErrCodeInternal, "failed to build extraction request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Caller cancellation is not an extraction failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, derr.TransientExtract("extraction sidecar unreachable", err).
			WithDetail("path", path).
			WithDetail("url", e.url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		status := strconv.Itoa(resp.StatusCode)
		detail := string(respBody)
		if resp.StatusCode >= 500 {
			return nil, derr.TransientExtract("extraction sidecar error", nil).
				WithDetail("path", path).
				WithDetail("status", status).
				WithDetail("body", detail)
		}
		return nil, derr.PermanentExtract("extraction rejected by sidecar", nil).
			WithDetail("path", path).
			WithDetail("status", status).
			WithDetail("body", detail)
	}

	var parsed sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, derr.TransientExtract("invalid extraction response", err).WithDetail("path", path)
	}

	if !parsed.OK {
		msg := "sidecar reported extraction failure"
		out := derr.PermanentExtract(msg, nil).WithDetail("path", path)
		if parsed.Error != nil {
			out = out.WithDetail("reason", *parsed.Error)
		}
		return nil, out
	}

	text := ""
	switch {
	case parsed.Text != nil && *parsed.Text != "":
		text = *parsed.Text
	case parsed.Markdown != nil:
		text = *parsed.Markdown
	}

	reported := ""
	if parsed.Lang != nil {
		reported = *parsed.Lang
	}
	pages := 0
	if parsed.Pages != nil {
		pages = int(*parsed.Pages)
	}

	name := parsed.Extractor
	if name == "" {
		name = "sidecar"
	}

	return &Result{
		Text:      text,
		Language:  resolveLanguage(reported, text, e.langHint),
		PageCount: pages,
		Extractor: name,
	}, nil
}

// Name identifies the extractor in document records.
func (e *SidecarExtractor) Name() string { return "sidecar" }

// Close releases pooled connections.
func (e *SidecarExtractor) Close() {
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
