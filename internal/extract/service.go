package extract

import (
	"context"

	"github.com/docdex/docdex/internal/config"
	derr "github.com/docdex/docdex/internal/errors"
)

// Service routes each file to the right extractor: recognized text formats
// take the direct-read fast path, everything else goes to the sidecar.
type Service struct {
	plain   *PlainTextExtractor
	sidecar *SidecarExtractor
}

// NewService wires extractors from the extraction config. A service without
// a sidecar URL still handles plain-text formats; other files fail as
// permanent.
func NewService(cfg config.ExtractionConfig) *Service {
	s := &Service{
		plain: NewPlainTextExtractor(cfg.PlainTextExts, cfg.DefaultLanguage),
	}
	if cfg.SidecarURL != "" {
		s.sidecar = NewSidecarExtractor(cfg.SidecarURL, cfg.Timeout.Std(), cfg.DefaultLanguage)
	}
	return s
}

// Extract produces the plain text for path.
func (s *Service) Extract(ctx context.Context, path string) (*Result, error) {
	if s.plain.Supports(path) {
		return s.plain.Extract(ctx, path)
	}
	if s.sidecar != nil {
		return s.sidecar.Extract(ctx, path)
	}
	return nil, derr.PermanentExtract("no extractor configured for file", nil).
		WithDetail("path", path)
}

// Close releases sidecar connections.
func (s *Service) Close() {
	if s.sidecar != nil {
		s.sidecar.Close()
	}
}
