package embed

import (
	"github.com/docdex/docdex/internal/config"
	derr "github.com/docdex/docdex/internal/errors"
)

// NewFromConfig builds the configured embedding provider wrapped in the LRU
// cache. An empty provider returns (nil, nil): indexing and search then run
// keyword-only.
func NewFromConfig(cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "":
		return nil, nil
	case "static":
		inner = NewStaticEmbedder()
	case "ollama":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	default:
		return nil, derr.ConfigError("unknown embeddings provider", nil).
			WithDetail("provider", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
