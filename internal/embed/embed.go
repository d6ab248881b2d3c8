// Package embed generates vector embeddings for document chunks and queries.
package embed

import (
	"context"
	"math"
	"time"
)

// Defaults applied when the embeddings config leaves fields zero.
const (
	DefaultBatchSize = 32
	DefaultTimeout   = 60 * time.Second

	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is used when the config names no model.
	DefaultOllamaModel = "nomic-embed-text"

	// StaticDimensions is the vector width of the hash-based embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text. All vectors returned are
// unit-normalized so cosine similarity reduces to a dot product.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName identifies the provider and model. Vectors from different
	// model names live in different spaces and are never mixed.
	ModelName() string

	// Available reports whether the embedder can serve requests now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
