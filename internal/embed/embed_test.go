package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/config"
	derr "github.com/docdex/docdex/internal/errors"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStatic_DeterministicAndNormalized(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "retrieval quality matters")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "retrieval quality matters")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
	assert.InDelta(t, 1.0, vectorNorm(a), 1e-5)
}

func TestStatic_DistinctTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "first document")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "completely unrelated text")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStatic_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, StaticDimensions), vec)
}

func TestStatic_ClosedRejects(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))

	_, err := e.Embed(context.Background(), "text")
	assert.Equal(t, derr.ErrCodeEmbedFailed, derr.CodeOf(err))
}

// countingEmbedder records how many texts reach the inner provider.
type countingEmbedder struct {
	*StaticEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls += len(texts)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCached_HitSkipsInner(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	first, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCached_BatchForwardsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	_, err := c.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, StaticDimensions)
	}
	assert.Equal(t, 3, inner.calls, "one warm hit plus two misses")
}

func TestOllama_EmbedBatch(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotModel = req.Model

			inputs, ok := req.Input.([]any)
			if !ok {
				inputs = []any{req.Input}
			}
			resp := ollamaEmbedResponse{}
			for range inputs {
				resp.Embeddings = append(resp.Embeddings, []float64{3, 4})
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, "nomic-embed-text", gotModel)
	assert.InDelta(t, 1.0, vectorNorm(vecs[0]), 1e-5, "vectors are normalized")
	assert.Equal(t, 2, e.Dimensions(), "dimensions auto-detected")
}

func TestOllama_BlankTextsSkipAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected for blank-only batch")
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 4})
	vecs, err := e.EmbedBatch(context.Background(), []string{"", "  "})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vecs[0])
	assert.Equal(t, make([]float32, 4), vecs[1])
}

func TestOllama_UnreachableIsEmbedUnavailable(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{Host: "http://127.0.0.1:1"})
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeEmbedUnavailable, derr.CodeOf(err))
	assert.True(t, derr.IsRetryable(err))
}

func TestOllama_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	assert.True(t, e.Available(context.Background()))

	other := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "mxbai-embed-large"})
	assert.False(t, other.Available(context.Background()))
}

func TestNewFromConfig(t *testing.T) {
	none, err := NewFromConfig(config.EmbeddingsConfig{})
	require.NoError(t, err)
	assert.Nil(t, none)

	static, err := NewFromConfig(config.EmbeddingsConfig{Provider: "static"})
	require.NoError(t, err)
	require.NotNil(t, static)
	assert.Equal(t, "static-256", static.ModelName())

	ollama, err := NewFromConfig(config.EmbeddingsConfig{Provider: "ollama", Model: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "ollama/custom", ollama.ModelName())

	_, err = NewFromConfig(config.EmbeddingsConfig{Provider: "cohere"})
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeConfigInvalid, derr.CodeOf(err))
}
