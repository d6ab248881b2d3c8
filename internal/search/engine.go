// Package search answers keyword, semantic and hybrid queries over the
// derived indexes, fusing signals with reciprocal rank fusion.
package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/docdex/docdex/internal/catalog"
	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	derr "github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/store"
)

// Mode selects which signals serve a query.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Granularity selects the result unit.
type Granularity string

const (
	GranularityDocument Granularity = "document"
	GranularityChunk    Granularity = "chunk"
)

// Signal names reported in responses.
const (
	SignalKeyword  = "keyword"
	SignalSemantic = "semantic"
)

// DefaultLimit bounds results when the request leaves Limit zero.
const DefaultLimit = 10

// Request is one query.
type Request struct {
	Query       string
	Mode        Mode
	Granularity Granularity
	Limit       int
}

// Result is one ranked hit. ID is the document ID at document granularity
// and the content-derived chunk ID at chunk granularity. Ranks are 1-based;
// zero means the hit did not appear in that signal's list.
type Result struct {
	ID           string
	Path         string
	Start        int
	End          int
	Score        float64
	KeywordRank  int
	SemanticRank int
}

// Response carries the ranked results plus which signals actually served
// the query. Degraded is set when hybrid mode ran on fewer signals than
// requested.
type Response struct {
	Results  []*Result
	Signals  []string
	Degraded bool
}

// Engine executes queries. It holds read-only handles; it never mutates
// the catalog or the indexes.
type Engine struct {
	catalog  *catalog.Store
	text     *store.TextIndex
	vectors  *store.VectorStore
	embedder embed.Embedder
	cfg      config.SearchConfig
}

// NewEngine creates a query engine. vectors and embedder may be nil; the
// engine then serves keyword-only queries.
func NewEngine(cat *catalog.Store, text *store.TextIndex, vectors *store.VectorStore, embedder embed.Embedder, cfg config.SearchConfig) *Engine {
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = 1
	}
	if cfg.SemanticWeight <= 0 {
		cfg.SemanticWeight = 1
	}
	return &Engine{catalog: cat, text: text, vectors: vectors, embedder: embedder, cfg: cfg}
}

// Search runs one query.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return &Response{Results: []*Result{}}, nil
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.Granularity == "" {
		req.Granularity = GranularityDocument
	}
	if req.Limit <= 0 {
		req.Limit = e.cfg.MaxResults
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	// Fetch a deeper candidate pool than the final cut so fusion has
	// overlap to work with.
	fetch := req.Limit * 2

	switch req.Mode {
	case ModeKeyword:
		results, err := e.keyword(ctx, req, fetch)
		if err != nil {
			return nil, err
		}
		return &Response{Results: trim(results, req.Limit), Signals: []string{SignalKeyword}}, nil

	case ModeSemantic:
		if e.embedder == nil || e.vectors == nil {
			return nil, derr.New(derr.ErrCodeNoEmbedProvider,
				"semantic search requires an embeddings provider; none is configured", nil)
		}
		results, err := e.semantic(ctx, req, fetch)
		if err != nil {
			return nil, err
		}
		return &Response{Results: trim(results, req.Limit), Signals: []string{SignalSemantic}}, nil

	case ModeHybrid:
		return e.hybrid(ctx, req, fetch)

	default:
		return nil, derr.ConfigError("unknown search mode", nil).WithDetail("mode", string(req.Mode))
	}
}

// hybrid serves both signals when it can and whichever single signal is
// available when the other fails.
func (e *Engine) hybrid(ctx context.Context, req Request, fetch int) (*Response, error) {
	keyword, kwErr := e.keyword(ctx, req, fetch)
	if kwErr != nil {
		if e.embedder == nil || e.vectors == nil {
			return nil, kwErr
		}
		semantic, err := e.semantic(ctx, req, fetch)
		if err != nil {
			return nil, kwErr
		}
		slog.Warn("keyword signal unavailable, serving semantic only",
			slog.String("error", kwErr.Error()))
		return &Response{
			Results:  trim(semanticRankOnly(semantic), req.Limit),
			Signals:  []string{SignalSemantic},
			Degraded: true,
		}, nil
	}

	if e.embedder == nil || e.vectors == nil {
		return &Response{
			Results:  trim(rankOnly(keyword), req.Limit),
			Signals:  []string{SignalKeyword},
			Degraded: true,
		}, nil
	}

	semantic, err := e.semantic(ctx, req, fetch)
	if err != nil {
		// A provider outage degrades hybrid to keyword instead of
		// failing the query.
		if derr.IsRetryable(err) {
			slog.Warn("semantic signal unavailable, serving keyword only",
				slog.String("error", err.Error()))
			return &Response{
				Results:  trim(rankOnly(keyword), req.Limit),
				Signals:  []string{SignalKeyword},
				Degraded: true,
			}, nil
		}
		return nil, err
	}

	fused := fuseRRF(keyword, semantic, e.cfg.RRFConstant, e.cfg.KeywordWeight, e.cfg.SemanticWeight)
	return &Response{
		Results: trim(fused, req.Limit),
		Signals: []string{SignalKeyword, SignalSemantic},
	}, nil
}

func (e *Engine) keyword(ctx context.Context, req Request, fetch int) ([]*Result, error) {
	var hits []*store.KeywordHit
	var err error
	if req.Granularity == GranularityChunk {
		hits, err = e.text.SearchChunks(ctx, req.Query, fetch)
	} else {
		hits, err = e.text.SearchDocuments(ctx, req.Query, fetch)
	}
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &Result{
			ID:    hit.ID,
			Path:  hit.Path,
			Start: hit.Start,
			End:   hit.End,
			Score: hit.Score,
		})
	}
	return results, nil
}

// semantic embeds the query, searches the vector store and resolves chunk
// IDs through the catalog. At document granularity, chunk hits collapse to
// their documents keeping the best-ranked chunk's span.
func (e *Engine) semantic(ctx context.Context, req Request, fetch int) ([]*Result, error) {
	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := e.vectors.Search(vec, fetch)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	locs, err := e.catalog.LocateChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	var results []*Result
	seenDoc := make(map[int64]bool)
	for _, hit := range hits {
		loc, ok := locs[hit.ID]
		if !ok {
			// Vector not yet pruned for a deleted chunk; skip.
			continue
		}

		if req.Granularity == GranularityChunk {
			results = append(results, &Result{
				ID:    hit.ID,
				Path:  loc.Path,
				Start: loc.Start,
				End:   loc.End,
				Score: float64(hit.Score),
			})
			continue
		}

		if seenDoc[loc.DocumentID] {
			continue
		}
		seenDoc[loc.DocumentID] = true
		results = append(results, &Result{
			ID:    store.DocIndexID(loc.DocumentID),
			Path:  loc.Path,
			Start: loc.Start,
			End:   loc.End,
			Score: float64(hit.Score),
		})
	}
	return results, nil
}

// rankOnly fills KeywordRank for a single-signal result list.
func rankOnly(results []*Result) []*Result {
	for i, res := range results {
		res.KeywordRank = i + 1
	}
	return results
}

// semanticRankOnly fills SemanticRank for a single-signal result list.
func semanticRankOnly(results []*Result) []*Result {
	for i, res := range results {
		res.SemanticRank = i + 1
	}
	return results
}

func trim(results []*Result, limit int) []*Result {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
