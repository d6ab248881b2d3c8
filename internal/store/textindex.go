// Package store holds the derived search artifacts: the bleve keyword index
// and the HNSW vector index. Both rebuild from the catalog, so neither is a
// source of truth.
package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/fr"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	derr "github.com/docdex/docdex/internal/errors"
)

// Sub-index directory names under the index root.
const (
	documentsIndexDir = "documents"
	chunksIndexDir    = "chunks"
)

// DocEntry is a document-granularity index entry.
type DocEntry struct {
	DocumentID int64
	Path       string
	Language   string
	Text       string
}

// ChunkEntry is a chunk-granularity index entry. ChunkID is the
// content-derived chunk identifier shared with the vector store.
type ChunkEntry struct {
	DocumentID int64
	ChunkID    string
	Path       string
	Language   string
	Seq        int
	Start      int
	End        int
	Text       string
}

// KeywordHit is one BM25 result with its stored location fields.
type KeywordHit struct {
	// ID is the index entry ID: the document ID for document hits, the
	// chunk's content-derived ID for chunk hits.
	ID    string
	Score float64
	Path  string
	Start int
	End   int
}

// TextIndex wraps two bleve sub-indexes, one per granularity. Mutations
// accumulate in batches and become visible on Commit.
type TextIndex struct {
	mu         sync.Mutex
	docs       bleve.Index
	chunks     bleve.Index
	docBatch   *bleve.Batch
	chunkBatch *bleve.Batch
	closed     bool
}

// OpenTextIndex opens or creates the keyword index under dir. An empty dir
// creates in-memory indexes.
func OpenTextIndex(dir string) (*TextIndex, error) {
	docs, err := openBleve(dir, documentsIndexDir)
	if err != nil {
		return nil, err
	}
	chunks, err := openBleve(dir, chunksIndexDir)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	t := &TextIndex{docs: docs, chunks: chunks}
	t.docBatch = docs.NewBatch()
	t.chunkBatch = chunks.NewBatch()
	return t, nil
}

func openBleve(dir, name string) (bleve.Index, error) {
	if dir == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, derr.New(derr.ErrCodeIndexMutate, "failed to create in-memory index", err)
		}
		return idx, nil
	}

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, derr.New(derr.ErrCodeIndexMutate, "failed to create index directory", err)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
	}
	if err != nil {
		return nil, derr.New(derr.ErrCodeIndexMutate, "failed to open index", err).
			WithDetail("path", path)
	}
	return idx, nil
}

// buildIndexMapping routes content into per-language fields so each gets
// the matching analyzer: content_en, content_fr, and plain content for
// undetermined languages.
func buildIndexMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	pathField := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("path", pathField)

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	doc.AddFieldMappingsAt("content", content)

	contentEn := bleve.NewTextFieldMapping()
	contentEn.Analyzer = en.AnalyzerName
	doc.AddFieldMappingsAt("content_en", contentEn)

	contentFr := bleve.NewTextFieldMapping()
	contentFr.Analyzer = fr.AnalyzerName
	doc.AddFieldMappingsAt("content_fr", contentFr)

	numeric := bleve.NewNumericFieldMapping()
	doc.AddFieldMappingsAt("start", numeric)
	doc.AddFieldMappingsAt("end", numeric)

	m.DefaultMapping = doc
	return m
}

// contentFieldFor picks the content field for a language.
func contentFieldFor(language string) string {
	switch language {
	case "en":
		return "content_en"
	case "fr":
		return "content_fr"
	default:
		return "content"
	}
}

// DocIndexID is the document sub-index entry ID for a catalog document.
func DocIndexID(documentID int64) string {
	return strconv.FormatInt(documentID, 10)
}

// ChunkIndexID is the chunk sub-index entry ID. It is positional
// (document + seq), not content-derived, so re-extraction overwrites in
// place instead of accumulating stale entries.
func ChunkIndexID(documentID int64, seq int) string {
	return strconv.FormatInt(documentID, 10) + ":" + strconv.Itoa(seq)
}

// UpsertDocument queues the document entry and its chunk entries. The same
// IDs overwrite previous generations, so the call is idempotent.
func (t *TextIndex) UpsertDocument(doc *DocEntry, chunks []*ChunkEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return derr.New(derr.ErrCodeIndexMutate, "index is closed", nil)
	}

	docFields := map[string]any{
		"path":                        doc.Path,
		contentFieldFor(doc.Language): doc.Text,
	}
	if err := t.docBatch.Index(DocIndexID(doc.DocumentID), docFields); err != nil {
		return derr.New(derr.ErrCodeIndexMutate, "failed to queue document", err).
			WithDetail("path", doc.Path)
	}

	for _, c := range chunks {
		fields := map[string]any{
			"path":                      c.Path,
			"chunk_id":                  c.ChunkID,
			contentFieldFor(c.Language): c.Text,
			"start":                     float64(c.Start),
			"end":                       float64(c.End),
		}
		if err := t.chunkBatch.Index(ChunkIndexID(c.DocumentID, c.Seq), fields); err != nil {
			return derr.New(derr.ErrCodeIndexMutate, "failed to queue chunk", err).
				WithDetail("path", c.Path)
		}
	}
	return nil
}

// DeleteDocument queues removal of a document entry and chunkCount chunk
// entries. Deleting beyond what exists is harmless.
func (t *TextIndex) DeleteDocument(documentID int64, chunkCount int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return derr.New(derr.ErrCodeIndexMutate, "index is closed", nil)
	}

	t.docBatch.Delete(DocIndexID(documentID))
	for seq := 0; seq < chunkCount; seq++ {
		t.chunkBatch.Delete(ChunkIndexID(documentID, seq))
	}
	return nil
}

// Commit applies the queued batches. Mutations are not searchable before
// this runs.
func (t *TextIndex) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return derr.New(derr.ErrCodeIndexCommit, "index is closed", nil)
	}

	if t.docBatch.Size() > 0 {
		if err := t.docs.Batch(t.docBatch); err != nil {
			return derr.New(derr.ErrCodeIndexCommit, "failed to commit document batch", err)
		}
		t.docBatch = t.docs.NewBatch()
	}
	if t.chunkBatch.Size() > 0 {
		if err := t.chunks.Batch(t.chunkBatch); err != nil {
			return derr.New(derr.ErrCodeIndexCommit, "failed to commit chunk batch", err)
		}
		t.chunkBatch = t.chunks.NewBatch()
	}
	return nil
}

// Pending reports the number of queued, uncommitted mutations.
func (t *TextIndex) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docBatch.Size() + t.chunkBatch.Size()
}

// SearchDocuments runs a BM25 query at document granularity.
func (t *TextIndex) SearchDocuments(ctx context.Context, queryStr string, k int) ([]*KeywordHit, error) {
	return t.search(ctx, t.docs, queryStr, k)
}

// SearchChunks runs a BM25 query at chunk granularity. Hit IDs are the
// chunks' content-derived IDs.
func (t *TextIndex) SearchChunks(ctx context.Context, queryStr string, k int) ([]*KeywordHit, error) {
	return t.search(ctx, t.chunks, queryStr, k)
}

func (t *TextIndex) search(ctx context.Context, idx bleve.Index, queryStr string, k int) ([]*KeywordHit, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, derr.New(derr.ErrCodeIndexMutate, "index is closed", nil)
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordHit{}, nil
	}

	// The query language is unknown, so match against every content field
	// and let the best analyzer win.
	var parts []query.Query
	for _, field := range []string{"content", "content_en", "content_fr"} {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		parts = append(parts, mq)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(parts...))
	req.Size = k
	req.Fields = []string{"path", "chunk_id", "start", "end"}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, derr.New(derr.ErrCodeIndexMutate, "keyword search failed", err)
	}

	hits := make([]*KeywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out := &KeywordHit{ID: hit.ID, Score: hit.Score}
		if p, ok := hit.Fields["path"].(string); ok {
			out.Path = p
		}
		if cid, ok := hit.Fields["chunk_id"].(string); ok {
			out.ID = cid
		}
		if v, ok := hit.Fields["start"].(float64); ok {
			out.Start = int(v)
		}
		if v, ok := hit.Fields["end"].(float64); ok {
			out.End = int(v)
		}
		hits = append(hits, out)
	}
	return hits, nil
}

// DocCount returns the number of committed document entries.
func (t *TextIndex) DocCount() (uint64, error) {
	return t.docs.DocCount()
}

// Close flushes nothing: callers commit explicitly before closing.
func (t *TextIndex) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	errDocs := t.docs.Close()
	errChunks := t.chunks.Close()
	if errDocs != nil {
		return errDocs
	}
	return errChunks
}
