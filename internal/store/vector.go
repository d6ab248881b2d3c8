package store

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"

	derr "github.com/docdex/docdex/internal/errors"
)

// HNSW tuning knobs.
const (
	hnswM        = 16
	hnswEfSearch = 20
)

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ID    string
	Score float32
}

// VectorStore is an HNSW index over chunk embeddings, keyed by the chunks'
// content-derived IDs. All vectors belong to one provider; loading a store
// written by a different provider discards it rather than mixing spaces.
type VectorStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	path  string

	provider string
	dims     int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	dirty  bool
	closed bool
}

// vectorMetadata is the gob-encoded sidecar holding the ID map and the
// provider identity.
type vectorMetadata struct {
	Provider   string
	Dimensions int
	IDMap      map[string]uint64
	NextKey    uint64
}

// OpenVectorStore opens or creates the vector store at path. An empty path
// keeps the store in memory. dims may be zero when the provider reports its
// width lazily; the first Add fixes it.
func OpenVectorStore(path, provider string, dims int) (*VectorStore, error) {
	s := &VectorStore{
		graph:    newGraph(),
		path:     path,
		provider: provider,
		dims:     dims,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
	}

	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	g.Ml = 0.25
	return g
}

func (s *VectorStore) load() error {
	meta, err := readVectorMetadata(s.path + ".meta")
	if err != nil {
		return err
	}

	if meta.Provider != s.provider {
		// A provider switch invalidates every stored vector.
		slog.Warn("embedding provider changed, discarding vector index",
			slog.String("stored", meta.Provider),
			slog.String("configured", s.provider))
		s.dirty = true
		return nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		return derr.New(derr.ErrCodeIndexMutate, "failed to open vector index", err).
			WithDetail("path", s.path)
	}
	defer func() { _ = file.Close() }()

	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return derr.New(derr.ErrCodeIndexMutate, "failed to import vector index", err).
			WithDetail("path", s.path)
	}

	s.dims = meta.Dimensions
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

func readVectorMetadata(path string) (*vectorMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, derr.New(derr.ErrCodeIndexMutate, "failed to open vector metadata", err).
			WithDetail("path", path)
	}
	defer func() { _ = file.Close() }()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, derr.New(derr.ErrCodeIndexMutate, "failed to decode vector metadata", err).
			WithDetail("path", path)
	}
	return &meta, nil
}

// Provider returns the embedding provider identity this store is bound to.
func (s *VectorStore) Provider() string { return s.provider }

// Dimensions returns the vector width, zero before the first Add on a
// fresh store with a lazily-sized provider.
func (s *VectorStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Add inserts or replaces vectors by chunk ID. Replacement is lazy: the old
// graph node is orphaned and drops out of results immediately.
func (s *VectorStore) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return derr.New(derr.ErrCodeInternal, "ids and vectors length mismatch", nil)
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return derr.New(derr.ErrCodeIndexMutate, "vector store is closed", nil)
	}

	if s.dims == 0 {
		s.dims = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != s.dims {
			return derr.New(derr.ErrCodeIndexMutate, "vector dimension mismatch", nil).
				WithDetail("expected", itoa(s.dims)).
				WithDetail("got", itoa(len(v)))
		}
	}

	for i, id := range ids {
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	s.dirty = true
	return nil
}

// Delete removes vectors by chunk ID. Unknown IDs are ignored. Removal is
// lazy; orphaned graph nodes never surface in results.
func (s *VectorStore) Delete(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			s.dirty = true
		}
	}
}

// Contains reports whether a chunk ID has a live vector.
func (s *VectorStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Search returns up to k nearest neighbors by cosine similarity, best
// first. Scores are in [0,1].
func (s *VectorStore) Search(query []float32, k int) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, derr.New(derr.ErrCodeIndexMutate, "vector store is closed", nil)
	}
	if len(s.idMap) == 0 {
		return []*VectorHit{}, nil
	}
	if len(query) != s.dims {
		return nil, derr.New(derr.ErrCodeIndexMutate, "query dimension mismatch", nil).
			WithDetail("expected", itoa(s.dims)).
			WithDetail("got", itoa(len(query)))
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Over-fetch to compensate for lazily-deleted orphans in the graph.
	fetch := k + (s.graph.Len() - len(s.idMap))
	nodes := s.graph.Search(q, fetch)

	hits := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		hits = append(hits, &VectorHit{ID: id, Score: 1 - distance/2})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Save atomically persists the graph and its metadata. A no-op when
// nothing changed since the last save, or for in-memory stores.
func (s *VectorStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return derr.New(derr.ErrCodeIndexCommit, "vector store is closed", nil)
	}
	if s.path == "" || !s.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return derr.New(derr.ErrCodeIndexCommit, "failed to create vector directory", err)
	}

	var graphBuf bytes.Buffer
	if err := s.graph.Export(&graphBuf); err != nil {
		return derr.New(derr.ErrCodeIndexCommit, "failed to export vector graph", err)
	}
	if err := renameio.WriteFile(s.path, graphBuf.Bytes(), 0o644); err != nil {
		return derr.New(derr.ErrCodeIndexCommit, "failed to write vector index", err).
			WithDetail("path", s.path)
	}

	var metaBuf bytes.Buffer
	meta := vectorMetadata{
		Provider:   s.provider,
		Dimensions: s.dims,
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
	}
	if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return derr.New(derr.ErrCodeIndexCommit, "failed to encode vector metadata", err)
	}
	if err := renameio.WriteFile(s.path+".meta", metaBuf.Bytes(), 0o644); err != nil {
		return derr.New(derr.ErrCodeIndexCommit, "failed to write vector metadata", err).
			WithDetail("path", s.path+".meta")
	}

	s.dirty = false
	return nil
}

// Close marks the store unusable. Pending changes are not saved; callers
// save explicitly first.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
