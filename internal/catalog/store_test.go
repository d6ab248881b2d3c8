package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testFile(path string) *FileRecord {
	return &FileRecord{
		Path:              path,
		Size:              42,
		ModTime:           time.Now(),
		FastFingerprint:   0xdeadbeef,
		StrongFingerprint: "abc123",
		Generation:        1,
	}
}

func TestUpsertFile_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertFile(ctx, testFile("/docs/a.txt"))
	require.NoError(t, err)

	rec := testFile("/docs/a.txt")
	rec.Size = 100
	rec.Generation = 2
	id2, err := s.UpsertFile(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "update must not create a second record")

	got, err := s.GetActiveFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.Size)
	assert.Equal(t, int64(2), got.Generation)
	assert.Equal(t, uint64(0xdeadbeef), got.FastFingerprint)
}

func TestGetActiveFile_AbsentReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetActiveFile(context.Background(), "/nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestActiveFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFile(ctx, testFile("/docs/a.txt"))
	require.NoError(t, err)
	_, err = s.UpsertFile(ctx, testFile("/docs/b.txt"))
	require.NoError(t, err)

	files, err := s.ActiveFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, files, "/docs/a.txt")
	assert.Contains(t, files, "/docs/b.txt")
}

func insertDocWithChunks(t *testing.T, s *Store, ctx context.Context, path string, chunkIDs ...string) int64 {
	t.Helper()
	fileID, err := s.UpsertFile(ctx, testFile(path))
	require.NoError(t, err)

	chunks := make([]ChunkRecord, len(chunkIDs))
	for i, id := range chunkIDs {
		chunks[i] = ChunkRecord{ChunkID: id, Seq: i, Start: i * 10, End: (i + 1) * 10}
	}
	docID, _, err := s.ReplaceDocument(ctx, &DocumentRecord{
		FileID:      fileID,
		Language:    "en",
		TextLength:  len(chunkIDs) * 10,
		ExtractedAt: time.Now(),
	}, chunks)
	require.NoError(t, err)
	return docID
}

func TestSoftDelete_CascadesAndKeepsTombstone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertDocWithChunks(t, s, ctx, "/docs/a.txt", "c1", "c2")
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		ChunkID: "c1", Provider: "static", Dimensions: 2, Vector: []float32{1, 2},
	}))

	chunkIDs, _, err := s.SoftDeleteFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, chunkIDs)

	got, err := s.GetActiveFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	doc, err := s.GetDocumentByPath(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Nil(t, doc)

	has, err := s.HasEmbedding(ctx, "c1", "static")
	require.NoError(t, err)
	assert.False(t, has, "orphaned embeddings are pruned")

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ActiveFiles)
	assert.Equal(t, int64(1), st.DeletedFiles)
	assert.Equal(t, int64(0), st.Chunks)
}

func TestSoftDelete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFile(ctx, testFile("/docs/a.txt"))
	require.NoError(t, err)

	_, _, err = s.SoftDeleteFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	_, fileID, err := s.SoftDeleteFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Zero(t, fileID)
}

func TestSoftDelete_SharedChunkKeepsEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two documents sharing the same chunk content.
	insertDocWithChunks(t, s, ctx, "/docs/a.txt", "shared")
	insertDocWithChunks(t, s, ctx, "/docs/b.txt", "shared")
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		ChunkID: "shared", Provider: "static", Dimensions: 2, Vector: []float32{1, 2},
	}))

	_, _, err := s.SoftDeleteFile(ctx, "/docs/a.txt")
	require.NoError(t, err)

	has, err := s.HasEmbedding(ctx, "shared", "static")
	require.NoError(t, err)
	assert.True(t, has, "chunk still live under /docs/b.txt")
}

func TestOpsLog_AppendAndTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op1, err := s.AppendOp(ctx, "/docs/a.txt", OpAdd)
	require.NoError(t, err)
	op2, err := s.AppendOp(ctx, "/docs/b.txt", OpModify)
	require.NoError(t, err)

	pending, err := s.PendingOps(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, op1.ID, pending[0].ID, "insertion order preserved")

	require.NoError(t, s.MarkOpDone(ctx, op1.ID))
	require.NoError(t, s.MarkOpFailed(ctx, op2.ID, assert.AnError))

	replay, err := s.ReplayableOps(ctx)
	require.NoError(t, err)
	require.Len(t, replay, 1)
	assert.Equal(t, op2.ID, replay[0].ID)
	assert.Equal(t, OpFailed, replay[0].Status)
	assert.Equal(t, 1, replay[0].Attempts)
	assert.Equal(t, assert.AnError.Error(), replay[0].LastError)

	// Rollback path: in-flight op returns to pending on shutdown.
	require.NoError(t, s.MarkOpPending(ctx, op2.ID))
	pending, err = s.PendingOps(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestMarkOp_UnknownIDFails(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.MarkOpDone(context.Background(), 9999))
}

func TestReplaceDocument_SupersedesAndReportsRemovedChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID, err := s.UpsertFile(ctx, testFile("/docs/a.txt"))
	require.NoError(t, err)

	doc := &DocumentRecord{FileID: fileID, Language: "en", ExtractedAt: time.Now()}
	_, _, err = s.ReplaceDocument(ctx, doc, []ChunkRecord{
		{ChunkID: "keep", Seq: 0, Start: 0, End: 10},
		{ChunkID: "drop", Seq: 1, Start: 8, End: 18},
	})
	require.NoError(t, err)
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		ChunkID: "keep", Provider: "static", Dimensions: 1, Vector: []float32{1},
	}))

	docID, removed, err := s.ReplaceDocument(ctx, doc, []ChunkRecord{
		{ChunkID: "keep", Seq: 0, Start: 0, End: 10},
		{ChunkID: "new", Seq: 1, Start: 8, End: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"drop"}, removed)

	// One document per file, ever.
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Documents)

	chunks, err := s.ChunksForDocument(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "keep", chunks[0].ChunkID)

	// Unchanged chunk kept its embedding across re-extraction.
	has, err := s.HasEmbedding(ctx, "keep", "static")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestEmbeddings_RoundTripAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{0.5, -1.25, 3}
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		ChunkID: "c1", Provider: "ollama:nomic", Dimensions: 3, Vector: vec,
	}))
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		ChunkID: "c1", Provider: "static", Dimensions: 3, Vector: vec,
	}))

	got, err := s.GetEmbedding(ctx, "c1", "ollama:nomic")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, vec, got.Vector)
	assert.Equal(t, 3, got.Dimensions)

	// Provider change invalidates the other space.
	n, err := s.ClearEmbeddings(ctx, "static")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := s.GetEmbedding(ctx, "c1", "ollama:nomic")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestState_AndGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "embed_provider")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, "embed_provider", "static"))
	v, err = s.GetState(ctx, "embed_provider")
	require.NoError(t, err)
	assert.Equal(t, "static", v)

	g1, err := s.NextGeneration(ctx)
	require.NoError(t, err)
	g2, err := s.NextGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, g1+1, g2)
}

func TestPruneOps_KeepsRecentAndUnfinished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.AppendOp(ctx, "/docs/a.txt", OpAdd)
	require.NoError(t, err)
	require.NoError(t, s.MarkOpDone(ctx, done.ID))

	failed, err := s.AppendOp(ctx, "/docs/b.txt", OpAdd)
	require.NoError(t, err)
	require.NoError(t, s.MarkOpFailed(ctx, failed.ID, assert.AnError))

	// Cutoff in the future: every done op is older than it.
	n, err := s.PruneOps(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.DoneOps)
	assert.Equal(t, int64(1), st.FailedOps)
}

func TestPurgeTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFile(ctx, testFile("/docs/a.txt"))
	require.NoError(t, err)
	_, _, err = s.SoftDeleteFile(ctx, "/docs/a.txt")
	require.NoError(t, err)

	// Not old enough yet.
	n, err := s.PurgeTombstones(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PurgeTombstones(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.DeletedFiles)
}

func TestReopen_PersistsRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.UpsertFile(ctx, testFile("/docs/a.txt"))
	require.NoError(t, err)
	_, err = s.AppendOp(ctx, "/docs/a.txt", OpAdd)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetActiveFile(ctx, "/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)

	replay, err := s2.ReplayableOps(ctx)
	require.NoError(t, err)
	assert.Len(t, replay, 1, "pending ops survive restart for replay")
}

func TestLocateChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := insertDocWithChunks(t, s, ctx, "/docs/a.txt", "c1", "c2")
	insertDocWithChunks(t, s, ctx, "/docs/b.txt", "c3")

	locs, err := s.LocateChunks(ctx, []string{"c2", "c3", "missing"})
	require.NoError(t, err)
	require.Len(t, locs, 2)

	assert.Equal(t, docID, locs["c2"].DocumentID)
	assert.Equal(t, "/docs/a.txt", locs["c2"].Path)
	assert.Equal(t, 1, locs["c2"].Seq)
	assert.Equal(t, 10, locs["c2"].Start)
	assert.Equal(t, 20, locs["c2"].End)
	assert.Equal(t, "/docs/b.txt", locs["c3"].Path)
}

func TestLocateChunks_IgnoresDeletedFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertDocWithChunks(t, s, ctx, "/docs/a.txt", "c1")
	_, _, err := s.SoftDeleteFile(ctx, "/docs/a.txt")
	require.NoError(t, err)

	locs, err := s.LocateChunks(ctx, []string{"c1"})
	require.NoError(t, err)
	assert.Empty(t, locs)
}
