package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	derr "github.com/docdex/docdex/internal/errors"
)

// Store is the SQLite-backed catalog. WAL mode allows concurrent readers
// while the single-writer connection pool serializes mutation.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens or creates the catalog database at path. An empty path opens
// an in-memory catalog for testing.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, derr.New(derr.ErrCodeCatalogIntegrity,
				fmt.Sprintf("catalog at %s is unreadable", path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, derr.New(derr.ErrCodeCatalogIntegrity, "failed to initialize catalog schema", err)
	}
	return s, nil
}

// validateIntegrity runs a quick integrity check on an existing database.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS files (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		path        TEXT NOT NULL,
		size        INTEGER NOT NULL,
		mod_time    INTEGER NOT NULL,
		fast_fp     INTEGER NOT NULL,
		strong_fp   TEXT NOT NULL DEFAULT '',
		generation  INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'active',
		deleted_at  INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_files_active_path
		ON files(path) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);

	CREATE TABLE IF NOT EXISTS ops_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL,
		op         TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ops_status ON ops_log(status);
	CREATE INDEX IF NOT EXISTS idx_ops_path ON ops_log(path);

	CREATE TABLE IF NOT EXISTS documents (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id      INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		language     TEXT NOT NULL DEFAULT '',
		page_count   INTEGER NOT NULL DEFAULT 0,
		text_length  INTEGER NOT NULL DEFAULT 0,
		extracted_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_file ON documents(file_id);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id    TEXT NOT NULL,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		start_off   INTEGER NOT NULL,
		end_off     INTEGER NOT NULL,
		PRIMARY KEY (document_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_chunk_id ON chunks(chunk_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id   TEXT NOT NULL,
		provider   TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector     BLOB NOT NULL,
		PRIMARY KEY (chunk_id, provider)
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the catalog.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed {
		return derr.NewPlain("catalog is closed")
	}
	return nil
}

// --- files ---

// UpsertFile inserts a new active FileRecord or updates the existing active
// record for the same path. Returns the record ID.
func (s *Store) UpsertFile(ctx context.Context, rec *FileRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM files WHERE path = ? AND status = 'active'`, rec.Path).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO files (path, size, mod_time, fast_fp, strong_fp, generation, status)
			 VALUES (?, ?, ?, ?, ?, ?, 'active')`,
			rec.Path, rec.Size, rec.ModTime.UnixNano(), int64(rec.FastFingerprint),
			rec.StrongFingerprint, rec.Generation)
		if err != nil {
			return 0, fmt.Errorf("failed to insert file %s: %w", rec.Path, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("failed to look up file %s: %w", rec.Path, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE files SET size = ?, mod_time = ?, fast_fp = ?, strong_fp = ?, generation = ?
		 WHERE id = ?`,
		rec.Size, rec.ModTime.UnixNano(), int64(rec.FastFingerprint),
		rec.StrongFingerprint, rec.Generation, id)
	if err != nil {
		return 0, fmt.Errorf("failed to update file %s: %w", rec.Path, err)
	}
	return id, nil
}

// GetActiveFile returns the active FileRecord for path, or nil when absent.
func (s *Store) GetActiveFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, size, mod_time, fast_fp, strong_fp, generation, status, deleted_at
		 FROM files WHERE path = ? AND status = 'active'`, path)
	rec, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ActiveFiles returns all active FileRecords keyed by path.
func (s *Store) ActiveFiles(ctx context.Context) (map[string]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, size, mod_time, fast_fp, strong_fp, generation, status, deleted_at
		 FROM files WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*FileRecord)
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Path] = rec
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var modTime, fastFP, deletedAt int64
	var status string
	if err := row.Scan(&rec.ID, &rec.Path, &rec.Size, &modTime, &fastFP,
		&rec.StrongFingerprint, &rec.Generation, &status, &deletedAt); err != nil {
		return nil, err
	}
	rec.ModTime = time.Unix(0, modTime)
	rec.FastFingerprint = uint64(fastFP)
	rec.Status = FileStatus(status)
	if deletedAt != 0 {
		rec.DeletedAt = time.Unix(0, deletedAt)
	}
	return &rec, nil
}

// SoftDeleteFile marks the active record for path as deleted and removes its
// document, chunk, and embedding rows. The tombstone itself survives until
// retention purges it. Returns the chunk IDs whose rows were removed so the
// caller can clean the text and vector indexes.
func (s *Store) SoftDeleteFile(ctx context.Context, path string) ([]string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fileID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM files WHERE path = ? AND status = 'active'`, path).Scan(&fileID)
	if err == sql.ErrNoRows {
		return nil, 0, nil // already gone, idempotent
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to look up file %s: %w", path, err)
	}

	chunkIDs, err := collectChunkIDs(ctx, tx, fileID)
	if err != nil {
		return nil, 0, err
	}

	// ON DELETE CASCADE removes chunks with their document; embeddings are
	// keyed by content so they are only removed when no live chunk shares
	// the same ID.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE file_id = ?`, fileID); err != nil {
		return nil, 0, fmt.Errorf("failed to delete document for %s: %w", path, err)
	}
	if err := pruneOrphanEmbeddings(ctx, tx, chunkIDs); err != nil {
		return nil, 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET status = 'deleted', deleted_at = ? WHERE id = ?`,
		time.Now().UnixNano(), fileID); err != nil {
		return nil, 0, fmt.Errorf("failed to soft-delete %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return chunkIDs, fileID, nil
}

func collectChunkIDs(ctx context.Context, tx *sql.Tx, fileID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT c.chunk_id FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.file_id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pruneOrphanEmbeddings removes embedding rows for chunk IDs that no longer
// appear in any document.
func pruneOrphanEmbeddings(ctx context.Context, tx *sql.Tx, candidates []string) error {
	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM embeddings WHERE chunk_id = ?
		 AND NOT EXISTS (SELECT 1 FROM chunks WHERE chunk_id = ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding prune: %w", err)
	}
	defer stmt.Close()

	for _, id := range candidates {
		if _, err := stmt.ExecContext(ctx, id, id); err != nil {
			return fmt.Errorf("failed to prune embedding %s: %w", id, err)
		}
	}
	return nil
}

// --- ops log ---

// AppendOp records a reconciliation decision as pending.
func (s *Store) AppendOp(ctx context.Context, path string, op Operation) (*OpLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ops_log (path, op, status, created_at, updated_at)
		 VALUES (?, ?, 'pending', ?, ?)`,
		path, string(op), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to append op for %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &OpLogEntry{
		ID: id, Path: path, Op: op, Status: OpPending,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// ReplayableOps returns pending and failed entries in insertion order.
// Called on startup before new scanning resumes.
func (s *Store) ReplayableOps(ctx context.Context) ([]*OpLogEntry, error) {
	return s.opsWhere(ctx, `status IN ('pending', 'failed')`)
}

// PendingOps returns pending entries in insertion order.
func (s *Store) PendingOps(ctx context.Context) ([]*OpLogEntry, error) {
	return s.opsWhere(ctx, `status = 'pending'`)
}

func (s *Store) opsWhere(ctx context.Context, where string) ([]*OpLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, op, status, attempts, last_error, created_at, updated_at
		 FROM ops_log WHERE `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ops: %w", err)
	}
	defer rows.Close()

	var out []*OpLogEntry
	for rows.Next() {
		var e OpLogEntry
		var op, status string
		var created, updated int64
		if err := rows.Scan(&e.ID, &e.Path, &op, &status, &e.Attempts,
			&e.LastError, &created, &updated); err != nil {
			return nil, err
		}
		e.Op = Operation(op)
		e.Status = OpStatus(status)
		e.CreatedAt = time.Unix(0, created)
		e.UpdatedAt = time.Unix(0, updated)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// MarkOpDone marks an entry done.
func (s *Store) MarkOpDone(ctx context.Context, id int64) error {
	return s.updateOp(ctx, id, OpDone, "")
}

// MarkOpFailed marks an entry failed, recording the error and bumping the
// attempt count.
func (s *Store) MarkOpFailed(ctx context.Context, id int64, opErr error) error {
	msg := ""
	if opErr != nil {
		msg = opErr.Error()
	}
	return s.updateOp(ctx, id, OpFailed, msg)
}

// MarkOpPending rolls an in-flight entry back to pending (shutdown path).
func (s *Store) MarkOpPending(ctx context.Context, id int64) error {
	return s.updateOp(ctx, id, OpPending, "")
}

func (s *Store) updateOp(ctx context.Context, id int64, status OpStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	attemptBump := 0
	if status == OpFailed {
		attemptBump = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ops_log SET status = ?, last_error = ?, attempts = attempts + ?, updated_at = ?
		 WHERE id = ?`,
		string(status), lastError, attemptBump, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update op %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("op %d not found", id)
	}
	return nil
}

// --- documents and chunks ---

// ReplaceDocument supersedes any existing document for the file and stores
// the new document with its chunks in one transaction. Returns the new
// document ID and the chunk IDs that were removed with the old document and
// are no longer referenced anywhere.
func (s *Store) ReplaceDocument(ctx context.Context, doc *DocumentRecord, chunks []ChunkRecord) (int64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	oldChunkIDs, err := collectChunkIDs(ctx, tx, doc.FileID)
	if err != nil {
		return 0, nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE file_id = ?`, doc.FileID); err != nil {
		return 0, nil, fmt.Errorf("failed to supersede document: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (file_id, language, page_count, text_length, extracted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.FileID, doc.Language, doc.PageCount, doc.TextLength, doc.ExtractedAt.UnixNano())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to insert document: %w", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, nil, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (chunk_id, document_id, seq, start_off, end_off)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	live := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, docID, c.Seq, c.Start, c.End); err != nil {
			return 0, nil, fmt.Errorf("failed to insert chunk %d: %w", c.Seq, err)
		}
		live[c.ChunkID] = true
	}

	// Chunk IDs carried over by the new document keep their embeddings.
	var removed []string
	for _, id := range oldChunkIDs {
		if !live[id] {
			removed = append(removed, id)
		}
	}
	if err := pruneOrphanEmbeddings(ctx, tx, removed); err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return docID, removed, nil
}

// GetDocumentByPath returns the document for an active file path, or nil.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT d.id, d.file_id, f.path, d.language, d.page_count, d.text_length, d.extracted_at
		 FROM documents d JOIN files f ON f.id = d.file_id
		 WHERE f.path = ? AND f.status = 'active'`, path)

	var doc DocumentRecord
	var extractedAt int64
	err := row.Scan(&doc.ID, &doc.FileID, &doc.Path, &doc.Language,
		&doc.PageCount, &doc.TextLength, &extractedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc.ExtractedAt = time.Unix(0, extractedAt)
	return &doc, nil
}

// ChunksForDocument returns a document's chunks in sequence order.
func (s *Store) ChunksForDocument(ctx context.Context, docID int64) ([]ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, document_id, seq, start_off, end_off
		 FROM chunks WHERE document_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Seq, &c.Start, &c.End); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkLocation places a content-derived chunk ID inside a live document.
type ChunkLocation struct {
	ChunkID    string
	DocumentID int64
	Path       string
	Seq        int
	Start      int
	End        int
}

// LocateChunks resolves chunk IDs to their positions in active documents.
// A chunk ID shared by several documents resolves to the first match; IDs
// with no live chunk are absent from the result.
func (s *Store) LocateChunks(ctx context.Context, chunkIDs []string) (map[string]*ChunkLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[string]*ChunkLocation, len(chunkIDs))
	stmt, err := s.db.PrepareContext(ctx,
		`SELECT c.chunk_id, c.document_id, f.path, c.seq, c.start_off, c.end_off
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 JOIN files f ON f.id = d.file_id
		 WHERE c.chunk_id = ? AND f.status = 'active'
		 ORDER BY c.document_id, c.seq LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chunk lookup: %w", err)
	}
	defer stmt.Close()

	for _, id := range chunkIDs {
		if _, done := out[id]; done {
			continue
		}
		var loc ChunkLocation
		err := stmt.QueryRowContext(ctx, id).Scan(
			&loc.ChunkID, &loc.DocumentID, &loc.Path, &loc.Seq, &loc.Start, &loc.End)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = &loc
	}
	return out, nil
}

// --- embeddings ---

// HasEmbedding reports whether a vector exists for the chunk under provider.
func (s *Store) HasEmbedding(ctx context.Context, chunkID, provider string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE chunk_id = ? AND provider = ?`,
		chunkID, provider).Scan(&n)
	return n > 0, err
}

// PutEmbedding stores or replaces a chunk's vector for a provider.
func (s *Store) PutEmbedding(ctx context.Context, rec *EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (chunk_id, provider, dimensions, vector)
		 VALUES (?, ?, ?, ?)`,
		rec.ChunkID, rec.Provider, rec.Dimensions, encodeVector(rec.Vector))
	if err != nil {
		return fmt.Errorf("failed to store embedding for %s: %w", rec.ChunkID, err)
	}
	return nil
}

// GetEmbedding returns the vector for a chunk under provider, or nil.
func (s *Store) GetEmbedding(ctx context.Context, chunkID, provider string) (*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec EmbeddingRecord
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT chunk_id, provider, dimensions, vector FROM embeddings
		 WHERE chunk_id = ? AND provider = ?`, chunkID, provider).
		Scan(&rec.ChunkID, &rec.Provider, &rec.Dimensions, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Vector = decodeVector(blob)
	return &rec, nil
}

// ClearEmbeddings removes all vectors for providers other than keep. Called
// when the configured provider changes: incompatible spaces are invalidated,
// never mixed.
func (s *Store) ClearEmbeddings(ctx context.Context, keep string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE provider != ?`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return res.RowsAffected()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// --- run state ---

// GetState returns the value stored under key, or empty when absent.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState stores a key-value pair in the run-state table.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// NextGeneration increments and returns the scan generation counter.
func (s *Store) NextGeneration(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = 'generation'`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES ('generation', ?)`, next); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}
