// Package catalog is the durable record of every known file, its extracted
// document, chunks, and embeddings, plus the append-only ops log that drives
// incremental indexing and crash recovery.
package catalog

import "time"

// FileStatus is the lifecycle state of a FileRecord.
type FileStatus string

const (
	FileActive  FileStatus = "active"
	FileDeleted FileStatus = "deleted"
)

// Operation is a reconciliation decision for one path.
type Operation string

const (
	OpAdd    Operation = "add"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// OpStatus is the processing state of an OpLogEntry.
type OpStatus string

const (
	OpPending OpStatus = "pending"
	OpDone    OpStatus = "done"
	OpFailed  OpStatus = "failed"
)

// FileRecord is one catalogued path. Path is unique among active records.
// Records are soft-deleted so index cleanup obligations survive a crash.
type FileRecord struct {
	ID      int64
	Path    string
	Size    int64
	ModTime time.Time

	// FastFingerprint is a cheap xxhash64 of content for quick change rejection.
	FastFingerprint uint64
	// StrongFingerprint is a hex sha256 of content, the authority on whether
	// bytes actually changed.
	StrongFingerprint string

	// Generation is the scan generation that last saw this file.
	Generation int64
	Status     FileStatus
	DeletedAt  time.Time
}

// OpLogEntry is one append-only reconciliation decision. It is the unit of
// retry and crash recovery: pending and failed entries are replayed on
// startup before new scanning resumes.
type OpLogEntry struct {
	ID        int64
	Path      string
	Op        Operation
	Status    OpStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentRecord is one successfully extracted file. Superseded, not merged,
// on re-extraction.
type DocumentRecord struct {
	ID          int64
	FileID      int64
	Path        string
	Language    string
	PageCount   int
	TextLength  int
	ExtractedAt time.Time
}

// ChunkRecord is one span of a document's extracted text. ChunkID is derived
// from the chunk's content, so unchanged spans keep their identity (and their
// embeddings) across re-extraction.
type ChunkRecord struct {
	ChunkID    string
	DocumentID int64
	Seq        int
	Start      int
	End        int
}

// EmbeddingRecord is one vector for one chunk under one provider. Vectors
// from different providers are never compared.
type EmbeddingRecord struct {
	ChunkID    string
	Provider   string
	Dimensions int
	Vector     []float32
}

// Stats summarizes catalog contents for the status surface.
type Stats struct {
	ActiveFiles  int64
	DeletedFiles int64
	Documents    int64
	Chunks       int64
	Embeddings   int64
	PendingOps   int64
	FailedOps    int64
	DoneOps      int64
}
