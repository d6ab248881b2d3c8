// Package index drives the build pipeline: it consumes planned catalog
// operations, runs extraction and chunking, and keeps the keyword and
// vector indexes in step with the catalog.
package index

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docdex/docdex/internal/catalog"
	"github.com/docdex/docdex/internal/chunk"
	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	derr "github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/extract"
	"github.com/docdex/docdex/internal/reconcile"
	"github.com/docdex/docdex/internal/scanner"
	"github.com/docdex/docdex/internal/store"
)

// DefaultWorkers bounds the upsert pool when the config leaves it zero.
const DefaultWorkers = 4

// Extractor produces plain text for one file.
type Extractor interface {
	Extract(ctx context.Context, path string) (*extract.Result, error)
}

// Deps are the Runner's injected collaborators. Vectors and Embedder may
// both be nil; the pipeline then builds the keyword index only.
type Deps struct {
	Catalog   *catalog.Store
	Text      *store.TextIndex
	Vectors   *store.VectorStore
	Embedder  embed.Embedder
	Extractor Extractor
	Scanner   *scanner.Scanner
	Config    *config.Config
}

// Result summarizes one processing pass.
type Result struct {
	Upserted int
	Deleted  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Runner executes planned operations against the catalog and both indexes.
type Runner struct {
	catalog   *catalog.Store
	text      *store.TextIndex
	vectors   *store.VectorStore
	embedder  embed.Embedder
	extractor Extractor
	scan      *scanner.Scanner
	rec       *reconcile.Reconciler
	cfg       *config.Config

	// Retry policies, overridable in tests.
	extractRetry derr.RetryConfig
	indexRetry   derr.RetryConfig
}

// NewRunner wires a Runner from its dependencies.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Catalog == nil {
		return nil, derr.NewPlain("catalog is required")
	}
	if deps.Text == nil {
		return nil, derr.NewPlain("text index is required")
	}
	if deps.Extractor == nil {
		return nil, derr.NewPlain("extractor is required")
	}
	if deps.Scanner == nil {
		return nil, derr.NewPlain("scanner is required")
	}
	if deps.Config == nil {
		return nil, derr.NewPlain("config is required")
	}

	return &Runner{
		catalog:      deps.Catalog,
		text:         deps.Text,
		vectors:      deps.Vectors,
		embedder:     deps.Embedder,
		extractor:    deps.Extractor,
		scan:         deps.Scanner,
		rec:          reconcile.New(deps.Catalog),
		cfg:          deps.Config,
		extractRetry: derr.DefaultRetryConfig(),
		indexRetry:   derr.IndexIORetryConfig(),
	}, nil
}

// FullSync replays unfinished operations, then reconciles a cold scan of
// all roots and processes the resulting plan. Pending work from a previous
// crash always runs before new scanning.
func (r *Runner) FullSync(ctx context.Context) (*Result, error) {
	start := time.Now()

	generation, err := r.catalog.NextGeneration(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.syncProvider(ctx); err != nil {
		return nil, err
	}

	replayed, err := r.Replay(ctx, generation)
	if err != nil {
		return nil, err
	}

	var entries []*scanner.FileEntry
	for res := range r.scan.Scan(ctx) {
		if res.Err != nil {
			return nil, res.Err
		}
		entries = append(entries, res.Entry)
	}

	ops, err := r.rec.PlanScan(ctx, entries, generation)
	if err != nil {
		return nil, err
	}

	result, err := r.ProcessOps(ctx, ops, generation)
	if err != nil {
		return nil, err
	}
	result.add(replayed)

	if err := r.Commit(ctx); err != nil {
		return nil, err
	}
	r.Maintain(ctx)

	result.Duration = time.Since(start)
	return result, nil
}

// stateEmbedProvider records which provider's vectors the catalog holds.
const stateEmbedProvider = "embed_provider"

// syncProvider reconciles a provider change: vectors from the previous
// provider are cleared and every active file is queued for re-processing so
// the new space gets populated. The queued ops land in the log as pending,
// so Replay picks them up in this same pass.
func (r *Runner) syncProvider(ctx context.Context) error {
	if r.embedder == nil {
		return nil
	}
	provider := r.embedder.ModelName()

	prev, err := r.catalog.GetState(ctx, stateEmbedProvider)
	if err != nil {
		return err
	}
	if prev == provider {
		return nil
	}

	if prev != "" {
		cleared, err := r.catalog.ClearEmbeddings(ctx, provider)
		if err != nil {
			return err
		}
		files, err := r.catalog.ActiveFiles(ctx)
		if err != nil {
			return err
		}
		for path := range files {
			if _, err := r.catalog.AppendOp(ctx, path, catalog.OpModify); err != nil {
				return err
			}
		}
		slog.Info("embedding provider changed, re-embedding catalog",
			slog.String("previous", prev),
			slog.String("current", provider),
			slog.Int64("cleared", cleared),
			slog.Int("files", len(files)))
	}

	return r.catalog.SetState(ctx, stateEmbedProvider, provider)
}

// Replay re-runs pending and failed operations left in the ops log.
func (r *Runner) Replay(ctx context.Context, generation int64) (*Result, error) {
	entries, err := r.catalog.ReplayableOps(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &Result{}, nil
	}

	slog.Info("replaying unfinished operations", slog.Int("count", len(entries)))
	ops := make([]*reconcile.PlannedOp, len(entries))
	for i, e := range entries {
		ops[i] = &reconcile.PlannedOp{LogID: e.ID, Path: e.Path, Kind: e.Op}
	}
	return r.ProcessOps(ctx, ops, generation)
}

// ProcessOps executes planned operations. Paths are processed concurrently
// under a bounded pool; operations for the same path keep their order.
// Individual failures mark the op failed and the pass continues; only
// cancellation aborts.
func (r *Runner) ProcessOps(ctx context.Context, ops []*reconcile.PlannedOp, generation int64) (*Result, error) {
	start := time.Now()
	result := &Result{}
	if len(ops) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	// Group by path, preserving in-path order.
	groups := make(map[string][]*reconcile.PlannedOp)
	var paths []string
	for _, op := range ops {
		if _, seen := groups[op.Path]; !seen {
			paths = append(paths, op.Path)
		}
		groups[op.Path] = append(groups[op.Path], op)
	}
	sort.Strings(paths)

	workers := r.cfg.Index.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range paths {
		group := groups[path]
		g.Go(func() error {
			for _, op := range group {
				outcome, err := r.runOp(gctx, op, generation)
				if err != nil {
					return err
				}
				mu.Lock()
				switch outcome {
				case outcomeUpserted:
					result.Upserted++
				case outcomeDeleted:
					result.Deleted++
				case outcomeFailed:
					result.Failed++
				case outcomeSkipped:
					result.Skipped++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

type opOutcome int

const (
	outcomeUpserted opOutcome = iota
	outcomeDeleted
	outcomeFailed
	outcomeSkipped
)

// runOp executes one op and settles its ops-log entry: done on success or
// a vanished target, failed on error, back to pending on cancellation.
func (r *Runner) runOp(ctx context.Context, op *reconcile.PlannedOp, generation int64) (opOutcome, error) {
	var err error
	outcome := outcomeUpserted
	switch op.Kind {
	case catalog.OpDelete:
		outcome = outcomeDeleted
		err = r.applyDelete(ctx, op)
	default:
		err = r.applyUpsert(ctx, op, generation)
	}

	if err == nil {
		return outcome, r.catalog.MarkOpDone(ctx, op.LogID)
	}

	if ctx.Err() != nil {
		// Interrupted, not failed: roll back to pending for the next run.
		rollbackCtx := context.WithoutCancel(ctx)
		if mErr := r.catalog.MarkOpPending(rollbackCtx, op.LogID); mErr != nil {
			slog.Warn("failed to roll back interrupted op",
				slog.Int64("op", op.LogID), slog.String("error", mErr.Error()))
		}
		return outcome, ctx.Err()
	}

	if derr.CodeOf(err) == derr.ErrCodeFileVanished {
		// The file is gone; a delete will follow from the next pass.
		slog.Debug("target vanished, op dropped", slog.String("path", op.Path))
		return outcomeSkipped, r.catalog.MarkOpDone(ctx, op.LogID)
	}

	slog.Warn("operation failed",
		slog.String("path", op.Path),
		slog.String("op", string(op.Kind)),
		slog.String("error", err.Error()))
	if mErr := r.catalog.MarkOpFailed(ctx, op.LogID, err); mErr != nil {
		return outcomeFailed, mErr
	}
	return outcomeFailed, nil
}

// applyDelete removes a file's footprint: catalog soft delete, keyword
// index entries, and vectors whose chunks no other document still uses.
func (r *Runner) applyDelete(ctx context.Context, op *reconcile.PlannedOp) error {
	doc, err := r.catalog.GetDocumentByPath(ctx, op.Path)
	if err != nil {
		return err
	}
	var chunkCount int
	if doc != nil {
		chunks, err := r.catalog.ChunksForDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		chunkCount = len(chunks)
	}

	orphanedChunks, fileID, err := r.catalog.SoftDeleteFile(ctx, op.Path)
	if err != nil {
		return err
	}
	if fileID == 0 {
		return nil // nothing catalogued, delete is a no-op
	}

	if doc != nil {
		if err := r.text.DeleteDocument(doc.ID, chunkCount); err != nil {
			return err
		}
	}
	if r.vectors != nil {
		r.vectors.Delete(orphanedChunks)
	}
	return nil
}

// applyUpsert runs the full pipeline for one add or modify: stat, extract
// with retry, chunk, replace the catalog document, rewrite both indexes.
func (r *Runner) applyUpsert(ctx context.Context, op *reconcile.PlannedOp, generation int64) error {
	entry := op.Entry
	if entry == nil {
		// Replayed from the log; re-stat the file.
		var err error
		entry, err = r.scan.Stat(op.Path)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil // oversize now, nothing to index
		}
	}

	strong := op.StrongFingerprint
	if strong == "" {
		var err error
		strong, err = scanner.StrongFingerprint(op.Path)
		if err != nil {
			return err
		}
	}

	extracted, err := derr.RetryWithResult(ctx, r.extractRetry, func() (*extract.Result, error) {
		return r.extractor.Extract(ctx, op.Path)
	})
	if err != nil {
		return err
	}

	fileID, err := r.catalog.UpsertFile(ctx, &catalog.FileRecord{
		Path:              op.Path,
		Size:              entry.Size,
		ModTime:           time.Unix(0, entry.ModTimeNano),
		FastFingerprint:   entry.FastFingerprint,
		StrongFingerprint: strong,
		Generation:        generation,
	})
	if err != nil {
		return err
	}

	chunks := chunk.Split(extracted.Text, r.cfg.Index.ChunkSize, r.cfg.Index.ChunkOverlap)
	chunkRecs := make([]catalog.ChunkRecord, len(chunks))
	for i, c := range chunks {
		chunkRecs[i] = catalog.ChunkRecord{ChunkID: c.ID, Seq: c.Seq, Start: c.Start, End: c.End}
	}

	// Clear the previous generation's index entries; stale positional
	// chunk IDs would otherwise outlive a document that shrank.
	oldDoc, err := r.catalog.GetDocumentByPath(ctx, op.Path)
	if err != nil {
		return err
	}
	if oldDoc != nil {
		oldChunks, err := r.catalog.ChunksForDocument(ctx, oldDoc.ID)
		if err != nil {
			return err
		}
		if err := r.text.DeleteDocument(oldDoc.ID, len(oldChunks)); err != nil {
			return err
		}
	}

	docID, removedChunks, err := r.catalog.ReplaceDocument(ctx, &catalog.DocumentRecord{
		FileID:      fileID,
		Language:    extracted.Language,
		PageCount:   extracted.PageCount,
		TextLength:  len(extracted.Text),
		ExtractedAt: time.Now(),
	}, chunkRecs)
	if err != nil {
		return err
	}

	chunkEntries := make([]*store.ChunkEntry, len(chunks))
	for i, c := range chunks {
		chunkEntries[i] = &store.ChunkEntry{
			DocumentID: docID,
			ChunkID:    c.ID,
			Path:       op.Path,
			Language:   extracted.Language,
			Seq:        c.Seq,
			Start:      c.Start,
			End:        c.End,
			Text:       c.Text,
		}
	}
	err = derr.Retry(ctx, r.indexRetry, func() error {
		return r.text.UpsertDocument(&store.DocEntry{
			DocumentID: docID,
			Path:       op.Path,
			Language:   extracted.Language,
			Text:       extracted.Text,
		}, chunkEntries)
	})
	if err != nil {
		return err
	}

	if r.embedder != nil && r.vectors != nil {
		if err := r.embedChunks(ctx, chunks); err != nil {
			// Keyword indexing already succeeded; losing the semantic
			// signal for this file is a warning, not a failure.
			slog.Warn("embedding failed, file indexed keyword-only",
				slog.String("path", op.Path), slog.String("error", err.Error()))
		}
	}
	if r.vectors != nil {
		r.vectors.Delete(removedChunks)
	}
	return nil
}

// embedChunks embeds the chunks that have no stored vector yet and loads
// both new and reused vectors into the vector store. Chunk IDs are content
// derived, so unchanged spans reuse their catalog embedding without a
// provider call.
func (r *Runner) embedChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	provider := r.embedder.ModelName()

	ids := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	var missing []chunk.Chunk

	for _, c := range chunks {
		if r.vectors.Contains(c.ID) {
			continue // already live under this provider
		}
		rec, err := r.catalog.GetEmbedding(ctx, c.ID, provider)
		if err != nil {
			return err
		}
		if rec != nil {
			ids = append(ids, c.ID)
			vectors = append(vectors, rec.Vector)
			continue
		}
		missing = append(missing, c)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, c := range missing {
			texts[i] = c.Text
		}
		embedded, err := derr.RetryWithResult(ctx, r.extractRetry, func() ([][]float32, error) {
			return r.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return err
		}
		dims := r.embedder.Dimensions()
		for i, c := range missing {
			if err := r.catalog.PutEmbedding(ctx, &catalog.EmbeddingRecord{
				ChunkID:    c.ID,
				Provider:   provider,
				Dimensions: dims,
				Vector:     embedded[i],
			}); err != nil {
				return err
			}
			ids = append(ids, c.ID)
			vectors = append(vectors, embedded[i])
		}
	}

	if len(ids) == 0 {
		return nil
	}
	return r.vectors.Add(ids, vectors)
}

// Commit flushes the keyword batches and persists the vector store.
func (r *Runner) Commit(ctx context.Context) error {
	if err := derr.Retry(ctx, r.indexRetry, r.text.Commit); err != nil {
		return err
	}
	if r.vectors != nil {
		if err := derr.Retry(ctx, r.indexRetry, r.vectors.Save); err != nil {
			return err
		}
	}
	return nil
}

// Maintain applies the retention policy: prune completed ops, purge old
// tombstones and vacuum when the freelist has grown. Failures are logged,
// never fatal.
func (r *Runner) Maintain(ctx context.Context) {
	now := time.Now()
	ret := r.cfg.Retention

	if d := ret.OpsRetention.Std(); d > 0 {
		if n, err := r.catalog.PruneOps(ctx, now.Add(-d)); err != nil {
			slog.Warn("ops-log pruning failed", slog.String("error", err.Error()))
		} else if n > 0 {
			slog.Debug("pruned completed ops", slog.Int64("count", n))
		}
	}
	if d := ret.TombstoneRetention.Std(); d > 0 {
		if n, err := r.catalog.PurgeTombstones(ctx, now.Add(-d)); err != nil {
			slog.Warn("tombstone purge failed", slog.String("error", err.Error()))
		} else if n > 0 {
			slog.Debug("purged tombstoned files", slog.Int64("count", n))
		}
	}
	if ret.VacuumFreePages > 0 {
		if ran, err := r.catalog.MaybeVacuum(ctx, ret.VacuumFreePages); err != nil {
			slog.Warn("vacuum failed", slog.String("error", err.Error()))
		} else if ran {
			slog.Debug("catalog vacuumed")
		}
	}
}

func (r *Result) add(other *Result) {
	r.Upserted += other.Upserted
	r.Deleted += other.Deleted
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}
