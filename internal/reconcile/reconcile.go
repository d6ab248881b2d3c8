// Package reconcile diffs enumerated file entries against the catalog and
// turns the differences into durable, ordered add/modify/delete operations.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/docdex/docdex/internal/catalog"
	derr "github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/scanner"
	"github.com/docdex/docdex/internal/watcher"
)

// PlannedOp is one reconciliation decision, already recorded in the ops log.
// Entry and StrongFingerprint carry data computed during planning so the
// processor does not have to re-read unchanged information; both may be empty
// when the op is replayed from the log after a crash.
type PlannedOp struct {
	LogID int64
	Path  string
	Kind  catalog.Operation

	Entry             *scanner.FileEntry
	StrongFingerprint string
}

// Stater resolves one path into a FileEntry with a fast fingerprint.
type Stater interface {
	Stat(path string) (*scanner.FileEntry, error)
}

// Reconciler plans catalog updates. It owns no processing: every decision is
// appended to the ops log as pending and handed to the index runner.
type Reconciler struct {
	store *catalog.Store

	// strongFP is injectable for tests.
	strongFP func(path string) (string, error)
}

// New creates a Reconciler over the catalog.
func New(store *catalog.Store) *Reconciler {
	return &Reconciler{
		store:    store,
		strongFP: scanner.StrongFingerprint,
	}
}

// PlanScan diffs a full enumeration of on-disk entries against the catalog:
//
//   - on disk, absent in the catalog: add
//   - in both with a differing fast fingerprint: modify, confirmed only when
//     the strong fingerprint also differs
//   - active in the catalog, absent on disk: delete
//
// Deletes are ordered before adds so a rename never leaves two live records.
// A second pass with no intervening file-system change plans zero ops.
func (r *Reconciler) PlanScan(ctx context.Context, entries []*scanner.FileEntry, generation int64) ([]*PlannedOp, error) {
	known, err := r.store.ActiveFiles(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	var adds, modifies []*PlannedOp

	for _, entry := range entries {
		seen[entry.Path] = true

		rec, ok := known[entry.Path]
		if !ok {
			adds = append(adds, &PlannedOp{Path: entry.Path, Kind: catalog.OpAdd, Entry: entry})
			continue
		}

		if rec.FastFingerprint == entry.FastFingerprint {
			// Unchanged; refresh last-seen bookkeeping only.
			rec.Generation = generation
			rec.ModTime = nanoTime(entry.ModTimeNano)
			rec.Size = entry.Size
			if _, err := r.store.UpsertFile(ctx, rec); err != nil {
				return nil, err
			}
			continue
		}

		op, err := r.confirmModify(ctx, rec, entry, generation)
		if err != nil {
			return nil, err
		}
		if op != nil {
			modifies = append(modifies, op)
		}
	}

	var deletes []*PlannedOp
	for path := range known {
		if !seen[path] {
			deletes = append(deletes, &PlannedOp{Path: path, Kind: catalog.OpDelete})
		}
	}

	return r.record(ctx, deletes, modifies, adds)
}

// confirmModify gates a fast-fingerprint mismatch behind the strong
// fingerprint, so metadata-only changes never produce a modify.
func (r *Reconciler) confirmModify(ctx context.Context, rec *catalog.FileRecord, entry *scanner.FileEntry, generation int64) (*PlannedOp, error) {
	strong, err := r.strongFP(entry.Path)
	if err != nil {
		if derr.CodeOf(err) == derr.ErrCodeFileVanished {
			// Vanished mid-scan: skipped, retried next pass.
			slog.Debug("file vanished during reconciliation", slog.String("path", entry.Path))
			return nil, nil
		}
		return nil, err
	}

	if rec.StrongFingerprint != "" && strong == rec.StrongFingerprint {
		// Fast-hash noise without a content change. Refresh the record.
		rec.FastFingerprint = entry.FastFingerprint
		rec.ModTime = nanoTime(entry.ModTimeNano)
		rec.Size = entry.Size
		rec.Generation = generation
		if _, err := r.store.UpsertFile(ctx, rec); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &PlannedOp{
		Path:              entry.Path,
		Kind:              catalog.OpModify,
		Entry:             entry,
		StrongFingerprint: strong,
	}, nil
}

// PlanEvents turns a debounced watch batch into planned ops using the same
// catalog diff rules as a cold scan.
func (r *Reconciler) PlanEvents(ctx context.Context, events []watcher.Event, stat Stater, generation int64) ([]*PlannedOp, error) {
	var adds, modifies, deletes []*PlannedOp

	for _, ev := range events {
		rec, err := r.store.GetActiveFile(ctx, ev.Path)
		if err != nil {
			return nil, err
		}

		if ev.Kind == watcher.KindDelete {
			if rec != nil {
				deletes = append(deletes, &PlannedOp{Path: ev.Path, Kind: catalog.OpDelete})
			}
			continue
		}

		entry, err := stat.Stat(ev.Path)
		if err != nil {
			if derr.CodeOf(err) == derr.ErrCodeFileVanished {
				// Gone again already; the delete event will follow.
				continue
			}
			return nil, err
		}
		if entry == nil {
			continue // filtered out (oversize)
		}

		if rec == nil {
			adds = append(adds, &PlannedOp{Path: ev.Path, Kind: catalog.OpAdd, Entry: entry})
			continue
		}
		if rec.FastFingerprint == entry.FastFingerprint {
			continue
		}

		op, err := r.confirmModify(ctx, rec, entry, generation)
		if err != nil {
			return nil, err
		}
		if op != nil {
			modifies = append(modifies, op)
		}
	}

	return r.record(ctx, deletes, modifies, adds)
}

// record appends the planned ops to the ops log in processing order:
// deletes first, then modifies and adds, each sorted by path.
func (r *Reconciler) record(ctx context.Context, deletes, modifies, adds []*PlannedOp) ([]*PlannedOp, error) {
	byPath := func(ops []*PlannedOp) {
		sort.Slice(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })
	}
	byPath(deletes)
	byPath(modifies)
	byPath(adds)

	ordered := make([]*PlannedOp, 0, len(deletes)+len(modifies)+len(adds))
	ordered = append(ordered, deletes...)
	ordered = append(ordered, modifies...)
	ordered = append(ordered, adds...)

	for _, op := range ordered {
		entry, err := r.store.AppendOp(ctx, op.Path, op.Kind)
		if err != nil {
			return nil, err
		}
		op.LogID = entry.ID
	}
	return ordered, nil
}

func nanoTime(n int64) time.Time {
	return time.Unix(0, n)
}
