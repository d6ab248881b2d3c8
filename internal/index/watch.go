package index

import (
	"context"
	"log/slog"
	"time"

	derr "github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/watcher"
)

// maintenanceEvery spaces out retention passes during long watch sessions.
const maintenanceEvery = time.Hour

// Watch runs a full sync, then follows live file-system events until ctx is
// cancelled. Batches are reconciled and processed as they arrive; index
// commits happen on the configured interval and once more on shutdown.
func (r *Runner) Watch(ctx context.Context) error {
	if _, err := r.FullSync(ctx); err != nil {
		return err
	}

	w, err := watcher.New(watcher.Options{
		Roots:    r.cfg.Roots.Paths,
		Debounce: r.cfg.Watch.Debounce.Std(),
		Accept:   r.scan.AcceptsPath,
	})
	if err != nil {
		return derr.New(derr.ErrCodeWatchFailed, "failed to start file watcher", err)
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Start(ctx) }()
	defer func() { _ = w.Stop() }()

	commitInterval := r.cfg.Index.CommitInterval.Std()
	if commitInterval <= 0 {
		commitInterval = 45 * time.Second
	}
	commitTicker := time.NewTicker(commitInterval)
	defer commitTicker.Stop()
	maintTicker := time.NewTicker(maintenanceEvery)
	defer maintTicker.Stop()

	dirty := false
	slog.Info("watching", slog.Any("roots", r.cfg.Roots.Paths))

	for {
		select {
		case <-ctx.Done():
			if dirty {
				// Flush with a fresh context; ctx is already cancelled.
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				if err := r.Commit(flushCtx); err != nil {
					slog.Error("final commit failed", slog.String("error", err.Error()))
				}
				cancel()
			}
			return ctx.Err()

		case err := <-watchErr:
			if err != nil && err != context.Canceled {
				return derr.New(derr.ErrCodeWatchFailed, "file watcher stopped", err)
			}
			return nil

		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := r.handleBatch(ctx, events); err != nil {
				return err
			}
			dirty = true

		case err, ok := <-w.Errors():
			if ok && err != nil {
				slog.Warn("watcher error", slog.String("error", err.Error()))
			}

		case <-commitTicker.C:
			if !dirty {
				continue
			}
			if err := r.Commit(ctx); err != nil {
				return err
			}
			dirty = false

		case <-maintTicker.C:
			r.Maintain(ctx)
		}
	}
}

// handleBatch reconciles and processes one debounced event batch.
func (r *Runner) handleBatch(ctx context.Context, events []watcher.Event) error {
	generation, err := r.catalog.NextGeneration(ctx)
	if err != nil {
		return err
	}

	ops, err := r.rec.PlanEvents(ctx, events, r.scan, generation)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	result, err := r.ProcessOps(ctx, ops, generation)
	if err != nil {
		return err
	}
	slog.Info("processed watch batch",
		slog.Int("events", len(events)),
		slog.Int("upserted", result.Upserted),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", result.Failed),
		slog.Duration("took", result.Duration))
	return nil
}
