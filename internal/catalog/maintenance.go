package catalog

import (
	"context"
	"fmt"
	"time"
)

// Stats returns record counts for the status surface.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var st Stats
	queries := []struct {
		dest  *int64
		query string
	}{
		{&st.ActiveFiles, `SELECT COUNT(*) FROM files WHERE status = 'active'`},
		{&st.DeletedFiles, `SELECT COUNT(*) FROM files WHERE status = 'deleted'`},
		{&st.Documents, `SELECT COUNT(*) FROM documents`},
		{&st.Chunks, `SELECT COUNT(*) FROM chunks`},
		{&st.Embeddings, `SELECT COUNT(*) FROM embeddings`},
		{&st.PendingOps, `SELECT COUNT(*) FROM ops_log WHERE status = 'pending'`},
		{&st.FailedOps, `SELECT COUNT(*) FROM ops_log WHERE status = 'failed'`},
		{&st.DoneOps, `SELECT COUNT(*) FROM ops_log WHERE status = 'done'`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}
	return &st, nil
}

// PruneOps removes done ops-log entries updated before cutoff. Pending and
// failed entries are kept regardless of age. Returns the number removed.
func (s *Store) PruneOps(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ops_log WHERE status = 'done' AND updated_at < ?`,
		cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune ops log: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTombstones hard-deletes soft-deleted file records whose deletion is
// older than cutoff. Their dependent rows were already removed at soft-delete
// time. Returns the number purged.
func (s *Store) PurgeTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE status = 'deleted' AND deleted_at < ?`,
		cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	return res.RowsAffected()
}

// MaybeVacuum runs VACUUM when the freelist exceeds freePageThreshold.
// Returns whether a vacuum ran.
func (s *Store) MaybeVacuum(ctx context.Context, freePageThreshold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	var freePages int
	if err := s.db.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&freePages); err != nil {
		return false, fmt.Errorf("failed to read freelist count: %w", err)
	}
	if freePages < freePageThreshold {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return false, fmt.Errorf("vacuum failed: %w", err)
	}
	return true, nil
}
