// Package guard enforces the single-writer rule: at most one process
// mutates the catalog and indexes at a time. Queries never take the lease.
package guard

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	derr "github.com/docdex/docdex/internal/errors"
)

// Defaults applied when the guard config leaves fields zero.
const (
	DefaultRenewInterval = 30 * time.Second
	DefaultStaleAfter    = 180 * time.Second
)

// Lease is the on-disk record of who holds the writer role. The flock is
// the real mutual exclusion; the file exists for observability and for
// stale detection after a crash.
type Lease struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// Guard is a flock-backed exclusive writer lease with periodic renewal.
type Guard struct {
	leasePath     string
	lock          *flock.Flock
	renewInterval time.Duration
	staleAfter    time.Duration

	mu       sync.Mutex
	held     bool
	acquired time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a guard over leasePath. The flock lives next to it.
func New(leasePath string, renewInterval, staleAfter time.Duration) *Guard {
	if renewInterval <= 0 {
		renewInterval = DefaultRenewInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Guard{
		leasePath:     leasePath,
		lock:          flock.New(leasePath + ".lock"),
		renewInterval: renewInterval,
		staleAfter:    staleAfter,
	}
}

// Acquire takes the writer lease or fails fast. A lease file left behind by
// a crashed holder does not block acquisition: the flock it held died with
// the process, so the file is reclaimed with a warning.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(g.leasePath), 0o755); err != nil {
		return derr.New(derr.ErrCodeInternal, "failed to create lease directory", err)
	}

	acquired, err := g.lock.TryLock()
	if err != nil {
		return derr.New(derr.ErrCodeInternal, "failed to acquire writer lock", err)
	}
	if !acquired {
		out := derr.New(derr.ErrCodeLeaseHeld, "another writer holds the lease", nil).
			WithDetail("lease", g.leasePath)
		if holder, herr := g.Holder(); herr == nil && holder != nil {
			out = out.WithDetail("holder_pid", strconv.Itoa(holder.PID))
			if g.isStale(holder) {
				out = out.WithDetail("stale", "true")
			}
		}
		return out
	}

	if holder, herr := g.Holder(); herr == nil && holder != nil {
		slog.Warn("reclaiming lease from dead writer",
			slog.Int("pid", holder.PID),
			slog.Duration("age", time.Since(holder.RenewedAt)))
	}

	now := time.Now()
	g.acquired = now
	if err := g.writeLease(now, now); err != nil {
		_ = g.lock.Unlock()
		return err
	}

	g.held = true
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	go g.renewLoop(g.stopCh, g.doneCh)

	slog.Debug("writer lease acquired", slog.String("lease", g.leasePath))
	return nil
}

// renewLoop refreshes the lease file timestamp so observers can tell a
// live writer from a hung or dead one.
func (g *Guard) renewLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(g.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			g.mu.Lock()
			if g.held {
				if err := g.writeLease(g.acquired, time.Now()); err != nil {
					slog.Warn("lease renewal failed", slog.String("error", err.Error()))
				}
			}
			g.mu.Unlock()
		}
	}
}

// writeLease writes the lease file atomically. Callers hold g.mu.
func (g *Guard) writeLease(acquiredAt, renewedAt time.Time) error {
	hostname, _ := os.Hostname()
	data, err := json.MarshalIndent(Lease{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: acquiredAt,
		RenewedAt:  renewedAt,
	}, "", "  ")
	if err != nil {
		return derr.New(derr.ErrCodeInternal, "failed to encode lease", err)
	}
	if err := renameio.WriteFile(g.leasePath, data, 0o644); err != nil {
		return derr.New(derr.ErrCodeInternal, "failed to write lease file", err).
			WithDetail("path", g.leasePath)
	}
	return nil
}

// Release stops renewal, removes the lease file and drops the flock.
// Safe to call more than once.
func (g *Guard) Release() error {
	g.mu.Lock()
	if !g.held {
		g.mu.Unlock()
		return nil
	}
	g.held = false
	close(g.stopCh)
	doneCh := g.doneCh
	g.mu.Unlock()

	<-doneCh

	if err := os.Remove(g.leasePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove lease file", slog.String("error", err.Error()))
	}
	if err := g.lock.Unlock(); err != nil {
		return derr.New(derr.ErrCodeInternal, "failed to release writer lock", err)
	}
	slog.Debug("writer lease released", slog.String("lease", g.leasePath))
	return nil
}

// Held reports whether this process currently holds the lease.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Holder reads the current lease file. Returns (nil, nil) when no lease
// file exists.
func (g *Guard) Holder() (*Lease, error) {
	data, err := os.ReadFile(g.leasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, derr.New(derr.ErrCodeInternal, "failed to read lease file", err)
	}
	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, derr.New(derr.ErrCodeInternal, "lease file is corrupt", err)
	}
	return &lease, nil
}

// isStale reports whether a lease has gone unrenewed past the threshold.
func (g *Guard) isStale(lease *Lease) bool {
	return time.Since(lease.RenewedAt) > g.staleAfter
}
