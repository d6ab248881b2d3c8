package guard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derr "github.com/docdex/docdex/internal/errors"
)

func leasePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "writer.lease")
}

func TestGuard_AcquireWritesLease(t *testing.T) {
	path := leasePath(t)
	g := New(path, time.Minute, 3*time.Minute)

	require.NoError(t, g.Acquire())
	defer func() { _ = g.Release() }()
	assert.True(t, g.Held())

	lease, err := g.Holder()
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, os.Getpid(), lease.PID)
	assert.False(t, lease.AcquiredAt.IsZero())
	assert.False(t, lease.RenewedAt.Before(lease.AcquiredAt))
}

func TestGuard_AcquireIsIdempotent(t *testing.T) {
	g := New(leasePath(t), time.Minute, 3*time.Minute)
	require.NoError(t, g.Acquire())
	require.NoError(t, g.Acquire())
	require.NoError(t, g.Release())
}

func TestGuard_SecondGuardFailsFast(t *testing.T) {
	path := leasePath(t)
	first := New(path, time.Minute, 3*time.Minute)
	require.NoError(t, first.Acquire())
	defer func() { _ = first.Release() }()

	second := New(path, time.Minute, 3*time.Minute)
	err := second.Acquire()
	require.Error(t, err)
	assert.Equal(t, derr.ErrCodeLeaseHeld, derr.CodeOf(err))
	assert.True(t, derr.IsFatal(err))
	assert.False(t, second.Held())
}

func TestGuard_ReleaseFreesLease(t *testing.T) {
	path := leasePath(t)
	first := New(path, time.Minute, 3*time.Minute)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())
	assert.False(t, first.Held())
	assert.NoFileExists(t, path)

	second := New(path, time.Minute, 3*time.Minute)
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestGuard_ReleaseTwiceIsNoop(t *testing.T) {
	g := New(leasePath(t), time.Minute, 3*time.Minute)
	require.NoError(t, g.Acquire())
	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
}

func TestGuard_ReclaimsLeaseFromDeadWriter(t *testing.T) {
	path := leasePath(t)

	// A lease file without a live flock is what a crashed writer leaves.
	stale := Lease{
		PID:        999999,
		AcquiredAt: time.Now().Add(-time.Hour),
		RenewedAt:  time.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	g := New(path, time.Minute, 3*time.Minute)
	require.NoError(t, g.Acquire())
	defer func() { _ = g.Release() }()

	lease, err := g.Holder()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lease.PID, "lease rewritten by the new holder")
}

func TestGuard_RenewalAdvancesTimestamp(t *testing.T) {
	g := New(leasePath(t), 20*time.Millisecond, time.Minute)
	require.NoError(t, g.Acquire())
	defer func() { _ = g.Release() }()

	before, err := g.Holder()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		after, err := g.Holder()
		return err == nil && after.RenewedAt.After(before.RenewedAt)
	}, time.Second, 10*time.Millisecond)
}

func TestGuard_StaleDetection(t *testing.T) {
	g := New(leasePath(t), time.Minute, 50*time.Millisecond)

	fresh := &Lease{RenewedAt: time.Now()}
	assert.False(t, g.isStale(fresh))

	old := &Lease{RenewedAt: time.Now().Add(-time.Second)}
	assert.True(t, g.isStale(old))
}

func TestGuard_HolderWithoutLease(t *testing.T) {
	g := New(leasePath(t), time.Minute, time.Minute)
	lease, err := g.Holder()
	require.NoError(t, err)
	assert.Nil(t, lease)
}
