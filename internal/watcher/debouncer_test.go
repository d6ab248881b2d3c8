package watcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(path string, kind EventKind) Event {
	return Event{Path: path, Kind: kind, Timestamp: time.Now()}
}

func receiveBatch(t *testing.T, d *Debouncer) []Event {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_EmitsAfterQuietWindow(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("/a.txt", KindCreate))

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, KindCreate, batch[0].Kind)
}

func TestDebouncer_CoalescingRules(t *testing.T) {
	tests := []struct {
		name string
		ops  []EventKind
		want *EventKind
	}{
		{"create+modify=create", []EventKind{KindCreate, KindModify}, kindPtr(KindCreate)},
		{"create+delete=nothing", []EventKind{KindCreate, KindDelete}, nil},
		{"modify+delete=delete", []EventKind{KindModify, KindDelete}, kindPtr(KindDelete)},
		{"delete+create=modify", []EventKind{KindDelete, KindCreate}, kindPtr(KindModify)},
		{"modify+modify=modify", []EventKind{KindModify, KindModify}, kindPtr(KindModify)},
		{"create+modify+delete=nothing", []EventKind{KindCreate, KindModify, KindDelete}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(event("/a.txt", op))
			}
			// Anchor event so a batch always arrives.
			d.Add(event("/other.txt", KindModify))

			batch := receiveBatch(t, d)
			byPath := make(map[string]EventKind)
			for _, e := range batch {
				byPath[e.Path] = e.Kind
			}

			if tt.want == nil {
				assert.NotContains(t, byPath, "/a.txt")
			} else {
				assert.Equal(t, *tt.want, byPath["/a.txt"])
			}
		})
	}
}

func kindPtr(k EventKind) *EventKind { return &k }

func TestDebouncer_SeparatePathsNotCoalesced(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("/a.txt", KindCreate))
	d.Add(event("/b.txt", KindDelete))

	batch := receiveBatch(t, d)
	assert.Len(t, batch, 2)
}

func TestDebouncer_BurstResetsWindow(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(event("/a.txt", KindModify))
	time.Sleep(25 * time.Millisecond)
	d.Add(event("/a.txt", KindModify))

	select {
	case <-d.Output():
		t.Fatal("batch emitted before the quiet window elapsed")
	case <-time.After(40 * time.Millisecond):
	}

	batch := receiveBatch(t, d)
	assert.Len(t, batch, 1)
}

func TestDebouncer_FullOutputRetainsBatch(t *testing.T) {
	d := NewDebouncer(5 * time.Millisecond)
	defer d.Stop()

	// Fill the output buffer without draining it.
	for i := 0; i < 10; i++ {
		d.Add(event(fmt.Sprintf("/fill-%d.txt", i), KindModify))
		time.Sleep(20 * time.Millisecond)
	}

	// This batch finds the buffer full; it must survive until the
	// consumer catches up.
	d.Add(event("/late.txt", KindModify))
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 10; i++ {
		receiveBatch(t, d)
	}

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "/late.txt", batch[0].Path)
}

func TestDebouncer_AddAfterStopIsNoop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	d.Add(event("/a.txt", KindCreate))

	_, ok := <-d.Output()
	assert.False(t, ok, "output closed after stop")
}
