// Package watcher subscribes to live file-system events under the configured
// roots and emits debounced batches shaped like scanner entries.
package watcher

import "time"

// EventKind is the type of file-system change.
type EventKind int

const (
	// KindCreate indicates a new file appeared.
	KindCreate EventKind = iota
	// KindModify indicates an existing file changed.
	KindModify
	// KindDelete indicates a file disappeared (including rename-away).
	KindDelete
)

func (k EventKind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindModify:
		return "MODIFY"
	case KindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is one file-system change for an absolute path.
type Event struct {
	Path      string
	Kind      EventKind
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// Roots are the absolute directories to watch recursively.
	Roots []string

	// Debounce is the quiet window before a burst of events is flushed.
	Debounce time.Duration

	// BufferSize is the batch channel buffer size.
	BufferSize int

	// Accept filters events; nil accepts everything. Wired to the scanner's
	// filters so watch and cold scan agree on what is catalogued.
	Accept func(absPath string) bool
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.BufferSize == 0 {
		o.BufferSize = 1000
	}
	return o
}
