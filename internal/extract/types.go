// Package extract turns catalogued files into plain text, either by reading
// recognized text formats directly or by calling the extraction sidecar.
package extract

import "context"

// Result is the extracted content of one file.
type Result struct {
	// Text is the full extracted plain text.
	Text string

	// Language is the ISO 639-1 language code reported by the extractor,
	// or empty when the extractor could not tell.
	Language string

	// PageCount is the page count for paginated formats, zero otherwise.
	PageCount int

	// Extractor identifies what produced the text ("plaintext" or the
	// sidecar's self-reported name).
	Extractor string
}

// Extractor produces plain text for a file path.
//
// Failures are classified through the error code: transient failures
// (sidecar unreachable, timeouts, 5xx) are retryable and permanent failures
// (unsupported or corrupt input) are not.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
	Name() string
}
