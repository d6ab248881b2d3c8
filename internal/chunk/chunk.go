// Package chunk splits extracted text into overlapping byte spans with
// stable, content-derived identifiers.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// Default chunking geometry.
const (
	DefaultSize    = 2000
	DefaultOverlap = 200
)

// Chunk is one span of a document's extracted text. Start and End are byte
// offsets into that text. ID is derived from the span's content, so a span
// whose text did not change keeps its identity (and its embedding) across
// re-extraction.
type Chunk struct {
	Seq   int
	Start int
	End   int
	Text  string
	ID    string
}

// Split is a pure function of the input text: the same text always yields
// the same boundaries and IDs. Spans cover the whole text with no gaps;
// consecutive spans overlap by the stride, nudged backward only when a span
// boundary would fall inside a multi-byte rune. Empty text yields no chunks;
// text shorter than one chunk yields exactly one.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}

	if len(text) == 0 {
		return nil
	}
	if len(text) <= size {
		return []Chunk{newChunk(0, 0, len(text), text)}
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = snapToRuneStart(text, end)
		}

		chunks = append(chunks, newChunk(len(chunks), start, end, text))
		if end == len(text) {
			return chunks
		}

		next := snapToRuneStart(text, end-overlap)
		if next <= start {
			// Degenerate geometry; force progress.
			next = start + 1
		}
		start = next
	}
}

func newChunk(seq, start, end int, text string) Chunk {
	span := text[start:end]
	return Chunk{Seq: seq, Start: start, End: end, Text: span, ID: ID(span)}
}

// ID returns the content-derived identifier for a span of text.
func ID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// snapToRuneStart moves pos backward to the nearest rune boundary.
func snapToRuneStart(text string, pos int) int {
	for pos > 0 && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
