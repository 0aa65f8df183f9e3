// Package chunking splits parent documents into overlapping child chunks.
// Chunking only produces chunk values; pushing them into the indices is the
// caller's job.
package chunking

import (
	"context"
	"strings"

	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
)

// Chunker splits a parent document into indexable chunks.
type Chunker interface {
	Chunk(ctx context.Context, doc document.ParentDocument) ([]document.Chunk, error)
}

// WindowChunker cuts fixed-size rune windows where each successive window
// starts size-overlap runes after the previous one, so the chunk set covers
// the full parent text.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker creates a chunker with the given window size and overlap
// (both in runes). Parameters are validated when Chunk runs.
func NewWindowChunker(size, overlap int) *WindowChunker {
	return &WindowChunker{size: size, overlap: overlap}
}

// Chunk implements Chunker.
func (c *WindowChunker) Chunk(ctx context.Context, doc document.ParentDocument) ([]document.Chunk, error) {
	if err := validateParams(c.size, c.overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.FullText) == "" {
		return nil, errors.Newf(errors.KindIngestion, "chunking.window", "document text is empty")
	}
	document.EnsureParentID(&doc)

	text := []rune(doc.FullText)
	step := c.size - c.overlap
	chunks := make([]document.Chunk, 0, len(text)/step+1)

	for start := 0; ; start += step {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, document.Chunk{
			ID:       document.ChunkID(doc.ID, start),
			ParentID: doc.ID,
			Content:  string(text[start:end]),
			Start:    start,
			End:      end,
			Page:     doc.Pages.PageFor(start),
		})
		if end == len(text) {
			break
		}
	}

	return chunks, nil
}

func validateParams(size, overlap int) error {
	if size <= 0 {
		return errors.Newf(errors.KindIngestion, "chunking", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return errors.Newf(errors.KindIngestion, "chunking", "chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return errors.Newf(errors.KindIngestion, "chunking", "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return nil
}
