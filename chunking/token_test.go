package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
)

// newTokenChunker skips the test when the BPE vocabulary cannot be loaded
// (tiktoken fetches it on first use).
func newTokenChunker(t *testing.T, size, overlap int) *TokenChunker {
	t.Helper()
	c, err := NewTokenChunker(size, overlap, "")
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}
	return c
}

func TestTokenChunkerWindows(t *testing.T) {
	c := newTokenChunker(t, 16, 4)
	doc := document.ParentDocument{
		ID:       "doc-1",
		FullText: strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20),
	}
	chunks, err := c.Chunk(context.Background(), doc)
	if err != nil {
		t.Fatalf("Chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	runes := []rune(doc.FullText)
	for i, ch := range chunks {
		if ch.Content == "" {
			t.Fatalf("chunk %d empty", i)
		}
		if ch.Start < 0 || ch.End > len(runes) || ch.Start >= ch.End {
			t.Fatalf("chunk %d range [%d,%d) out of bounds", i, ch.Start, ch.End)
		}
		if got := string(runes[ch.Start:ch.End]); got != ch.Content {
			t.Fatalf("chunk %d range does not match content", i)
		}
	}
	if chunks[len(chunks)-1].End != len(runes) {
		t.Fatalf("last chunk ends at %d, want %d", chunks[len(chunks)-1].End, len(runes))
	}
}

func TestTokenChunkerRejectsBadParams(t *testing.T) {
	c := newTokenChunker(t, 10, 10)
	_, err := c.Chunk(context.Background(), document.ParentDocument{ID: "d", FullText: "text"})
	if !errors.HasKind(err, errors.KindIngestion) {
		t.Fatalf("error = %v, want ingestion kind", err)
	}
}

func TestTokenChunkerRejectsEmptyText(t *testing.T) {
	c := newTokenChunker(t, 10, 2)
	_, err := c.Chunk(context.Background(), document.ParentDocument{ID: "d", FullText: "  "})
	if !errors.HasKind(err, errors.KindIngestion) {
		t.Fatalf("error = %v, want ingestion kind", err)
	}
}
