package chunking

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE codec used when none is specified.
const DefaultEncoding = "cl100k_base"

// TokenChunker windows over BPE tokens instead of runes. Chunk boundaries
// land on token boundaries so no multi-byte sequence is ever cut in half;
// Start/End on the emitted chunks are still rune offsets into the parent.
type TokenChunker struct {
	size    int
	overlap int
	enc     *tiktoken.Tiktoken
}

// NewTokenChunker creates a token-unit chunker. Size and overlap are counted
// in tokens of the given encoding (DefaultEncoding when empty).
func NewTokenChunker(size, overlap int, encoding string) (*TokenChunker, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Newf(errors.KindIngestion, "chunking.token", "load encoding %q: %v", encoding, err)
	}
	return &TokenChunker{size: size, overlap: overlap, enc: enc}, nil
}

// Chunk implements Chunker.
func (c *TokenChunker) Chunk(ctx context.Context, doc document.ParentDocument) ([]document.Chunk, error) {
	if err := validateParams(c.size, c.overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.FullText) == "" {
		return nil, errors.Newf(errors.KindIngestion, "chunking.token", "document text is empty")
	}
	document.EnsureParentID(&doc)

	tokens := c.enc.Encode(doc.FullText, nil, nil)
	if len(tokens) == 0 {
		return nil, errors.Newf(errors.KindIngestion, "chunking.token", "document produced no tokens")
	}

	step := c.size - c.overlap
	var chunks []document.Chunk
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		content := c.enc.Decode(tokens[start:end])
		runeStart := utf8.RuneCountInString(c.enc.Decode(tokens[:start]))
		chunks = append(chunks, document.Chunk{
			ID:       document.ChunkID(doc.ID, runeStart),
			ParentID: doc.ID,
			Content:  content,
			Start:    runeStart,
			End:      runeStart + utf8.RuneCountInString(content),
			Page:     doc.Pages.PageFor(runeStart),
		})
		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}
