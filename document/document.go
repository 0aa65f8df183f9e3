// Package document holds the data model shared across ingestion, retrieval
// and reasoning: parent documents, their chunks, scored search candidates and
// citations. Offsets and ranges are counted in runes so multi-byte text
// (the corpora are mostly German) chunks the same way it displays.
package document

import (
	"fmt"

	"github.com/google/uuid"
)

// PageSpan maps a half-open rune range [Start, End) of the parent text to a
// 1-based page number.
type PageSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Page  int `json:"page"`
}

// PageMap translates rune offsets into page numbers. Spans are expected to
// be sorted and non-overlapping; callers build it at ingestion time from
// whatever the upstream parser reported.
type PageMap []PageSpan

// PageFor returns the page containing offset, or 0 when the offset is not
// covered by any span.
func (m PageMap) PageFor(offset int) int {
	for _, span := range m {
		if offset >= span.Start && offset < span.End {
			return span.Page
		}
	}
	return 0
}

// ParentDocument is the ingestion unit. It is immutable once ingested and
// removed as a whole on delete.
type ParentDocument struct {
	ID         string            `json:"id"`
	SourceName string            `json:"source_name"`
	FullText   string            `json:"full_text"`
	Pages      PageMap           `json:"pages,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the document.
func (d ParentDocument) Clone() ParentDocument {
	out := d
	if d.Pages != nil {
		out.Pages = make(PageMap, len(d.Pages))
		copy(out.Pages, d.Pages)
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Chunk is the retrieval unit: a bounded sub-span of one parent document.
// Start/End are rune offsets into the parent's FullText, always within its
// bounds; every chunk has exactly one parent.
type Chunk struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Content  string `json:"content"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Page     int    `json:"page,omitempty"`
}

// SearchCandidate is one fused retrieval hit. At least one of VectorScore
// and KeywordScore is always set; RerankScore appears after reranking.
// Context carries the expanded parent excerpt used for generation.
type SearchCandidate struct {
	ChunkID      string   `json:"chunk_id"`
	Chunk        Chunk    `json:"chunk"`
	SourceName   string   `json:"source_name"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
	FusedScore   float64  `json:"fused_score"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
	Context      string   `json:"context,omitempty"`
}

// Citation points from a generated answer back to the source that supports
// it. Its ChunkID is always a member of the retrieved set the final
// generation call consumed.
type Citation struct {
	SourceName string `json:"source_name"`
	Page       int    `json:"page,omitempty"`
	ChunkID    string `json:"chunk_id"`
}

// EnsureParentID assigns a fresh identifier when the caller did not provide
// one.
func EnsureParentID(doc *ParentDocument) {
	if doc == nil || doc.ID != "" {
		return
	}
	doc.ID = uuid.NewString()
}

// ChunkID derives a deterministic chunk identifier from the parent id and
// the chunk's starting rune offset. Re-ingesting identical text therefore
// produces identical ids, which makes index upserts idempotent.
func ChunkID(parentID string, start int) string {
	return fmt.Sprintf("%s_chunk_%d", parentID, start)
}
