package citation

import (
	"testing"

	"github.com/mittelweg/ares/document"
)

func cand(id, source string, page int) document.SearchCandidate {
	return document.SearchCandidate{
		ChunkID:    id,
		SourceName: source,
		Chunk:      document.Chunk{ID: id, Page: page},
	}
}

func TestExtractWithMarkers(t *testing.T) {
	candidates := []document.SearchCandidate{
		cand("c1", "manual.pdf", 3),
		cand("c2", "faq.md", 0),
		cand("c3", "manual.pdf", 7),
	}
	answer := "The limit is 50 requests [3], as stated in the manual [1]."

	got := Extract(answer, candidates)
	if len(got) != 2 {
		t.Fatalf("got %d citations, want 2", len(got))
	}
	// Marker order, not candidate order.
	if got[0].SourceName != "manual.pdf" || got[0].Page != 7 {
		t.Fatalf("first citation = %+v", got[0])
	}
	if got[1].SourceName != "manual.pdf" || got[1].Page != 3 {
		t.Fatalf("second citation = %+v", got[1])
	}
}

func TestExtractWithoutMarkers(t *testing.T) {
	candidates := []document.SearchCandidate{
		cand("c1", "a.pdf", 1),
		cand("c2", "b.pdf", 2),
	}
	got := Extract("An answer with no explicit references.", candidates)
	if len(got) != 2 {
		t.Fatalf("got %d citations, want 2", len(got))
	}
	if got[0].ChunkID != "c1" || got[1].ChunkID != "c2" {
		t.Fatalf("citations = %+v", got)
	}
}

func TestExtractDeduplicatesSourcePage(t *testing.T) {
	candidates := []document.SearchCandidate{
		cand("c1", "manual.pdf", 3),
		cand("c2", "manual.pdf", 3),
		cand("c3", "manual.pdf", 4),
	}
	got := Extract("see [1] and [2] and [3]", candidates)
	if len(got) != 2 {
		t.Fatalf("got %d citations, want 2", len(got))
	}
	if got[0].Page != 3 || got[1].Page != 4 {
		t.Fatalf("citations = %+v", got)
	}
}

func TestExtractIgnoresOutOfRangeMarkers(t *testing.T) {
	candidates := []document.SearchCandidate{
		cand("c1", "a.pdf", 1),
	}
	got := Extract("wrong [0] and missing [9] but valid [1]", candidates)
	if len(got) != 1 || got[0].ChunkID != "c1" {
		t.Fatalf("citations = %+v", got)
	}
}

func TestExtractAllMarkersInvalid(t *testing.T) {
	candidates := []document.SearchCandidate{
		cand("c1", "a.pdf", 1),
		cand("c2", "b.pdf", 2),
	}
	// Markers exist but none resolve; that is an explicit empty citation
	// set, not a fallback to all candidates.
	got := Extract("only bad markers [7] [8]", candidates)
	if len(got) != 0 {
		t.Fatalf("citations = %+v, want none", got)
	}
}

func TestExtractNoCandidates(t *testing.T) {
	if got := Extract("anything [1]", nil); len(got) != 0 {
		t.Fatalf("citations = %+v, want none", got)
	}
}
