package rerank

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mittelweg/ares/document"
)

// contentLengthScorer rates longer passages higher; deterministic and local.
type contentLengthScorer struct{}

func (contentLengthScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	return float64(len(passage)), nil
}

type failingScorer struct{}

func (failingScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	return 0, errors.New("model unavailable")
}

type batchScorer struct {
	scores []float64
	err    error
	calls  int
}

func (b *batchScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	return 0, errors.New("per-item scoring should not be used")
}

func (b *batchScorer) ScoreBatch(ctx context.Context, query string, passages []string) ([]float64, error) {
	b.calls++
	return b.scores, b.err
}

func candidates(contents ...string) []document.SearchCandidate {
	out := make([]document.SearchCandidate, 0, len(contents))
	for i, c := range contents {
		out = append(out, document.SearchCandidate{
			ChunkID: string(rune('a' + i)),
			Chunk:   document.Chunk{Content: c},
		})
	}
	return out
}

func TestRerankOrdersByScore(t *testing.T) {
	input := candidates("short", strings.Repeat("long", 10), "mid mid")
	ranked, degraded := New(contentLengthScorer{}, 0).Rerank(context.Background(), "q", input)
	if degraded {
		t.Fatal("unexpected degraded result")
	}
	if len(ranked) != 3 {
		t.Fatalf("got %d candidates", len(ranked))
	}
	if ranked[0].ChunkID != "b" || ranked[1].ChunkID != "c" || ranked[2].ChunkID != "a" {
		t.Fatalf("order = %s %s %s", ranked[0].ChunkID, ranked[1].ChunkID, ranked[2].ChunkID)
	}
	for i := 1; i < len(ranked); i++ {
		if *ranked[i].RerankScore > *ranked[i-1].RerankScore {
			t.Fatalf("scores not non-increasing at %d", i)
		}
	}
}

func TestRerankTruncatesToTopK(t *testing.T) {
	input := candidates("aaaa", "bb", "cccccc")
	ranked, _ := New(contentLengthScorer{}, 2).Rerank(context.Background(), "q", input)
	if len(ranked) != 2 {
		t.Fatalf("got %d candidates, want 2", len(ranked))
	}
	if ranked[0].ChunkID != "c" || ranked[1].ChunkID != "a" {
		t.Fatalf("order = %s %s", ranked[0].ChunkID, ranked[1].ChunkID)
	}
}

func TestRerankStableOnTies(t *testing.T) {
	input := candidates("same", "same", "same")
	ranked, _ := New(contentLengthScorer{}, 0).Rerank(context.Background(), "q", input)
	for i, want := range []string{"a", "b", "c"} {
		if ranked[i].ChunkID != want {
			t.Fatalf("tie broke input order at %d: got %s", i, ranked[i].ChunkID)
		}
	}
}

func TestRerankDegradesOnScorerFailure(t *testing.T) {
	input := candidates("first", "second", "third")
	ranked, degraded := New(failingScorer{}, 2).Rerank(context.Background(), "q", input)
	if !degraded {
		t.Fatal("expected degraded result")
	}
	if len(ranked) != 2 {
		t.Fatalf("got %d candidates, want 2", len(ranked))
	}
	// Input order survives, scores stay unset.
	if ranked[0].ChunkID != "a" || ranked[1].ChunkID != "b" {
		t.Fatalf("order = %s %s", ranked[0].ChunkID, ranked[1].ChunkID)
	}
	if ranked[0].RerankScore != nil {
		t.Fatal("degraded result should not carry rerank scores")
	}
}

func TestRerankUsesBatchScorer(t *testing.T) {
	input := candidates("one", "two", "three")
	scorer := &batchScorer{scores: []float64{0.1, 0.9, 0.5}}
	ranked, degraded := New(scorer, 0).Rerank(context.Background(), "q", input)
	if degraded {
		t.Fatal("unexpected degraded result")
	}
	if scorer.calls != 1 {
		t.Fatalf("batch scorer called %d times", scorer.calls)
	}
	if ranked[0].ChunkID != "b" || ranked[1].ChunkID != "c" || ranked[2].ChunkID != "a" {
		t.Fatalf("order = %s %s %s", ranked[0].ChunkID, ranked[1].ChunkID, ranked[2].ChunkID)
	}
}

func TestRerankBatchCountMismatchDegrades(t *testing.T) {
	input := candidates("one", "two")
	scorer := &batchScorer{scores: []float64{0.1}}
	ranked, degraded := New(scorer, 0).Rerank(context.Background(), "q", input)
	if !degraded {
		t.Fatal("expected degraded result on score count mismatch")
	}
	if len(ranked) != 2 || ranked[0].ChunkID != "a" {
		t.Fatalf("ranked = %+v", ranked)
	}
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	input := candidates("short", strings.Repeat("long", 5))
	New(contentLengthScorer{}, 0).Rerank(context.Background(), "q", input)
	if input[0].ChunkID != "a" || input[1].ChunkID != "b" {
		t.Fatal("input slice was reordered")
	}
}

func TestRerankNilScorerPassthrough(t *testing.T) {
	input := candidates("one", "two", "three")
	ranked, degraded := New(nil, 2).Rerank(context.Background(), "q", input)
	if degraded {
		t.Fatal("nil scorer is a configuration, not a degradation")
	}
	if len(ranked) != 2 || ranked[0].ChunkID != "a" {
		t.Fatalf("ranked = %+v", ranked)
	}
}
