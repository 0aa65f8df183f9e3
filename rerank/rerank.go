// Package rerank reorders fused candidates with a cross-encoder style
// relevance scorer. When the scorer is unreachable the stage degrades to
// the fused ordering instead of failing the query.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/pkg/logging"
)

// Scorer rates one query/passage pair. Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// BatchScorer rates all passages in one call. Remote scorers implement
// this to avoid a round trip per candidate.
type BatchScorer interface {
	Scorer
	ScoreBatch(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker applies a Scorer to candidate lists.
type Reranker struct {
	scorer Scorer
	topK   int
	logger *slog.Logger
}

// New creates a reranker keeping the topK best candidates. A topK of 0
// keeps them all.
func New(scorer Scorer, topK int) *Reranker {
	return &Reranker{
		scorer: scorer,
		topK:   topK,
		logger: logging.WithComponent("rerank"),
	}
}

// Rerank scores the candidates against the query and returns them in
// non-increasing score order, truncated to topK. Ties keep the incoming
// fused order. A scorer failure returns the input order truncated, with
// degraded set.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []document.SearchCandidate) (ranked []document.SearchCandidate, degraded bool) {
	out := make([]document.SearchCandidate, len(candidates))
	copy(out, candidates)
	if r.scorer == nil || len(out) == 0 {
		return r.truncate(out), false
	}

	scores, err := r.score(ctx, query, out)
	if err != nil {
		r.logger.Warn("scorer unavailable, keeping fused order", "error", err)
		return r.truncate(out), true
	}

	for i := range out {
		s := scores[i]
		out[i].RerankScore = &s
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	return r.truncate(out), false
}

func (r *Reranker) score(ctx context.Context, query string, candidates []document.SearchCandidate) ([]float64, error) {
	passages := make([]string, len(candidates))
	for i, cand := range candidates {
		passages[i] = cand.Chunk.Content
	}

	if batch, ok := r.scorer.(BatchScorer); ok {
		scores, err := batch.ScoreBatch(ctx, query, passages)
		if err != nil {
			return nil, err
		}
		if len(scores) != len(passages) {
			return nil, fmt.Errorf("scorer returned %d scores for %d passages", len(scores), len(passages))
		}
		return scores, nil
	}

	scores := make([]float64, len(passages))
	for i, passage := range passages {
		s, err := r.scorer.Score(ctx, query, passage)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return scores, nil
}

func (r *Reranker) truncate(candidates []document.SearchCandidate) []document.SearchCandidate {
	if r.topK > 0 && len(candidates) > r.topK {
		return candidates[:r.topK]
	}
	return candidates
}
