// Package retrieval implements the fused search path: vector and keyword
// branches run concurrently, their scores are normalized and blended, and
// surviving chunks are expanded into parent-document context windows.
package retrieval

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mittelweg/ares/docstore"
	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
	"github.com/mittelweg/ares/index"
	"github.com/mittelweg/ares/pkg/logging"
)

// Config controls fan-out sizes, fusion blending, and context expansion.
type Config struct {
	TopKVector     int
	TopKKeyword    int
	TopKFused      int
	FusionWeight   float64       // weight of the vector branch; keyword gets 1-weight
	MaxParentChars int           // cap (in runes) on the expanded parent context
	BranchTimeout  time.Duration // per-branch deadline, 0 means inherit the caller's
}

// Option customises the retriever config.
type Option func(*Config)

// WithTopKVector sets how many hits are pulled from the vector index.
func WithTopKVector(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopKVector = k
		}
	}
}

// WithTopKKeyword sets how many hits are pulled from the keyword index.
func WithTopKKeyword(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopKKeyword = k
		}
	}
}

// WithTopKFused caps the fused candidate list.
func WithTopKFused(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopKFused = k
		}
	}
}

// WithFusionWeight sets the vector branch weight in [0,1].
func WithFusionWeight(w float64) Option {
	return func(cfg *Config) {
		if w >= 0 && w <= 1 {
			cfg.FusionWeight = w
		}
	}
}

// WithMaxParentChars caps the expanded parent context size in runes.
func WithMaxParentChars(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxParentChars = n
		}
	}
}

// WithBranchTimeout sets a per-branch deadline for the fan-out.
func WithBranchTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.BranchTimeout = d
		}
	}
}

// Result carries the expanded candidates plus branch health. Degraded is
// true when exactly one branch failed and the other carried the search.
type Result struct {
	Candidates []document.SearchCandidate
	Degraded   bool
	VectorErr  error
	KeywordErr error
}

// HybridRetriever fans a query out to both indexes and fuses the hits.
type HybridRetriever struct {
	vector   index.VectorIndex
	keyword  index.KeywordIndex
	embedder index.Embedder
	store    docstore.Store
	cfg      Config
	logger   *slog.Logger
}

// New creates a hybrid retriever. All four collaborators are required.
func New(vec index.VectorIndex, kw index.KeywordIndex, emb index.Embedder, store docstore.Store, opts ...Option) (*HybridRetriever, error) {
	if vec == nil || kw == nil || emb == nil || store == nil {
		return nil, stderrors.New("vector index, keyword index, embedder, and store are required")
	}
	cfg := Config{
		TopKVector:     12,
		TopKKeyword:    12,
		TopKFused:      10,
		FusionWeight:   0.7,
		MaxParentChars: 4000,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &HybridRetriever{
		vector:   vec,
		keyword:  kw,
		embedder: emb,
		store:    store,
		cfg:      cfg,
		logger:   logging.WithComponent("retrieval"),
	}, nil
}

// Retrieve runs both branches, fuses their hits, and expands the survivors
// into parent context. A single failed branch degrades the result; both
// branches failing is an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string) (*Result, error) {
	var (
		vecHits []index.VectorHit
		kwHits  []index.KeywordHit
		vecErr  error
		kwErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		branchCtx, cancel := r.branchContext(gctx)
		defer cancel()
		vecHits, vecErr = r.vectorBranch(branchCtx, query)
		return nil
	})
	g.Go(func() error {
		branchCtx, cancel := r.branchContext(gctx)
		defer cancel()
		kwHits, kwErr = r.keyword.Query(branchCtx, query, r.cfg.TopKKeyword)
		return nil
	})
	// Branch errors are collected, not propagated, so one slow or broken
	// index cannot cancel the other.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vecErr != nil && kwErr != nil {
		return nil, r.classifyBranchFailure(vecErr, kwErr)
	}
	if vecErr != nil {
		r.logger.Warn("vector branch failed, continuing on keyword hits", "error", vecErr)
	}
	if kwErr != nil {
		r.logger.Warn("keyword branch failed, continuing on vector hits", "error", kwErr)
	}

	fused := fuse(vecHits, kwHits, r.cfg.FusionWeight)
	if r.cfg.TopKFused > 0 && len(fused) > r.cfg.TopKFused {
		fused = fused[:r.cfg.TopKFused]
	}

	candidates, err := r.expand(ctx, fused)
	if err != nil {
		return nil, err
	}
	return &Result{
		Candidates: candidates,
		Degraded:   vecErr != nil || kwErr != nil,
		VectorErr:  vecErr,
		KeywordErr: kwErr,
	}, nil
}

func (r *HybridRetriever) branchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.BranchTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.BranchTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *HybridRetriever) vectorBranch(ctx context.Context, query string) ([]index.VectorHit, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.vector.Query(ctx, vec, r.cfg.TopKVector)
}

func (r *HybridRetriever) classifyBranchFailure(vecErr, kwErr error) error {
	if stderrors.Is(vecErr, context.DeadlineExceeded) && stderrors.Is(kwErr, context.DeadlineExceeded) {
		return errors.Newf(errors.KindRetrievalTimeout, "retrieve", "both branches timed out: vector: %v, keyword: %v", vecErr, kwErr)
	}
	return errors.Newf(errors.KindIndexUnavailable, "retrieve", "both branches failed: vector: %v, keyword: %v", vecErr, kwErr)
}

// fuse min-max normalizes each branch and blends scores per chunk. Chunks
// keep their insertion order (vector hits first) so equal fused scores
// break ties deterministically.
func fuse(vecHits []index.VectorHit, kwHits []index.KeywordHit, weight float64) []document.SearchCandidate {
	vecNorm := normalizeVector(vecHits)
	kwNorm := normalizeKeyword(kwHits)

	order := make([]string, 0, len(vecHits)+len(kwHits))
	seen := make(map[string]struct{}, len(vecHits)+len(kwHits))
	for _, h := range vecHits {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			order = append(order, h.ChunkID)
		}
	}
	for _, h := range kwHits {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			order = append(order, h.ChunkID)
		}
	}

	out := make([]document.SearchCandidate, 0, len(order))
	for _, id := range order {
		cand := document.SearchCandidate{ChunkID: id}
		var v, k float64
		if score, ok := vecNorm[id]; ok {
			v = score
			s := score
			cand.VectorScore = &s
		}
		if score, ok := kwNorm[id]; ok {
			k = score
			s := score
			cand.KeywordScore = &s
		}
		cand.FusedScore = weight*v + (1-weight)*k
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})
	return out
}

func normalizeVector(hits []index.VectorHit) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	raw := make([]float64, 0, len(hits))
	for _, h := range hits {
		raw = append(raw, h.Score)
	}
	lo, hi := bounds(raw)
	for _, h := range hits {
		if _, ok := scores[h.ChunkID]; ok {
			continue
		}
		scores[h.ChunkID] = minMax(h.Score, lo, hi)
	}
	return scores
}

func normalizeKeyword(hits []index.KeywordHit) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	raw := make([]float64, 0, len(hits))
	for _, h := range hits {
		raw = append(raw, h.Score)
	}
	lo, hi := bounds(raw)
	for _, h := range hits {
		if _, ok := scores[h.ChunkID]; ok {
			continue
		}
		scores[h.ChunkID] = minMax(h.Score, lo, hi)
	}
	return scores
}

func bounds(scores []float64) (lo, hi float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	lo, hi = scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

// minMax maps a raw score into [0,1]. A degenerate branch where every hit
// shares one score maps everything to 1.
func minMax(score, lo, hi float64) float64 {
	if hi == lo {
		return 1
	}
	return (score - lo) / (hi - lo)
}

// expand fills each candidate with its chunk, source name, and a parent
// context window centered on the chunk. Candidates whose chunk or parent
// vanished since indexing are dropped.
func (r *HybridRetriever) expand(ctx context.Context, fused []document.SearchCandidate) ([]document.SearchCandidate, error) {
	out := make([]document.SearchCandidate, 0, len(fused))
	for _, cand := range fused {
		chunk, ok, err := r.store.Chunk(ctx, cand.ChunkID)
		if err != nil {
			return nil, errors.Newf(errors.KindIndexUnavailable, "retrieve", "load chunk %s: %v", cand.ChunkID, err)
		}
		if !ok {
			r.logger.Warn("dropping hit whose chunk is gone", "chunk_id", cand.ChunkID)
			continue
		}
		parent, ok, err := r.store.Parent(ctx, chunk.ParentID)
		if err != nil {
			return nil, errors.Newf(errors.KindIndexUnavailable, "retrieve", "load parent %s: %v", chunk.ParentID, err)
		}
		if !ok {
			r.logger.Warn("dropping hit whose parent is gone", "chunk_id", cand.ChunkID, "parent_id", chunk.ParentID)
			continue
		}
		cand.Chunk = chunk
		cand.SourceName = parent.SourceName
		cand.Context = contextWindow(parent.FullText, chunk.Start, chunk.End, r.cfg.MaxParentChars)
		out = append(out, cand)
	}
	return out, nil
}

// contextWindow returns up to maxChars runes of text centered on the
// [start,end) chunk range. Short parents come back whole.
func contextWindow(text string, start, end, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start > end {
		start = end
	}

	chunkLen := end - start
	if chunkLen >= maxChars {
		return string(runes[start : start+maxChars])
	}

	pad := (maxChars - chunkLen) / 2
	lo := start - pad
	hi := end + (maxChars - chunkLen - pad)
	if lo < 0 {
		hi += -lo
		lo = 0
	}
	if hi > len(runes) {
		lo -= hi - len(runes)
		hi = len(runes)
		if lo < 0 {
			lo = 0
		}
	}
	return string(runes[lo:hi])
}
