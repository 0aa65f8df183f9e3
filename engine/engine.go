// Package engine is the top-level facade: it ingests parent documents
// into both indexes and answers queries through the retrieval and
// reasoning pipeline.
package engine

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mittelweg/ares/agent"
	"github.com/mittelweg/ares/chunking"
	"github.com/mittelweg/ares/docstore"
	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
	"github.com/mittelweg/ares/index"
	"github.com/mittelweg/ares/pkg/logging"
	"github.com/mittelweg/ares/pkg/telemetry"
	"github.com/mittelweg/ares/rerank"
	"github.com/mittelweg/ares/retrieval"
	"github.com/mittelweg/ares/session"
)

// Masker redacts sensitive entities from text before it leaves the
// process. It returns the redacted text and how many entities it hit.
type Masker interface {
	Mask(text string) (string, int)
}

// Capabilities groups the collaborators an engine is built from. Vector,
// Keyword, Embedder, Store, Chunker, and Generator are required; the
// rest enable optional stages.
type Capabilities struct {
	Vector   index.VectorIndex
	Keyword  index.KeywordIndex
	Embedder index.Embedder
	Store    docstore.Store
	Chunker  chunking.Chunker

	Classifier   agent.IntentClassifier
	Generator    agent.Generator
	Auditor      agent.Auditor
	RerankScorer rerank.Scorer
	Masker       Masker
}

// IngestReport summarises one ingestion.
type IngestReport struct {
	ParentID   string
	ChunkCount int
}

// QueryResult is the engine's answer to one query.
type QueryResult struct {
	Answer         string
	Status         agent.Status
	Confidence     float64
	Iterations     int
	LowConfidence  bool
	Degraded       bool
	Citations      []document.Citation
	MaskedEntities int
}

// Engine wires ingestion and querying over the configured capabilities.
type Engine struct {
	caps   Capabilities
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	lockMu sync.Mutex
	locks  map[string]*parentLock
}

type parentLock struct {
	mu   sync.Mutex
	refs int
}

// New validates the capabilities and builds an engine.
func New(caps Capabilities, opts ...Option) (*Engine, error) {
	const op = "engine.New"
	switch {
	case caps.Vector == nil:
		return nil, errors.Newf(errors.KindValidation, op, "vector index is required")
	case caps.Keyword == nil:
		return nil, errors.Newf(errors.KindValidation, op, "keyword index is required")
	case caps.Embedder == nil:
		return nil, errors.Newf(errors.KindValidation, op, "embedder is required")
	case caps.Store == nil:
		return nil, errors.Newf(errors.KindValidation, op, "document store is required")
	case caps.Chunker == nil:
		return nil, errors.Newf(errors.KindValidation, op, "chunker is required")
	case caps.Generator == nil:
		return nil, errors.Newf(errors.KindValidation, op, "generator is required")
	}
	cfg := Config{
		RetryAttempts:        3,
		RetryInitialInterval: 200 * time.Millisecond,
		BranchTimeout:        10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Engine{
		caps:   caps,
		cfg:    cfg,
		logger: logging.WithComponent("engine"),
		tracer: telemetry.Tracer("engine"),
		locks:  make(map[string]*parentLock),
	}, nil
}

// Ingest chunks a parent document, indexes every chunk in both indexes,
// and records the parent and its chunk catalog. Re-ingesting the same
// parent replaces its chunks and removes stale index entries left over
// from an earlier chunking.
func (e *Engine) Ingest(ctx context.Context, doc document.ParentDocument) (*IngestReport, error) {
	const op = "engine.Ingest"
	ctx, span := e.tracer.Start(ctx, "engine.Ingest")
	defer span.End()

	if strings.TrimSpace(doc.FullText) == "" {
		return nil, errors.Newf(errors.KindIngestion, op, "document text must not be empty")
	}
	document.EnsureParentID(&doc)
	span.SetAttributes(attribute.String("parent_id", doc.ID))

	unlock := e.lockParent(doc.ID)
	defer unlock()

	chunks, err := e.caps.Chunker.Chunk(ctx, doc)
	if err != nil {
		return nil, err
	}

	previous, err := e.caps.Store.ChunkIDs(ctx, doc.ID)
	if err != nil {
		return nil, errors.Newf(errors.KindIngestion, op, "load existing chunk catalog: %v", err)
	}

	for _, chunk := range chunks {
		if err := e.indexChunk(ctx, doc, chunk); err != nil {
			return nil, err
		}
	}

	// Chunk ids are derived from offsets, so a changed chunking leaves
	// stale ids behind; drop them from both indexes.
	current := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		current[chunk.ID] = struct{}{}
	}
	for _, old := range previous {
		if _, ok := current[old]; ok {
			continue
		}
		if err := e.caps.Vector.Delete(ctx, old); err != nil {
			e.logger.Warn("stale vector entry not removed", "chunk_id", old, "error", err)
		}
		if err := e.caps.Keyword.Delete(ctx, old); err != nil {
			e.logger.Warn("stale keyword entry not removed", "chunk_id", old, "error", err)
		}
	}

	if err := e.caps.Store.PutParent(ctx, doc); err != nil {
		return nil, errors.Newf(errors.KindIngestion, op, "store parent %s: %v", doc.ID, err)
	}
	if err := e.caps.Store.PutChunks(ctx, doc.ID, chunks); err != nil {
		return nil, errors.Newf(errors.KindIngestion, op, "store chunk catalog for %s: %v", doc.ID, err)
	}

	e.logger.Info("document ingested", "parent_id", doc.ID, "source", doc.SourceName, "chunks", len(chunks))
	return &IngestReport{ParentID: doc.ID, ChunkCount: len(chunks)}, nil
}

// indexChunk embeds one chunk and writes it to both indexes. A keyword
// failure rolls the vector entry back so the indexes never disagree.
func (e *Engine) indexChunk(ctx context.Context, doc document.ParentDocument, chunk document.Chunk) error {
	const op = "engine.Ingest"
	vec, err := e.withRetry(ctx, func() ([]float32, error) {
		return e.caps.Embedder.Embed(ctx, chunk.Content)
	})
	if err != nil {
		return errors.Newf(errors.KindIngestion, op, "embed chunk %s: %v", chunk.ID, err)
	}

	metadata := map[string]string{
		"parent_id": chunk.ParentID,
		"source":    doc.SourceName,
	}
	if err := e.caps.Vector.Upsert(ctx, chunk.ID, vec, metadata); err != nil {
		return errors.Newf(errors.KindIngestion, op, "vector upsert %s: %v", chunk.ID, err)
	}
	if err := e.caps.Keyword.Upsert(ctx, chunk.ID, chunk.Content); err != nil {
		if rollback := e.caps.Vector.Delete(ctx, chunk.ID); rollback != nil {
			e.logger.Error("vector rollback failed after keyword error", "chunk_id", chunk.ID, "error", rollback)
		}
		return errors.Newf(errors.KindIngestion, op, "keyword upsert %s: %v", chunk.ID, err)
	}
	return nil
}

// Delete removes a parent document and all its chunks from the indexes
// and the store.
func (e *Engine) Delete(ctx context.Context, parentID string) error {
	const op = "engine.Delete"
	ctx, span := e.tracer.Start(ctx, "engine.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("parent_id", parentID))

	unlock := e.lockParent(parentID)
	defer unlock()

	ids, err := e.caps.Store.ChunkIDs(ctx, parentID)
	if err != nil {
		return errors.Newf(errors.KindIngestion, op, "load chunk catalog for %s: %v", parentID, err)
	}
	var firstErr error
	for _, id := range ids {
		if err := e.caps.Vector.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.caps.Keyword.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.Newf(errors.KindIngestion, op, "remove index entries for %s: %v", parentID, firstErr)
	}
	if err := e.caps.Store.DeleteParent(ctx, parentID); err != nil {
		return errors.Newf(errors.KindIngestion, op, "delete parent %s: %v", parentID, err)
	}
	e.logger.Info("document deleted", "parent_id", parentID, "chunks", len(ids))
	return nil
}

// Query answers a question through retrieval, reranking, and the
// reasoning loop. Options are validated, not defaulted; callers that
// want the stock tuning pass DefaultQueryOptions().
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Query")
	defer span.End()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	masked := 0
	if e.caps.Masker != nil {
		var n int
		query, n = e.caps.Masker.Mask(query)
		masked += n
	}
	if sess, ok := session.FromContext(ctx); ok {
		sess.RecordQuery(query)
		sess.RecordMasked(masked)
	}

	retriever, err := retrieval.New(
		e.caps.Vector, e.caps.Keyword, e.caps.Embedder, e.caps.Store,
		retrieval.WithTopKVector(opts.TopKVector),
		retrieval.WithTopKKeyword(opts.TopKKeyword),
		retrieval.WithTopKFused(opts.TopKFused),
		retrieval.WithFusionWeight(opts.FusionWeight),
		retrieval.WithMaxParentChars(opts.MaxParentChars),
		retrieval.WithBranchTimeout(e.cfg.BranchTimeout),
	)
	if err != nil {
		return nil, err
	}
	searcher := &pipelineSearcher{
		retriever: retriever,
		reranker:  rerank.New(e.caps.RerankScorer, opts.RerankTopK),
	}

	agentOpts := []agent.Option{
		agent.WithMaxIterations(opts.MaxIterations),
		agent.WithConfidenceThreshold(opts.ConfidenceThreshold),
		agent.WithRetryAttempts(e.cfg.RetryAttempts),
	}
	if e.cfg.InsufficientAnswer != "" {
		agentOpts = append(agentOpts, agent.WithInsufficientAnswer(e.cfg.InsufficientAnswer))
	}
	loop, err := agent.New(e.caps.Classifier, searcher, e.caps.Generator, e.caps.Auditor, agentOpts...)
	if err != nil {
		return nil, err
	}

	outcome, err := loop.Run(ctx, query)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("status", string(outcome.Status)),
		attribute.Float64("confidence", outcome.Confidence),
		attribute.Int("iterations", outcome.Iterations),
	)
	return &QueryResult{
		Answer:         outcome.Answer,
		Status:         outcome.Status,
		Confidence:     outcome.Confidence,
		Iterations:     outcome.Iterations,
		LowConfidence:  outcome.LowConfidence,
		Degraded:       outcome.Degraded,
		Citations:      outcome.Citations,
		MaskedEntities: masked,
	}, nil
}

// pipelineSearcher adapts the retriever plus reranker pair to the
// reasoning loop's search contract.
type pipelineSearcher struct {
	retriever *retrieval.HybridRetriever
	reranker  *rerank.Reranker
}

func (s *pipelineSearcher) Search(ctx context.Context, query string) (agent.SearchResult, error) {
	res, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return agent.SearchResult{}, err
	}
	ranked, degraded := s.reranker.Rerank(ctx, query, res.Candidates)
	return agent.SearchResult{
		Candidates: ranked,
		Degraded:   res.Degraded || degraded,
	}, nil
}

// lockParent serialises writers of one parent id without blocking
// writers of other parents.
func (e *Engine) lockParent(id string) (unlock func()) {
	e.lockMu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &parentLock{}
		e.locks[id] = l
	}
	l.refs++
	e.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, id)
		}
		e.lockMu.Unlock()
	}
}

func (e *Engine) withRetry(ctx context.Context, op func() ([]float32, error)) ([]float32, error) {
	attempts := e.cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	if e.cfg.RetryInitialInterval > 0 {
		bo.InitialInterval = e.cfg.RetryInitialInterval
	}
	vec, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(attempts))
	if err != nil && ctx.Err() != nil && !stderrors.Is(err, ctx.Err()) {
		return nil, ctx.Err()
	}
	return vec, err
}
