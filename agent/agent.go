// Package agent runs the reasoning loop that turns a user query into a
// cited answer. The loop is an explicit state machine: classify the
// query, search, generate, audit, and either finish or refine the query
// and search again until the iteration budget runs out.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mittelweg/ares/citation"
	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
	"github.com/mittelweg/ares/pkg/logging"
)

// Status names the state the loop is in or finished with.
type Status string

const (
	StatusPlanning     Status = "PLANNING"
	StatusSearching    Status = "SEARCHING"
	StatusGenerating   Status = "GENERATING"
	StatusAuditing     Status = "AUDITING"
	StatusDone         Status = "DONE"
	StatusInsufficient Status = "INSUFFICIENT"
	StatusExhausted    Status = "EXHAUSTED"
	StatusCancelled    Status = "CANCELLED"
)

// directAnswerConfidence is assigned when a query is answered without
// retrieval, leaving the auditor nothing to compare against.
const directAnswerConfidence = 0.8

// Intent is the classifier's verdict on a query. When NeedsSearch is
// false the answer is generated from the model's own knowledge with an
// empty retrieval set.
type Intent struct {
	NeedsSearch bool
}

// IntentClassifier decides whether a query needs document retrieval.
type IntentClassifier interface {
	Classify(ctx context.Context, query string) (Intent, error)
}

// Generator composes an answer from the query and retrieved context.
// Candidates are numbered 1..n in prompt order so the answer can cite
// them with bracketed markers.
type Generator interface {
	Generate(ctx context.Context, query string, candidates []document.SearchCandidate) (string, error)
}

// Audit is the auditor's verdict on a generated answer.
type Audit struct {
	Confidence   float64 // in [0,1]
	RefinedQuery string  // optional better query for the next iteration
}

// Auditor grades an answer against the evidence it was built from.
type Auditor interface {
	Audit(ctx context.Context, query, answer string, candidates []document.SearchCandidate) (Audit, error)
}

// SearchResult carries retrieved candidates plus a degraded flag when
// one retrieval branch or the reranker was unavailable.
type SearchResult struct {
	Candidates []document.SearchCandidate
	Degraded   bool
}

// Searcher runs one retrieval pass for a query.
type Searcher interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

// Config tunes the loop.
type Config struct {
	MaxIterations        int     // extra search rounds after the first; 0 means audit once and stop
	ConfidenceThreshold  float64 // audits at or above this finish the loop
	RetryAttempts        uint    // tries per external call
	RetryInitialInterval time.Duration
	InsufficientAnswer   string // returned verbatim when retrieval finds nothing
}

// Option customises the loop config.
type Option func(*Config)

// WithMaxIterations sets how many refine-and-research rounds are allowed.
func WithMaxIterations(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MaxIterations = n
		}
	}
}

// WithConfidenceThreshold sets the audit score that ends the loop.
func WithConfidenceThreshold(t float64) Option {
	return func(cfg *Config) {
		if t > 0 && t <= 1 {
			cfg.ConfidenceThreshold = t
		}
	}
}

// WithRetryAttempts sets how many times each model call is tried.
func WithRetryAttempts(n uint) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.RetryAttempts = n
		}
	}
}

// WithInsufficientAnswer overrides the fixed no-evidence reply.
func WithInsufficientAnswer(text string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(text) != "" {
			cfg.InsufficientAnswer = text
		}
	}
}

// Outcome is the loop's final result.
type Outcome struct {
	Answer        string
	Status        Status
	Confidence    float64
	Iterations    int // search rounds actually run
	Query         string
	LowConfidence bool
	Degraded      bool
	Citations     []document.Citation
	Candidates    []document.SearchCandidate
}

// Agent drives the reasoning loop over pluggable collaborators.
type Agent struct {
	classifier IntentClassifier
	searcher   Searcher
	generator  Generator
	auditor    Auditor
	cfg        Config
	logger     *slog.Logger
}

// New wires the loop. Searcher and generator are required; without a
// classifier every query searches, and without an auditor the first
// answer is final.
func New(classifier IntentClassifier, searcher Searcher, generator Generator, auditor Auditor, opts ...Option) (*Agent, error) {
	if searcher == nil || generator == nil {
		return nil, errors.Newf(errors.KindValidation, "agent.New", "searcher and generator are required")
	}
	cfg := Config{
		MaxIterations:        2,
		ConfidenceThreshold:  0.7,
		RetryAttempts:        3,
		RetryInitialInterval: 200 * time.Millisecond,
		InsufficientAnswer:   "The available documents do not contain enough information to answer this question.",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Agent{
		classifier: classifier,
		searcher:   searcher,
		generator:  generator,
		auditor:    auditor,
		cfg:        cfg,
		logger:     logging.WithComponent("agent"),
	}, nil
}

// Run executes the loop for one query. Context cancellation between
// states ends the run with a CANCELLED outcome rather than an error so
// callers can tell an aborted run from a broken one.
func (a *Agent) Run(ctx context.Context, query string) (*Outcome, error) {
	query = strings.TrimSpace(query)
	status := StatusPlanning
	currentQuery := query
	iterations := 0
	degraded := false

	var candidates []document.SearchCandidate
	var answer string

	a.logger.Info("run started", "query", trimForLog(query, 120))

	for {
		if ctx.Err() != nil {
			a.logger.Warn("run cancelled", "status", string(status))
			return &Outcome{Status: StatusCancelled, Query: currentQuery, Iterations: iterations}, nil
		}

		switch status {
		case StatusPlanning:
			intent := a.classify(ctx, query)
			if !intent.NeedsSearch {
				a.logger.Info("answering without retrieval")
				status = StatusGenerating
				continue
			}
			status = StatusSearching

		case StatusSearching:
			result, err := a.searcher.Search(ctx, currentQuery)
			if err != nil {
				return nil, err
			}
			degraded = degraded || result.Degraded
			candidates = result.Candidates
			if len(candidates) == 0 {
				a.logger.Info("no evidence found", "query", trimForLog(currentQuery, 120))
				return &Outcome{
					Answer:     a.cfg.InsufficientAnswer,
					Status:     StatusInsufficient,
					Confidence: 0,
					Iterations: iterations,
					Query:      currentQuery,
					Degraded:   degraded,
				}, nil
			}
			status = StatusGenerating

		case StatusGenerating:
			var err error
			answer, err = withRetry(ctx, a.cfg, func() (string, error) {
				return a.generator.Generate(ctx, currentQuery, candidates)
			})
			if err != nil {
				return nil, errors.Newf(errors.KindGeneration, "agent.Run", "generate answer: %v", err)
			}
			if a.auditor == nil {
				return a.finish(StatusDone, answer, a.cfg.ConfidenceThreshold, iterations, currentQuery, false, degraded, candidates), nil
			}
			status = StatusAuditing

		case StatusAuditing:
			// A direct answer has no evidence to grade against; it
			// carries a fixed confidence instead of an audit verdict.
			verdict := Audit{Confidence: directAnswerConfidence}
			if len(candidates) > 0 {
				verdict = a.audit(ctx, currentQuery, answer, candidates)
			}
			if verdict.Confidence >= a.cfg.ConfidenceThreshold {
				return a.finish(StatusDone, answer, verdict.Confidence, iterations, currentQuery, false, degraded, candidates), nil
			}
			if iterations < a.cfg.MaxIterations {
				iterations++
				if refined := strings.TrimSpace(verdict.RefinedQuery); refined != "" {
					currentQuery = refined
				}
				a.logger.Info("low confidence, searching again",
					"confidence", verdict.Confidence,
					"iteration", iterations,
					"query", trimForLog(currentQuery, 120),
				)
				status = StatusSearching
				continue
			}
			a.logger.Warn("iteration budget exhausted", "confidence", verdict.Confidence)
			return a.finish(StatusExhausted, answer, verdict.Confidence, iterations, currentQuery, true, degraded, candidates), nil
		}
	}
}

// classify runs the intent classifier; any failure defaults to search
// so a broken classifier never blocks answering.
func (a *Agent) classify(ctx context.Context, query string) Intent {
	if a.classifier == nil {
		return Intent{NeedsSearch: true}
	}
	intent, err := withRetry(ctx, a.cfg, func() (Intent, error) {
		return a.classifier.Classify(ctx, query)
	})
	if err != nil {
		a.logger.Warn("intent classification failed, defaulting to search", "error", err)
		return Intent{NeedsSearch: true}
	}
	return intent
}

// audit grades the answer. A failed audit is not fatal the way a
// failed generation is: after retries it counts as a middling 0.5 so
// the iteration policy still decides the terminal state.
func (a *Agent) audit(ctx context.Context, query, answer string, candidates []document.SearchCandidate) Audit {
	verdict, err := withRetry(ctx, a.cfg, func() (Audit, error) {
		return a.auditor.Audit(ctx, query, answer, candidates)
	})
	if err != nil {
		a.logger.Warn("audit failed, assuming middling confidence", "error", err)
		return Audit{Confidence: 0.5}
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return verdict
}

func (a *Agent) finish(status Status, answer string, confidence float64, iterations int, query string, lowConfidence, degraded bool, candidates []document.SearchCandidate) *Outcome {
	out := &Outcome{
		Answer:        answer,
		Status:        status,
		Confidence:    confidence,
		Iterations:    iterations,
		Query:         query,
		LowConfidence: lowConfidence,
		Degraded:      degraded,
		Candidates:    candidates,
		Citations:     citation.Extract(answer, candidates),
	}
	a.logger.Info("run finished",
		"status", string(status),
		"confidence", confidence,
		"iterations", iterations,
		"citations", len(out.Citations),
	)
	return out
}

// withRetry runs a model call with exponential backoff.
func withRetry[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	if cfg.RetryInitialInterval > 0 {
		bo.InitialInterval = cfg.RetryInitialInterval
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(attempts))
}

func trimForLog(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if limit <= 0 || len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
