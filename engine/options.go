package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mittelweg/ares/errors"
)

// maxQueryRunes bounds user queries before any model sees them.
const maxQueryRunes = 10000

// QueryOptions tunes a single query end to end.
type QueryOptions struct {
	MaxIterations       int     // refine-and-research rounds after the first pass
	ConfidenceThreshold float64 // audit score that ends the loop, in (0,1]
	TopKVector          int
	TopKKeyword         int
	TopKFused           int
	RerankTopK          int
	FusionWeight        float64 // vector branch weight in [0,1]
	MaxParentChars      int     // rune cap on expanded parent context
}

// DefaultQueryOptions returns a stock tuning. Query never substitutes
// it; callers opt in explicitly.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		MaxIterations:       2,
		ConfidenceThreshold: 0.7,
		TopKVector:          12,
		TopKKeyword:         12,
		TopKFused:           10,
		RerankTopK:          5,
		FusionWeight:        0.7,
		MaxParentChars:      4000,
	}
}

// Validate rejects tunings that would make the query loop meaningless.
func (o QueryOptions) Validate() error {
	const op = "engine.Query"
	if o.MaxIterations < 0 {
		return errors.Newf(errors.KindValidation, op, "max iterations must not be negative, got %d", o.MaxIterations)
	}
	if o.ConfidenceThreshold <= 0 || o.ConfidenceThreshold > 1 {
		return errors.Newf(errors.KindValidation, op, "confidence threshold must be in (0,1], got %v", o.ConfidenceThreshold)
	}
	if o.TopKVector <= 0 || o.TopKKeyword <= 0 || o.TopKFused <= 0 || o.RerankTopK <= 0 {
		return errors.Newf(errors.KindValidation, op, "all top-k values must be positive")
	}
	if o.FusionWeight < 0 || o.FusionWeight > 1 {
		return errors.Newf(errors.KindValidation, op, "fusion weight must be in [0,1], got %v", o.FusionWeight)
	}
	if o.MaxParentChars <= 0 {
		return errors.Newf(errors.KindValidation, op, "max parent chars must be positive, got %d", o.MaxParentChars)
	}
	return nil
}

func validateQuery(query string) error {
	const op = "engine.Query"
	if strings.TrimSpace(query) == "" {
		return errors.Newf(errors.KindValidation, op, "query must not be empty")
	}
	if n := utf8.RuneCountInString(query); n > maxQueryRunes {
		return errors.Newf(errors.KindValidation, op, "query length %d exceeds the %d character limit", n, maxQueryRunes)
	}
	return nil
}

// Config holds engine-level tuning that applies to every call.
type Config struct {
	RetryAttempts        uint
	RetryInitialInterval time.Duration
	BranchTimeout        time.Duration
	InsufficientAnswer   string
}

// Option customises the engine config.
type Option func(*Config)

// WithRetryAttempts sets how many times embedding and model calls are tried.
func WithRetryAttempts(n uint) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.RetryAttempts = n
		}
	}
}

// WithRetryInitialInterval sets the first backoff delay for retries.
func WithRetryInitialInterval(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.RetryInitialInterval = d
		}
	}
}

// WithBranchTimeout bounds each retrieval branch.
func WithBranchTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.BranchTimeout = d
		}
	}
}

// WithInsufficientAnswer overrides the fixed reply used when retrieval
// finds no evidence.
func WithInsufficientAnswer(text string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(text) != "" {
			cfg.InsufficientAnswer = text
		}
	}
}
