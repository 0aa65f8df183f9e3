// Package errors defines the typed error taxonomy shared by every engine
// component. Callers of Query/Ingest always receive an *Error with a Kind
// they can branch on; transient failures are retried inside the component
// that issued the call and only surface here once the retry budget is spent.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	// KindIngestion marks malformed chunk parameters or empty input text.
	// Rejected immediately, never retried.
	KindIngestion Kind = "ingestion"

	// KindValidation marks malformed queries or query options.
	KindValidation Kind = "validation"

	// KindIndexUnavailable marks an unreachable vector or keyword store
	// after the retry budget is exhausted.
	KindIndexUnavailable Kind = "index_unavailable"

	// KindRetrievalTimeout marks a retrieval branch that missed its
	// deadline. Non-fatal when the other branch succeeded.
	KindRetrievalTimeout Kind = "retrieval_timeout"

	// KindRerankUnavailable marks a failed rerank scorer. Non-fatal; the
	// caller degrades to fused order.
	KindRerankUnavailable Kind = "rerank_unavailable"

	// KindGeneration marks an LLM or audit failure after retries. Fatal
	// for the current query only.
	KindGeneration Kind = "generation"
)

// Error carries a taxonomy kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the operation that failed.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when
// the error carries no taxonomy kind.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether any error in the chain carries the given kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
