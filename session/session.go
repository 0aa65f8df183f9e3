// Package session tracks per-conversation counters: how many queries ran
// and how many entities the masker redacted before text left the process.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Session accumulates counters for one conversation.
type Session struct {
	id string

	mu      sync.Mutex
	queries []string
	masked  int
}

// New creates a session with a fresh id.
func New() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RecordQuery appends a query to the session history.
func (s *Session) RecordQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
}

// Queries returns a copy of the query history.
func (s *Session) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// RecordMasked adds to the count of redacted entities.
func (s *Session) RecordMasked(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masked += n
}

// MaskedEntities returns how many entities were redacted so far.
func (s *Session) MaskedEntities() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masked
}

// Reset clears the history and counters but keeps the id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = nil
	s.masked = 0
}

type contextKey struct{}

// NewContext attaches the session to a context.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session attached to the context, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
