// Package docstore persists parent documents and their chunk catalog. The
// retrieval path reads it to expand chunks back into parent context; the
// engine writes it during ingestion and deletion.
package docstore

import (
	"context"
	"sync"

	"github.com/mittelweg/ares/document"
)

// Store is the parent/chunk persistence contract.
type Store interface {
	// PutParent writes or replaces a parent document.
	PutParent(ctx context.Context, doc document.ParentDocument) error

	// Parent returns the parent document by id.
	Parent(ctx context.Context, id string) (document.ParentDocument, bool, error)

	// DeleteParent removes the parent and its chunk catalog.
	DeleteParent(ctx context.Context, id string) error

	// PutChunks replaces the chunk set recorded for parentID.
	PutChunks(ctx context.Context, parentID string, chunks []document.Chunk) error

	// Chunk returns a single chunk by id.
	Chunk(ctx context.Context, id string) (document.Chunk, bool, error)

	// ChunkIDs lists the ids of all chunks recorded for parentID.
	ChunkIDs(ctx context.Context, parentID string) ([]string, error)
}

// InMemory is a Store backed by process memory, used in tests and
// single-node deployments.
type InMemory struct {
	mu      sync.RWMutex
	parents map[string]document.ParentDocument
	chunks  map[string]document.Chunk
	byDoc   map[string][]string
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		parents: make(map[string]document.ParentDocument),
		chunks:  make(map[string]document.Chunk),
		byDoc:   make(map[string][]string),
	}
}

// PutParent implements Store.
func (s *InMemory) PutParent(ctx context.Context, doc document.ParentDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents[doc.ID] = doc.Clone()
	return nil
}

// Parent implements Store.
func (s *InMemory) Parent(ctx context.Context, id string) (document.ParentDocument, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.parents[id]
	if !ok {
		return document.ParentDocument{}, false, nil
	}
	return doc.Clone(), true, nil
}

// DeleteParent implements Store.
func (s *InMemory) DeleteParent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunkID := range s.byDoc[id] {
		delete(s.chunks, chunkID)
	}
	delete(s.byDoc, id)
	delete(s.parents, id)
	return nil
}

// PutChunks implements Store.
func (s *InMemory) PutChunks(ctx context.Context, parentID string, chunks []document.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.byDoc[parentID] {
		delete(s.chunks, old)
	}
	ids := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		s.chunks[ch.ID] = ch
		ids = append(ids, ch.ID)
	}
	s.byDoc[parentID] = ids
	return nil
}

// Chunk implements Store.
func (s *InMemory) Chunk(ctx context.Context, id string) (document.Chunk, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[id]
	return ch, ok, nil
}

// ChunkIDs implements Store.
func (s *InMemory) ChunkIDs(ctx context.Context, parentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDoc[parentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}
