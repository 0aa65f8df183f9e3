// Package inmemory provides a process-local vector index using exact
// cosine similarity. Suited to tests and small corpora.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/mittelweg/ares/index"
)

type entry struct {
	vector   []float32
	metadata map[string]string
	seq      int
}

// Index is an exact-scan vector index.
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
	nextSeq int
}

// New creates an empty index.
func New() *Index {
	return &Index{entries: make(map[string]entry)}
}

// Upsert implements index.VectorIndex.
func (idx *Index) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	stored := make([]float32, len(vec))
	copy(stored, vec)
	var meta map[string]string
	if metadata != nil {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	seq := idx.nextSeq
	if old, ok := idx.entries[id]; ok {
		seq = old.seq
	} else {
		idx.nextSeq++
	}
	idx.entries[id] = entry{vector: stored, metadata: meta, seq: seq}
	return nil
}

// Delete implements index.VectorIndex. Deleting an unknown id is a no-op.
func (idx *Index) Delete(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, id)
	return nil
}

// Query implements index.VectorIndex. Hits come back in non-increasing
// similarity order; equal scores keep insertion order.
func (idx *Index) Query(ctx context.Context, vec []float32, k int) ([]index.VectorHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		id    string
		score float64
		seq   int
	}
	hits := make([]scored, 0, len(idx.entries))
	for id, e := range idx.entries {
		hits = append(hits, scored{id: id, score: float64(index.CosineSimilarity(vec, e.vector)), seq: e.seq})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].seq < hits[j].seq
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	out := make([]index.VectorHit, len(hits))
	for i, h := range hits {
		out[i] = index.VectorHit{ChunkID: h.id, Score: h.score}
	}
	return out, nil
}

// Len returns the number of stored vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
