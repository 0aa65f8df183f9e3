// Package index declares the narrow adapter interfaces the engine uses to
// talk to externally owned similarity and term-frequency stores. The core
// only ever calls query/upsert/delete; everything else about the stores is
// the adapter's business.
package index

import (
	"context"
	"math"
)

// VectorHit is a single embedding-similarity match.
type VectorHit struct {
	ChunkID string
	Score   float64
}

// KeywordHit is a single term-relevance match (e.g. a BM25 score).
type KeywordHit struct {
	ChunkID string
	Score   float64
}

// VectorIndex is the embedding similarity store adapter.
type VectorIndex interface {
	// Query returns up to k chunk ids ranked by similarity to the vector.
	Query(ctx context.Context, vector []float32, k int) ([]VectorHit, error)

	// Upsert writes or replaces the embedding stored under chunkID.
	Upsert(ctx context.Context, chunkID string, vector []float32, metadata map[string]string) error

	// Delete removes the embedding stored under chunkID. Deleting an
	// unknown id is not an error.
	Delete(ctx context.Context, chunkID string) error
}

// KeywordIndex is the term-frequency store adapter.
type KeywordIndex interface {
	// Query returns up to k chunk ids ranked by term relevance.
	Query(ctx context.Context, text string, k int) ([]KeywordHit, error)

	// Upsert writes or replaces the indexed text stored under chunkID.
	Upsert(ctx context.Context, chunkID, text string) error

	// Delete removes the entry stored under chunkID. Deleting an unknown
	// id is not an error.
	Delete(ctx context.Context, chunkID string) error
}

// Embedder converts text into a vector embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
