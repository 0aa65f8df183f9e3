// Package bleve implements the keyword index on Bleve full-text search.
package bleve

import (
	"context"
	"fmt"
	"os"

	bleveindex "github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/mittelweg/ares/index"
)

// Index is a Bleve-backed keyword index over chunk contents.
type Index struct {
	index bleveindex.Index
}

type chunkDoc struct {
	Content string `json:"content"`
}

// The standard analyzer tokenizes and lowercases without stemming, so
// query terms match the exact words that appear in chunks.
func indexMapping() mapping.IndexMapping {
	im := bleveindex.NewIndexMapping()
	docMapping := bleveindex.NewDocumentMapping()
	contentField := bleveindex.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentField)
	im.DefaultMapping = docMapping
	return im
}

// Open creates or reopens a persistent index at path. Changing the
// mapping requires removing the directory for a full re-index.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleveindex.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open bleve index: %w", openErr)
		}
		return &Index{index: idx}, nil
	}
	idx, err := bleveindex.New(path, indexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &Index{index: idx}, nil
}

// NewMemory creates a non-persistent index, used in tests and
// single-node deployments without a data directory.
func NewMemory() (*Index, error) {
	idx, err := bleveindex.NewMemOnly(indexMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory bleve index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Upsert implements index.KeywordIndex. Indexing an existing id
// replaces its content.
func (b *Index) Upsert(ctx context.Context, id, text string) error {
	if id == "" {
		return fmt.Errorf("chunk id must not be empty")
	}
	return b.index.Index(id, chunkDoc{Content: text})
}

// Query implements index.KeywordIndex using a match query over chunk
// contents. Scores are Bleve's tf-idf relevance, non-increasing.
func (b *Index) Query(ctx context.Context, text string, k int) ([]index.KeywordHit, error) {
	if k <= 0 {
		k = 10
	}
	q := bleveindex.NewMatchQuery(text)
	q.SetField("content")
	req := bleveindex.NewSearchRequest(q)
	req.Size = k

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	hits := make([]index.KeywordHit, len(res.Hits))
	for i, hit := range res.Hits {
		hits[i] = index.KeywordHit{ChunkID: hit.ID, Score: hit.Score}
	}
	return hits, nil
}

// Delete implements index.KeywordIndex. Unknown ids are a no-op.
func (b *Index) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the number of indexed chunks.
func (b *Index) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close releases the underlying index.
func (b *Index) Close() error {
	return b.index.Close()
}
