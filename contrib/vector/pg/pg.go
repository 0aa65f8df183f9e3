// Package pg implements the vector index on PostgreSQL with the
// pgvector extension.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/mittelweg/ares/index"
)

// Config holds connection and schema settings.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	SSLMode   string
	Dimension int    // embedding dimension (default 1536)
	TableName string // default "chunk_vectors"
}

// DefaultConfig returns a local development configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Port:      5432,
		User:      "postgres",
		Password:  "postgres",
		DBName:    "ares",
		SSLMode:   "disable",
		Dimension: 1536,
		TableName: "chunk_vectors",
	}
}

// Index is a pgvector-backed vector index.
type Index struct {
	db        *sql.DB
	dimension int
	table     string
}

// Open connects to PostgreSQL, ensures the schema, and returns the index.
func Open(config *Config) (*Index, error) {
	if config == nil {
		config = DefaultConfig()
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	idx := New(db, config.Dimension, config.TableName)
	if err := idx.setup(context.Background()); err != nil {
		return nil, fmt.Errorf("prepare schema: %w", err)
	}
	return idx, nil
}

// New wraps an existing database handle without touching the schema;
// useful when migrations run elsewhere and in tests.
func New(db *sql.DB, dimension int, table string) *Index {
	if dimension <= 0 {
		dimension = 1536
	}
	if table == "" {
		table = "chunk_vectors"
	}
	return &Index{db: db, dimension: dimension, table: table}
}

func (idx *Index) setup(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	create := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		parent_id VARCHAR(255) NOT NULL DEFAULT '',
		source VARCHAR(1024) NOT NULL DEFAULT '',
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, idx.table, idx.dimension)
	if _, err := idx.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Upsert implements index.VectorIndex.
func (idx *Index) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	if id == "" {
		return fmt.Errorf("chunk id must not be empty")
	}
	if len(vec) != idx.dimension {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", idx.dimension, len(vec))
	}
	query := fmt.Sprintf(`
	INSERT INTO %s (id, parent_id, source, embedding)
	VALUES ($1, $2, $3, $4::vector)
	ON CONFLICT (id) DO UPDATE SET
		parent_id = EXCLUDED.parent_id,
		source = EXCLUDED.source,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, idx.table)
	_, err := idx.db.ExecContext(ctx, query, id, metadata["parent_id"], metadata["source"], vectorLiteral(vec))
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", id, err)
	}
	return nil
}

// Query implements index.VectorIndex. Cosine distance is converted to a
// similarity so larger scores stay better.
func (idx *Index) Query(ctx context.Context, vec []float32, k int) ([]index.VectorHit, error) {
	if len(vec) != idx.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", idx.dimension, len(vec))
	}
	if k <= 0 {
		k = 10
	}
	query := fmt.Sprintf(`
	SELECT id, 1 - (embedding <=> $1::vector) AS score
	FROM %s
	ORDER BY embedding <=> $1::vector
	LIMIT $2
	`, idx.table)

	rows, err := idx.db.QueryContext(ctx, query, vectorLiteral(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	hits := make([]index.VectorHit, 0, k)
	for rows.Next() {
		var hit index.VectorHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector hits: %w", err)
	}
	return hits, nil
}

// Delete implements index.VectorIndex. Deleting an unknown id is a no-op.
func (idx *Index) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", idx.table)
	if _, err := idx.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete vector %s: %w", id, err)
	}
	return nil
}

// Close closes the database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
