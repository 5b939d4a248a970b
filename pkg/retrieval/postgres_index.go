package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIndex persists documents in the schema_documents table of the index
// database and ranks them with cosine similarity computed in SQL.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex creates an index over a migrated index database.
func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

var _ Index = (*PostgresIndex)(nil)

// Upsert writes docs in one transaction.
func (p *PostgresIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	query := `
		INSERT INTO schema_documents (
			id, source, chunk_index, content, embedding, embedding_norm, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (source, chunk_index)
		DO UPDATE SET
			id = EXCLUDED.id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			embedding_norm = EXCLUDED.embedding_norm,
			updated_at = now()`

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range docs {
			norm := vectorNorm(d.Embedding)
			if norm == 0 {
				return fmt.Errorf("document %s#%d has a zero vector", d.Source, d.ChunkIndex)
			}
			batch.Queue(query, d.ID, d.Source, d.ChunkIndex, d.Text, d.Embedding, norm)
		}

		results := tx.SendBatch(ctx, batch)
		for range docs {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to upsert schema document: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to upsert schema documents: %w", err)
		}
		return nil
	})
}

// Prune removes chunks of source with chunk_index >= keep.
func (p *PostgresIndex) Prune(ctx context.Context, source string, keep int) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM schema_documents WHERE source = $1 AND chunk_index >= $2`, source, keep)
	if err != nil {
		return fmt.Errorf("failed to prune schema documents: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count schema documents: %w", err)
	}
	return n, nil
}

// Search returns up to topK documents by descending cosine similarity. Rows
// whose embedding length differs from vector are ignored.
func (p *PostgresIndex) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	qnorm := vectorNorm(vector)
	if qnorm == 0 {
		return nil, fmt.Errorf("query vector is zero")
	}

	query := `
		SELECT id, source, content,
			(SELECT SUM(a::float8 * b::float8) FROM unnest(d.embedding, $1::real[]) AS t(a, b))
				/ (d.embedding_norm * $2) AS score
		FROM schema_documents d
		WHERE cardinality(d.embedding) = cardinality($1::real[])
		ORDER BY score DESC, source, chunk_index
		LIMIT $3`

	rows, err := p.pool.Query(ctx, query, vector, qnorm, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search schema documents: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Source, &m.Text, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan schema document: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema documents: %w", err)
	}

	return matches, nil
}
