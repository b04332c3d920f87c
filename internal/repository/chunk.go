package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/service"
)

// ChunkRepo implements service.SemanticSearcher and service.KeywordSearcher
// over the document_chunks table.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

// Compile-time checks.
var (
	_ service.SemanticSearcher = (*ChunkRepo)(nil)
	_ service.KeywordSearcher  = (*ChunkRepo)(nil)
)

// SemanticSearch finds the k nearest chunks to queryVec by cosine
// distance. Vectors are stored unit-norm, so cosine distance ordering
// equals dot-product ordering. No minimum score cutoff; the result may
// be shorter than k.
func (r *ChunkRepo) SemanticSearch(ctx context.Context, queryVec []float32, k int) ([]model.Chunk, error) {
	embedding := pgvector.NewVector(queryVec)

	rows, err := r.pool.Query(ctx, `
		SELECT id, url, COALESCE(title, ''), content, chunk_index, total_chunks
		FROM document_chunks
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("repository.SemanticSearch: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// KeywordSearch ranks chunks against the tokenized query using the
// 'simple' text search configuration: case-folded, split on
// non-alphanumeric, no stemming, no stop-list.
func (r *ChunkRepo) KeywordSearch(ctx context.Context, query string, k int) ([]model.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, url, COALESCE(title, ''), content, chunk_index, total_chunks
		FROM document_chunks
		WHERE content_tsv @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank_cd(content_tsv, plainto_tsquery('simple', $1)) DESC
		LIMIT $2
	`, query, k)
	if err != nil {
		return nil, fmt.Errorf("repository.KeywordSearch: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows pgx.Rows) ([]model.Chunk, error) {
	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.URL, &c.Title, &c.Content, &c.ChunkIndex, &c.TotalChunks); err != nil {
			return nil, fmt.Errorf("repository.scanChunks: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
