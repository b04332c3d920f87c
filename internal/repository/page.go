package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/service"
)

// PageRepo implements service.PageStore over the pages table, which
// holds fully assembled documents (not chunks).
type PageRepo struct {
	pool *pgxpool.Pool
}

// NewPageRepo creates a PageRepo.
func NewPageRepo(pool *pgxpool.Pool) *PageRepo {
	return &PageRepo{pool: pool}
}

// Compile-time check.
var _ service.PageStore = (*PageRepo)(nil)

// GetPageByURL returns the assembled document for url, or nil when the
// URL is not in the corpus.
func (r *PageRepo) GetPageByURL(ctx context.Context, url string) (*model.Page, error) {
	var p model.Page
	err := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(title, ''), content
		FROM pages
		WHERE url = $1
	`, url).Scan(&p.ID, &p.Title, &p.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.GetPageByURL: %w", err)
	}
	return &p, nil
}
