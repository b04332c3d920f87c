package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/service"
)

// UsageRepo provides append-only access to the search_logs and
// fetch_logs tables.
type UsageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a UsageRepo.
func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// Compile-time checks.
var (
	_ service.EventCounter  = (*UsageRepo)(nil)
	_ service.EventAppender = (*UsageRepo)(nil)
)

// CountEvents returns the number of usage events for identifier since
// the given time, summed across both log tables.
func (r *UsageRepo) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM search_logs WHERE user_id = $1 AND created_at >= $2) +
			(SELECT count(*) FROM fetch_logs  WHERE user_id = $1 AND created_at >= $2)
	`, identifier, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository.CountEvents: %w", err)
	}
	return count, nil
}

// AppendEvent writes a usage event to the table matching its kind.
// Fire-and-forget: callers run it in the background and log failures.
func (r *UsageRepo) AppendEvent(ctx context.Context, event model.UsageEvent) error {
	table := "search_logs"
	if event.Kind == model.EventFetch {
		table = "fetch_logs"
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, ip, token_prefix, payload, result_count, response_time_ms, status_code, error_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, table),
		event.ID, event.UserID, event.IP, event.TokenPrefix, event.Payload,
		event.ResultCount, event.ResponseTimeMs, event.StatusCode, event.ErrorCode, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.AppendEvent: %s: %w", table, err)
	}
	return nil
}
