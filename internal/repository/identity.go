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

// IdentityRepo implements service.IdentityStore over the users,
// api_tokens, subscriptions, and ip_authorized tables.
type IdentityRepo struct {
	pool *pgxpool.Pool
}

// NewIdentityRepo creates an IdentityRepo.
func NewIdentityRepo(pool *pgxpool.Pool) *IdentityRepo {
	return &IdentityRepo{pool: pool}
}

// Compile-time check.
var _ service.IdentityStore = (*IdentityRepo)(nil)

// LookupToken validates a bearer token and returns the token-bound
// identity, or nil when the token is unknown.
func (r *IdentityRepo) LookupToken(ctx context.Context, token string) (*model.Identity, error) {
	var userID, plan string
	err := r.pool.QueryRow(ctx, `
		SELECT u.id, COALESCE(s.plan, 'hobby')
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		LEFT JOIN subscriptions s ON s.user_id = u.id AND s.status = 'active'
		WHERE t.token = $1
	`, token).Scan(&userID, &plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.LookupToken: %w", err)
	}

	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &model.Identity{
		Kind:        model.IdentityToken,
		UserID:      userID,
		Plan:        plan,
		TokenPrefix: prefix,
	}, nil
}

// LookupUserPlan returns the active plan for a user, defaulting to hobby
// when no active subscription exists.
func (r *IdentityRepo) LookupUserPlan(ctx context.Context, userID string) (string, error) {
	var plan string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(s.plan, 'hobby')
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id AND s.status = 'active'
		WHERE u.id = $1
	`, userID).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PlanHobby, nil
	}
	if err != nil {
		return "", fmt.Errorf("repository.LookupUserPlan: %w", err)
	}
	return plan, nil
}

// LookupIPIdentity returns the identity bound to an authorized IP, or
// nil when the IP has no record.
func (r *IdentityRepo) LookupIPIdentity(ctx context.Context, ip string) (*model.Identity, error) {
	var userID string
	err := r.pool.QueryRow(ctx, `
		SELECT user_id FROM ip_authorized WHERE ip = $1
	`, ip).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.LookupIPIdentity: %w", err)
	}

	plan, err := r.LookupUserPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("repository.LookupIPIdentity: plan: %w", err)
	}
	return &model.Identity{
		Kind:   model.IdentityIP,
		UserID: userID,
		Plan:   plan,
	}, nil
}

// TouchIP updates last_used_at for an authorized IP. Fire-and-forget:
// callers run it in the background and discard the error after logging.
func (r *IdentityRepo) TouchIP(ctx context.Context, ip, userID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ip_authorized SET last_used_at = NOW() WHERE ip = $1 AND user_id = $2
	`, ip, userID)
	if err != nil {
		return fmt.Errorf("repository.TouchIP: %w", err)
	}
	return nil
}
