package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/applerag/apple-rag-backend/internal/model"
)

// touchTimeout bounds the background last_used_at update on IP cache hits.
const touchTimeout = 5 * time.Second

// IdentityStore defines identity data access. Implemented by
// repository.IdentityRepo.
type IdentityStore interface {
	LookupToken(ctx context.Context, token string) (*model.Identity, error)
	LookupUserPlan(ctx context.Context, userID string) (string, error)
	LookupIPIdentity(ctx context.Context, ip string) (*model.Identity, error)
	TouchIP(ctx context.Context, ip, userID string) error
}

// IdentityCache caches IP-authorized identities. Implemented by
// cache.IdentityCache.
type IdentityCache interface {
	Get(ip string) (*model.Identity, bool)
	Set(ip string, identity *model.Identity)
}

// IdentityResolver classifies each request as token-authenticated,
// IP-authenticated, or anonymous, in that precedence order. Store
// failures degrade to the next tier rather than failing the request.
type IdentityResolver struct {
	store IdentityStore
	cache IdentityCache
}

// NewIdentityResolver creates an IdentityResolver.
func NewIdentityResolver(store IdentityStore, cache IdentityCache) *IdentityResolver {
	return &IdentityResolver{store: store, cache: cache}
}

// Resolve determines the caller's identity from the bearer token (may be
// empty) and client IP. It never fails: the worst case is the anonymous
// tier.
func (r *IdentityResolver) Resolve(ctx context.Context, token, ip string) model.Identity {
	if token != "" {
		identity, err := r.store.LookupToken(ctx, token)
		if err != nil {
			slog.Warn("token lookup degraded to IP tier", "error", err)
		} else if identity != nil {
			return *identity
		}
	}

	if identity := r.resolveIP(ctx, ip); identity != nil {
		return *identity
	}

	return model.Identity{
		Kind:   model.IdentityAnon,
		UserID: "anon_" + ip,
		Plan:   model.PlanHobby,
	}
}

// resolveIP returns the IP-authorized identity, consulting the cache
// first. A cache hit schedules an asynchronous last_used_at touch; a
// miss populates the cache on success.
func (r *IdentityResolver) resolveIP(ctx context.Context, ip string) *model.Identity {
	if identity, ok := r.cache.Get(ip); ok {
		go func() {
			touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
			defer cancel()
			if err := r.store.TouchIP(touchCtx, ip, identity.UserID); err != nil {
				slog.Warn("ip touch failed", "ip", ip, "error", err)
			}
		}()
		return identity
	}

	identity, err := r.store.LookupIPIdentity(ctx, ip)
	if err != nil {
		slog.Warn("ip lookup degraded to anonymous tier", "ip", ip, "error", err)
		return nil
	}
	if identity == nil {
		return nil
	}

	r.cache.Set(ip, identity)
	return identity
}
