package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/applerag/apple-rag-backend/internal/model"
)

// DefaultIdentityTTL is how long an IP-authorized identity stays cached.
const DefaultIdentityTTL = 300 * time.Second

// IdentityCache caches IP → identity mappings so the identity store is
// consulted at most once per TTL for each cached IP. Thread-safe via
// sync.RWMutex; entries auto-expire after the TTL.
type IdentityCache struct {
	mu      sync.RWMutex
	entries map[string]*identityEntry
	ttl     time.Duration
	stopCh  chan struct{}
}

type identityEntry struct {
	identity  model.Identity
	createdAt time.Time
	expiresAt time.Time
}

// NewIdentityCache creates an IdentityCache with the given TTL and
// starts background cleanup.
func NewIdentityCache(ttl time.Duration) *IdentityCache {
	c := &IdentityCache{
		entries: make(map[string]*identityEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached identity for ip if present and not expired.
func (c *IdentityCache) Get(ip string) (*model.Identity, bool) {
	c.mu.RLock()
	entry, ok := c.entries[ip]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, ip)
		c.mu.Unlock()
		return nil, false
	}

	identity := entry.identity
	return &identity, true
}

// Set stores an identity for ip.
func (c *IdentityCache) Set(ip string, identity *model.Identity) {
	now := time.Now()
	c.mu.Lock()
	c.entries[ip] = &identityEntry{
		identity:  *identity,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of entries in the cache.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *IdentityCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *IdentityCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			before := len(c.entries)
			for ip, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, ip)
				}
			}
			after := len(c.entries)
			c.mu.Unlock()
			if before != after {
				slog.Info("[ID-CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}
