// Package provider implements clients for the external embedding and
// reranking APIs, sharing a multi-key failover policy: keys are tried in
// pool order, invalid keys are evicted permanently, and transient
// failures are retried with exponential backoff.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoKeys is returned when every API key has been evicted from the pool.
var ErrNoKeys = errors.New("provider: no usable API keys remain")

// KeyStore persists key evictions so a restart does not resurrect keys
// already known to be invalid.
type KeyStore interface {
	RemoveKey(ctx context.Context, key string) error
}

// KeyPool is an ordered collection of provider API keys. The current key
// is the head; eviction removes a key from the pool and from its
// persistent backing store in the same critical section.
type KeyPool struct {
	mu    sync.Mutex
	keys  []string
	store KeyStore // nil = in-memory only
}

// NewKeyPool creates a pool over the given keys in insertion order.
func NewKeyPool(keys []string, store KeyStore) *KeyPool {
	pool := &KeyPool{store: store}
	pool.keys = append(pool.keys, keys...)
	return pool
}

// Current returns the head key, or false when the pool is empty.
func (p *KeyPool) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	return p.keys[0], true
}

// Evict removes key from the pool and its backing store. Store failures
// are logged but do not restore the key: an invalid key must never be
// retried within this process.
func (p *KeyPool) Evict(ctx context.Context, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}

	if p.store != nil {
		if err := p.store.RemoveKey(ctx, key); err != nil {
			slog.Warn("key eviction not persisted", "error", err)
		}
	}

	slog.Warn("provider API key evicted", "key_prefix", keyPrefix(key), "remaining", len(p.keys))
}

// Len returns the number of usable keys.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// keyPrefix returns the first 8 characters of a key for log lines.
func keyPrefix(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
