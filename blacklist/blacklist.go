// Package blacklist is the persistent JWT revocation set (spec C4): it
// survives process restart and self-expires entries via TTL. The dual
// redis-backed/in-memory architecture mirrors this codebase's idempotency
// manager pattern — one Store interface, a production Redis implementation,
// and an in-memory implementation acceptable for tests but not production.
package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the persistent revocation set contract (spec C4).
type Store interface {
	// Revoke records tokenId as revoked until expiresAt. Idempotent.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error

	// IsRevoked reports whether tokenId is currently revoked. When the
	// backing store is unavailable it returns the error; FailOpenGate turns
	// that error into a verdict according to its FailOpen flag.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// redisStore is the production implementation.
type redisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore builds a Store backed by Redis. prefix namespaces keys;
// defaults to "blacklist:".
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) Store {
	if prefix == "" {
		prefix = "blacklist:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisStore{client: client, prefix: prefix, logger: logger}
}

func (s *redisStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; nothing to persist — validate() would reject it
		// on expiry alone.
		return nil
	}
	key := s.prefix + tokenID
	if err := s.client.Set(ctx, key, expiresAt.Unix(), ttl).Err(); err != nil {
		s.logger.Error("failed to persist token revocation", zap.Error(err))
		return err
	}
	return nil
}

func (s *redisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	key := s.prefix + tokenID
	count, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.logger.Error("blacklist store unavailable", zap.Error(err))
		return false, err
	}
	return count > 0, nil
}

// memoryStore is the in-memory implementation: acceptable for tests, not
// for production (a restart clears it, defeating spec invariant 8).
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	stopCh  chan struct{}
}

// NewMemoryStore builds an in-memory Store with a background cleanup loop
// for expired entries.
func NewMemoryStore() Store {
	s := &memoryStore{entries: make(map[string]time.Time), stopCh: make(chan struct{})}
	go s.cleanupLoop()
	return s
}

func (s *memoryStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *memoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, id)
		}
	}
}

func (s *memoryStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tokenID] = expiresAt
	return nil
}

func (s *memoryStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.entries[tokenID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(exp), nil
}

// Close stops the in-memory store's cleanup goroutine. No-op on redisStore.
func Close(s Store) {
	if m, ok := s.(*memoryStore); ok {
		close(m.stopCh)
	}
}

// FailOpenGate wraps a Store so IsRevoked degrades per TOKEN_BLACKLIST_FAIL_OPEN:
// on a store error, failOpen=false (the default) treats unknown as revoked;
// failOpen=true treats unknown as not revoked.
type FailOpenGate struct {
	Store    Store
	FailOpen bool
}

func (g FailOpenGate) IsRevoked(ctx context.Context, tokenID string) bool {
	revoked, err := g.Store.IsRevoked(ctx, tokenID)
	if err != nil {
		return !g.FailOpen
	}
	return revoked
}
