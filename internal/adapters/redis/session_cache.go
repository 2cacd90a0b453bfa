package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nwatch/neighborwatch/internal/ports"
)

const defaultCacheTTL = 15 * time.Minute

// SessionCaches hands out key/value caches scoped to one browsing session.
// Every entry carries the same TTL, which bounds how stale a cached
// authorization record can get.
type SessionCaches struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSessionCaches creates session-scoped caches with the given entry TTL.
func NewSessionCaches(client redis.UniversalClient, ttl time.Duration) *SessionCaches {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &SessionCaches{client: client, prefix: "authrec:", ttl: ttl}
}

// Scope returns the cache for sessionID.
func (c *SessionCaches) Scope(sessionID string) ports.SessionCache {
	return &sessionCache{parent: c, keyPrefix: c.prefix + sessionID + ":"}
}

type sessionCache struct {
	parent    *SessionCaches
	keyPrefix string
}

func (s *sessionCache) Get(ctx context.Context, key string) (string, error) {
	val, err := s.parent.client.Get(ctx, s.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ports.ErrCacheMiss
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (s *sessionCache) Set(ctx context.Context, key, value string) error {
	if err := s.parent.client.Set(ctx, s.keyPrefix+key, value, s.parent.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *sessionCache) Remove(ctx context.Context, key string) error {
	if err := s.parent.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
