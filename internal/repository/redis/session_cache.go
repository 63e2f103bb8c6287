package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agoradebate/agora/internal/domain"
)

const sessionCachePrefix = "session:"

// SessionCache holds serialized session snapshots in Redis. It implements
// domain.CacheStore.
type SessionCache struct {
	client *Client
}

// NewSessionCache creates a new session cache
func NewSessionCache(client *Client) *SessionCache {
	return &SessionCache{client: client}
}

// GetSession retrieves a cached session snapshot. Only an absent key is a
// miss; transport failures are returned so the caller can log them before
// falling through to the durable tier.
func (c *SessionCache) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	key := sessionCachePrefix + id

	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// SetSession caches a session snapshot with the given TTL
func (c *SessionCache) SetSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	key := sessionCachePrefix + session.ID

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return c.client.rdb.Set(ctx, key, data, ttl).Err()
}

// DeleteSession removes a cached session snapshot
func (c *SessionCache) DeleteSession(ctx context.Context, id string) error {
	return c.client.rdb.Del(ctx, sessionCachePrefix+id).Err()
}
