package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agoradebate/agora/internal/domain"
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is an in-process implementation of domain.CacheStore, used in tests
// and as the fallback when redis is unreachable and cache.optional is set.
// Snapshots are stored serialized so readers never share memory with
// writers, mirroring the redis tier.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time

	deleteErr error
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *Cache) GetSession(_ context.Context, id string) (*domain.Session, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, nil
	}

	var session domain.Session
	if err := json.Unmarshal(entry.data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Cache) SetSession(_ context.Context, session *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[session.ID] = cacheEntry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *Cache) DeleteSession(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.entries, id)
	return nil
}

// SetDeleteFailure arms or clears a DeleteSession failure, for exercising
// the invalidation error path in tests.
func (c *Cache) SetDeleteFailure(err error) {
	c.mu.Lock()
	c.deleteErr = err
	c.mu.Unlock()
}

// Evict drops an entry regardless of TTL. Test helper for simulating cache
// eviction on the cold-read path.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
