package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache used when no Redis address is
// configured, and in tests.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || utils.Now().After(entry.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		}
		observer.IncQueryCacheResult("miss")
		return nil, false, nil
	}
	observer.IncQueryCacheResult("hit")
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: utils.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, prefix string) error {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
