package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryKey_Deterministic(t *testing.T) {
	a := QueryKey("timeline", "corr:1700000000000123", "limit:50")
	b := QueryKey("timeline", "corr:1700000000000123", "limit:50")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "timeline:")
}

func TestQueryKey_DistinguishesQueries(t *testing.T) {
	a := QueryKey("timeline", "corr:1700000000000123", "limit:50")
	b := QueryKey("timeline", "corr:1700000000000123", "limit:20")
	c := QueryKey("summary", "corr:1700000000000123", "limit:50")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.Set(ctx, "k1", []byte("payload"), 0))

	val, found, err := c.Get(ctx, "k1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), val)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "short", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, found, err := c.Get(ctx, "short")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_InvalidatePrefix(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "timeline:aaa", []byte("1"), 0))
	assert.NoError(t, c.Set(ctx, "timeline:bbb", []byte("2"), 0))
	assert.NoError(t, c.Set(ctx, "summary:ccc", []byte("3"), 0))

	assert.NoError(t, c.Invalidate(ctx, "timeline:"))

	_, found, _ := c.Get(ctx, "timeline:aaa")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "timeline:bbb")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "summary:ccc")
	assert.True(t, found)
}
