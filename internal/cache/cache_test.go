package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl time.Duration) (*Cache, *time.Time) {
	c := NewCache(ttl)
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_SetGetDelete(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	data, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c, now := newTestCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	*now = now.Add(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entries are evicted on read")
}

func TestCache_SweepAndStats(t *testing.T) {
	c, now := newTestCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "old", []byte("1")))
	*now = now.Add(2 * time.Minute)
	require.NoError(t, c.Set(ctx, "new", []byte("2")))

	stats := c.Stats()
	assert.Equal(t, 2, stats["total_items"])
	assert.Equal(t, 1, stats["expired_items"])

	c.sweep()
	assert.Equal(t, 1, c.Size())

	require.NoError(t, c.Delete(ctx, "new"))
	assert.Equal(t, 0, c.Size())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(ctx, "shared", []byte{byte(i)})
			_, _, _ = c.Get(ctx, "shared")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, c.Size())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := NewCache(time.Minute)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	store := NewRedisStore(client, "test:trajectory:", time.Minute)
	_ = store.Delete(ctx, "k")

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	data, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, store.Delete(ctx, "k"))
}
