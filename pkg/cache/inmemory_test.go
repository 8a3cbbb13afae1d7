package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/cache"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss returns ErrNotFound", func(t *testing.T) {
		c := cache.NewMemoryCache(cache.MemoryConfig{}, clockwork.NewFakeClock())

		_, err := c.Fetch(ctx, "miss")

		require.Error(t, err)
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Write then fetch returns a copy", func(t *testing.T) {
		c := cache.NewMemoryCache(cache.MemoryConfig{}, clockwork.NewFakeClock())
		original := []byte(`{"a":1}`)
		require.NoError(t, c.Write(ctx, "k", original, time.Time{}))

		// Mutating the caller's slice must not leak into the cache.
		original[0] = 'X'
		got, err := c.Fetch(ctx, "k")

		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":1}`), got)
	})

	t.Run("Expired entry is treated as absent", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		c := cache.NewMemoryCache(cache.MemoryConfig{}, clock)
		require.NoError(t, c.Write(ctx, "k", []byte("v"), clock.Now().Add(time.Minute)))

		clock.Advance(time.Minute)
		_, err := c.Fetch(ctx, "k")

		assert.ErrorIs(t, err, cache.ErrNotFound)
		assert.Equal(t, 0, c.Len(), "expired entry should be dropped on read")
	})
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.MemoryConfig{MaxEntries: 2}, clockwork.NewFakeClock())

	require.NoError(t, c.Write(ctx, "key1", []byte("1"), time.Time{}))
	require.NoError(t, c.Write(ctx, "key2", []byte("2"), time.Time{}))

	// Touch key1 so key2 becomes the least recently used.
	_, err := c.Fetch(ctx, "key1")
	require.NoError(t, err)

	require.NoError(t, c.Write(ctx, "key3", []byte("3"), time.Time{}))

	_, err = c.Fetch(ctx, "key2")
	assert.ErrorIs(t, err, cache.ErrNotFound, "key2 should have been evicted")
	_, err = c.Fetch(ctx, "key1")
	assert.NoError(t, err)
	_, err = c.Fetch(ctx, "key3")
	assert.NoError(t, err)
}

func TestMemoryCache_Janitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	c := cache.NewMemoryCache(cache.MemoryConfig{CleanupEvery: time.Minute}, clock)
	require.NoError(t, c.Write(ctx, "short", []byte("v"), clock.Now().Add(30*time.Second)))
	require.NoError(t, c.Write(ctx, "forever", []byte("v"), time.Time{}))

	c.StartJanitor(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return c.Len() == 1
	}, time.Second, 10*time.Millisecond, "janitor should evict the expired entry proactively")
	_, err := c.Fetch(ctx, "forever")
	assert.NoError(t, err)
}
