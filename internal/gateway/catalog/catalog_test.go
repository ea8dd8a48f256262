package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*Cache, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return now })
	return New(store), &now
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	_, ok := cache.Get(ctx, "openai")
	assert.False(t, ok, "empty cache should miss")

	require.NoError(t, cache.Put(ctx, "openai", []string{"gpt-4o", "gpt-4o-mini"}))

	got, ok := cache.Get(ctx, "openai")
	require.True(t, ok)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, got)
}

func TestCacheExpiry(t *testing.T) {
	cache, now := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "anthropic", []string{"claude-3-5-haiku-20241022"}))

	*now = now.Add(TTL - time.Second)
	_, ok := cache.Get(ctx, "anthropic")
	assert.True(t, ok, "entry should still be fresh just before the TTL")

	*now = now.Add(2 * time.Second)
	_, ok = cache.Get(ctx, "anthropic")
	assert.False(t, ok, "entry should expire once the TTL has passed")
}

func TestCacheKeysArePerProvider(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "openai", []string{"gpt-4o-mini"}))
	require.NoError(t, cache.Put(ctx, "openrouter", []string{"openai/gpt-4o-mini"}))

	got, ok := cache.Get(ctx, "openrouter")
	require.True(t, ok)
	assert.Equal(t, []string{"openai/gpt-4o-mini"}, got)
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, ok := cache.Get(ctx, "openai")
	assert.False(t, ok)
	assert.NoError(t, cache.Put(ctx, "openai", []string{"gpt-4o"}))
}
