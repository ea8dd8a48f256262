// Package catalog caches backend model listings for a bounded
// interval so repeated GetModels calls do not refetch long-lived
// catalogs. Whether a listing came from the cache or the backend is
// invisible to callers.
package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// TTL bounds how long a cached catalog is served before refetching.
const TTL = time.Hour

// Store is an expiring key/value store. The shared Redis client
// satisfies it; tests and redis-less deployments use MemoryStore.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Cache caches model catalogs per provider.
type Cache struct {
	store Store
}

// New creates a catalog cache on top of a store.
func New(store Store) *Cache {
	return &Cache{store: store}
}

func cacheKey(provider string) string {
	return "models:" + provider
}

// Get returns the cached catalog for a provider, if present and fresh.
func (c *Cache) Get(ctx context.Context, provider string) ([]string, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	val, found, err := c.store.Get(ctx, cacheKey(provider))
	if err != nil || !found {
		return nil, false
	}
	var catalog []string
	if err := json.Unmarshal([]byte(val), &catalog); err != nil {
		return nil, false
	}
	return catalog, true
}

// Put stores a provider's catalog for TTL.
func (c *Cache) Put(ctx context.Context, provider string, catalog []string) error {
	if c == nil || c.store == nil {
		return nil
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		return errors.Wrap(err, "failed to serialize model catalog")
	}
	return c.store.Set(ctx, cacheKey(provider), string(data), TTL)
}

// MemoryStore is an in-process Store with per-key expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryValue
	now     func() time.Time
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryValue),
		now:     time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Get retrieves a value, dropping it when expired.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with a TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = memoryValue{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}
