package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store. Used for development, single-node
// deployments and the service's own tests.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore creates a memory store. Expired entries are purged
// every cleanupInterval; pass 0 for the one-minute default.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	// Copy: the caller may reuse the slice after Set returns.
	buf := make([]byte, len(value))
	copy(buf, value)
	m.c.Set(key, buf, ttl)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

func (m *MemoryStore) Flush(ctx context.Context) error {
	m.c.Flush()
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	m.c.Flush()
	return nil
}
