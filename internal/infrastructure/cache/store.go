// Package cache provides the resilient cache service: a backing store
// behind a graduated TTL fallback ladder and an availability gate for
// protected operation classes.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a key is absent or expired.
// A not-found is a healthy outcome, not a store failure.
var ErrNotFound = errors.New("cache: key not found")

// Store is the backing store contract. Every call either succeeds or
// fails as a whole; the service layers health tracking on top.
type Store interface {
	// Get returns the raw value or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value with the given TTL. Zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// Flush removes everything this store owns
	Flush(ctx context.Context) error

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error

	// Close releases store resources
	Close() error
}
