// Package clock provides an injectable time source.
// The cache availability gate and TTL ladder depend on wall-clock arithmetic,
// so every component takes a Clock instead of calling time.Now directly.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by time-dependent components.
type Clock interface {
	Now() time.Time
}

// System returns the real wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Manual is a hand-driven clock for tests. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock frozen at the given instant.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
