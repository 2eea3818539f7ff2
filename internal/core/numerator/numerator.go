// Package numerator issues sequential document numbers.
package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coreapp/internal/core/tenant"
)

// Config controls how numbers are built.
type Config struct {
	// Prefix tags the series, e.g. "SO" for sales orders.
	Prefix string

	// PadWidth is the minimum digit count. Zero means 5.
	PadWidth int

	// ResetPeriod is "year", "month" or "never": the window after
	// which the counter restarts. The window always shows up in the
	// formatted number, so numbers stay unique across resets.
	ResetPeriod string
}

// DefaultConfig numbers PREFIX-YEAR-00001, restarting yearly.
func DefaultConfig(prefix string) Config {
	return Config{Prefix: prefix, PadWidth: 5, ResetPeriod: "year"}
}

// Generator issues the next number in a series. Implementations must
// be safe for concurrent use; the durable one lives in the postgres
// package.
type Generator interface {
	Next(ctx context.Context, cfg Config, at time.Time) (string, error)
}

// SeriesKey derives the counter key for a config and date, scoping the
// counter to its reset window.
func SeriesKey(cfg Config, at time.Time) string {
	switch cfg.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s_%s", cfg.Prefix, at.Format("2006_01"))
	case "never":
		return cfg.Prefix
	default:
		return fmt.Sprintf("%s_%s", cfg.Prefix, at.Format("2006"))
	}
}

// Format renders a counter value as a document number.
func Format(cfg Config, at time.Time, n int64) string {
	width := cfg.PadWidth
	if width == 0 {
		width = 5
	}
	switch cfg.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, at.Format("2006-01"), width, n)
	case "never":
		return fmt.Sprintf("%s-%0*d", cfg.Prefix, width, n)
	default:
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, at.Format("2006"), width, n)
	}
}

// MemoryGenerator counts in process memory, per tenant and series.
// Counters do not survive a restart; use the storage-backed generator
// where numbers must be durable.
type MemoryGenerator struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryGenerator creates an empty in-process generator.
func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{counters: make(map[string]int64)}
}

// Next issues the next number for the tenant in ctx.
func (g *MemoryGenerator) Next(ctx context.Context, cfg Config, at time.Time) (string, error) {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return "", err
	}
	key := tenantID + ":" + SeriesKey(cfg, at)

	g.mu.Lock()
	g.counters[key]++
	n := g.counters[key]
	g.mu.Unlock()

	return Format(cfg, at, n), nil
}
