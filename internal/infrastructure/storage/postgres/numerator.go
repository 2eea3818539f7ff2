package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"coreapp/internal/core/numerator"
	"coreapp/internal/core/tenant"
)

// Numerator is the durable number generator, backed by the
// sys_sequences table. Runs on the pool, outside the business
// transaction: a rolled-back document burns its number instead of
// serializing concurrent writers on the counter row.
type Numerator struct {
	pool *pgxpool.Pool
}

// NewNumerator creates a generator on the given pool.
func NewNumerator(pool *pgxpool.Pool) *Numerator {
	return &Numerator{pool: pool}
}

// Next reserves the next value with a single upsert, so two writers
// can never observe the same number.
func (n *Numerator) Next(ctx context.Context, cfg numerator.Config, at time.Time) (string, error) {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return "", err
	}

	var value int64
	err = n.pool.QueryRow(ctx, `
		INSERT INTO sys_sequences (tenant_id, series, current_val)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, series)
		DO UPDATE SET current_val = sys_sequences.current_val + 1
		RETURNING current_val
	`, tenantID, numerator.SeriesKey(cfg, at)).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("postgres: next number for %s: %w", cfg.Prefix, err)
	}

	return numerator.Format(cfg, at, value), nil
}

var _ numerator.Generator = (*Numerator)(nil)
