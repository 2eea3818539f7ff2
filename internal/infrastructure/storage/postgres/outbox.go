package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coreapp/internal/core/clock"
	"coreapp/internal/core/id"
	"coreapp/internal/domain/event"
	"coreapp/pkg/logger"
)

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxMessage is one row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	EventType     string       `db:"event_type"`
	AggregateType string       `db:"aggregate_type"`
	AggregateID   id.ID        `db:"aggregate_id"`
	Payload       []byte       `db:"payload"`
	TenantID      string       `db:"tenant_id"`
	OccurredAt    time.Time    `db:"occurred_at"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// OutboxSink stores committed events as pending outbox rows. It is the
// durable production sink: once Publish returns nil the events sit in
// sys_outbox and the relay owns their delivery.
type OutboxSink struct {
	pool *pgxpool.Pool
	clk  clock.Clock
	log  *logger.Logger
}

// NewOutboxSink creates a sink writing to sys_outbox.
func NewOutboxSink(pool *pgxpool.Pool, log *logger.Logger, clk clock.Clock) *OutboxSink {
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &OutboxSink{pool: pool, clk: clk, log: log.WithComponent("outbox")}
}

// Publish inserts the batch as pending rows inside one transaction, so
// a batch lands fully or not at all.
func (s *OutboxSink) Publish(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := s.clk.Now().UTC()
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		batch.Queue(`
			INSERT INTO sys_outbox (id, event_type, aggregate_type, aggregate_id, payload, tenant_id, occurred_at, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.EventType, e.AggregateType, e.AggregateID, payload, e.TenantID, e.At, OutboxStatusPending, now)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert outbox message: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close outbox batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outbox transaction: %w", err)
	}
	return nil
}

// RelayHandler delivers one outbox message to its destination.
type RelayHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// RelayHandlerFunc adapts a function to RelayHandler.
type RelayHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

func (f RelayHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error {
	return f(ctx, msg)
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	// BatchSize caps messages claimed per pass (default 100).
	BatchSize int
	// MaxRetries before a message is marked failed (default 5).
	MaxRetries int
	// RetryBackoff is the base of the linear backoff (default 1m):
	// attempt n waits n*RetryBackoff.
	RetryBackoff time.Duration
}

func (c *RelayConfig) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Minute
	}
}

// Relay claims pending outbox rows and hands them to the handler.
// Claiming uses FOR UPDATE SKIP LOCKED inside a transaction, so
// multiple relay workers never process the same message twice.
type Relay struct {
	pool    *pgxpool.Pool
	cfg     RelayConfig
	handler RelayHandler
	clk     clock.Clock
	log     *logger.Logger
}

// NewRelay creates a relay delivering through the handler.
func NewRelay(pool *pgxpool.Pool, cfg RelayConfig, handler RelayHandler, log *logger.Logger, clk clock.Clock) *Relay {
	cfg.withDefaults()
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Relay{pool: pool, cfg: cfg, handler: handler, clk: clk, log: log.WithComponent("outbox_relay")}
}

// ProcessBatch claims one batch of due messages and delivers them.
// Returns the number delivered successfully.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin relay transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	now := r.clk.Now().UTC()
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload, tenant_id, occurred_at,
		       status, retry_count, last_error, next_retry_at, created_at, published_at
		FROM sys_outbox
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, OutboxStatusPending, now, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox messages: %w", err)
	}

	var messages []*OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(
			&msg.ID, &msg.EventType, &msg.AggregateType, &msg.AggregateID,
			&msg.Payload, &msg.TenantID, &msg.OccurredAt,
			&msg.Status, &msg.RetryCount, &msg.LastError,
			&msg.NextRetryAt, &msg.CreatedAt, &msg.PublishedAt,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox message: %w", err)
		}
		messages = append(messages, &msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox messages: %w", err)
	}

	delivered := 0
	for _, msg := range messages {
		if err := r.deliver(ctx, tx, msg); err != nil {
			r.log.WithContext(ctx).Warnw("outbox delivery failed",
				"message_id", msg.ID.String(),
				"event_type", msg.EventType,
				"retry_count", msg.RetryCount,
				"error", err,
			)
			continue
		}
		delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit relay transaction: %w", err)
	}
	return delivered, nil
}

// deliver hands one message to the handler and records the outcome on
// the claimed row.
func (r *Relay) deliver(ctx context.Context, tx pgx.Tx, msg *OutboxMessage) error {
	if err := r.handler.Handle(ctx, msg); err != nil {
		attempt := msg.RetryCount + 1
		nextRetry := r.clk.Now().UTC().Add(time.Duration(attempt) * r.cfg.RetryBackoff)
		errStr := err.Error()

		_, updErr := tx.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = $1,
			    last_error = $2,
			    next_retry_at = $3,
			    status = CASE WHEN $1 >= $4 THEN $5 ELSE status END
			WHERE id = $6
		`, attempt, errStr, nextRetry, r.cfg.MaxRetries, OutboxStatusFailed, msg.ID)
		if updErr != nil {
			return fmt.Errorf("record delivery failure: %w", updErr)
		}
		return err
	}

	now := r.clk.Now().UTC()
	_, err := tx.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, now, msg.ID)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MoveFailedToDLQ moves exhausted messages into sys_outbox_dlq.
func (r *Relay) MoveFailedToDLQ(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1 AND retry_count >= $2
			RETURNING *
		)
		INSERT INTO sys_outbox_dlq
		SELECT *, NOW() AS failed_at FROM moved
	`, OutboxStatusFailed, r.cfg.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("move to dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Run processes batches on the interval until the context is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.ProcessBatch(ctx)
			if err != nil {
				r.log.WithContext(ctx).Errorw("outbox batch failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.WithContext(ctx).Infow("outbox batch delivered", "messages", n)
			}
		}
	}
}
