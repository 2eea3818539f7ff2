package postgres

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coreapp/internal/core/clock"
	"coreapp/internal/domain"
	"coreapp/pkg/logger"
)

// Config tunes session behavior.
type Config struct {
	// StatementTimeout bounds every statement inside a session.
	// Zero means the 30s default.
	StatementTimeout time.Duration

	// Clock stamps repository-managed columns. Nil means wall clock.
	Clock clock.Clock
}

const defaultStatementTimeout = 30 * time.Second

// tableBinding is the registration record of one entity type.
type tableBinding struct {
	table      string
	columns    []string
	searchCols []string
	ctor       func(sess *Session) any
}

// Store implements domain.Store over a pgx connection pool. Entity
// types are bound to tables with RegisterTable before use; one Begin
// equals one database transaction.
type Store struct {
	pool    *pgxpool.Pool
	log     *logger.Logger
	clk     clock.Clock
	timeout time.Duration
	tables  map[reflect.Type]*tableBinding
}

// NewStore creates a store over the pool.
func NewStore(pool *pgxpool.Pool, cfg Config, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = defaultStatementTimeout
	}
	return &Store{
		pool:    pool,
		log:     log.WithComponent("postgres"),
		clk:     cfg.Clock,
		timeout: cfg.StatementTimeout,
		tables:  make(map[reflect.Type]*tableBinding),
	}
}

// RegisterTable binds entity type T to a table. Columns come from the
// entity's db tags; searchCols are the text columns List's Search
// matches against. Registration happens at wiring time, before any
// session is opened.
func RegisterTable[T domain.Entity](s *Store, table string, searchCols ...string) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("postgres: entity type must be a struct pointer, got %s", t))
	}

	columns := columnsOf(t)
	if len(columns) == 0 {
		panic(fmt.Sprintf("postgres: entity type %s has no db tags", t))
	}

	b := &tableBinding{
		table:      table,
		columns:    columns,
		searchCols: searchCols,
	}
	b.ctor = func(sess *Session) any {
		return &repository[T]{sess: sess, binding: b, typ: t}
	}
	s.tables[t] = b
}

// Begin opens a transaction-backed session.
func (s *Store) Begin(ctx context.Context) (domain.Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	// SET LOCAL scopes the timeout to this transaction.
	_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.timeout.Milliseconds()))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set statement_timeout: %w", err)
	}

	return &Session{store: s, tx: tx}, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
