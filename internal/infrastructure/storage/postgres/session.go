package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
)

// Session is one database transaction. It supports native savepoints,
// so a unit of work rolling back to a savepoint also rolls back the
// data written since.
type Session struct {
	store *Store
	tx    pgx.Tx
}

// Repository returns the repository bound to the entity type's table.
func (s *Session) Repository(entityType reflect.Type) (any, error) {
	b, ok := s.store.tables[entityType]
	if !ok {
		return nil, fmt.Errorf("postgres: entity type %s is not registered", entityType)
	}
	return b.ctor(s), nil
}

// Commit commits the transaction.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls the transaction back. Calling it after Commit or a
// previous Rollback is a no-op, which lets callers defer it blindly.
func (s *Session) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// Savepoint creates a named savepoint in the transaction.
func (s *Session) Savepoint(ctx context.Context, name string) error {
	_, err := s.tx.Exec(ctx, "SAVEPOINT "+quoteIdent(name))
	if err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	return nil
}

// RollbackToSavepoint rolls data back to the named savepoint. The
// savepoint itself survives, matching SQL semantics.
func (s *Session) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := s.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdent(name))
	if err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	return nil
}

// ReleaseSavepoint releases the named savepoint.
func (s *Session) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := s.tx.Exec(ctx, "RELEASE SAVEPOINT "+quoteIdent(name))
	if err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// quoteIdent quotes a savepoint name as a SQL identifier; names come
// from callers and must not reach the statement raw.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
