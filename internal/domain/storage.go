package domain

import (
	"context"
	"reflect"
)

// Store opens storage sessions. One session backs one unit of work.
type Store interface {
	// Begin opens a new session. The session owns all staged writes until
	// Commit makes them durable or Rollback discards them.
	Begin(ctx context.Context) (Session, error)
}

// Session is a transactional view of the store. Repositories obtained from
// a session stage writes into it; Commit is the single durability point.
type Session interface {
	// Repository returns the repository for the given entity type,
	// typed as Repository[T] behind any. Callers go through
	// uow.RepositoryFor which performs the typed assertion.
	Repository(entityType reflect.Type) (any, error)

	// Commit makes all staged writes durable.
	Commit(ctx context.Context) error

	// Rollback discards all staged writes. Safe to call after a failed
	// Commit; must be idempotent.
	Rollback(ctx context.Context) error
}

// SavepointSession is implemented by sessions with native savepoint support.
// Sessions without it still participate in savepoints: the unit of work
// truncates its own buffers and only delegates data rollback when the
// session can actually do it.
type SavepointSession interface {
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}
