package uow

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapp/internal/core/clock"
	"coreapp/internal/domain"
	"coreapp/pkg/logger"
)

// spStore hands out spSession instances so savepoint delegation to
// native-capable sessions can be observed.
type spStore struct {
	last *spSession
}

func (s *spStore) Begin(ctx context.Context) (domain.Session, error) {
	s.last = &spSession{}
	return s.last, nil
}

type spSession struct {
	calls   []string
	spErr   error
	rbCalls int
}

func (s *spSession) Repository(entityType reflect.Type) (any, error) {
	return nil, errors.New("not backed by tables")
}

func (s *spSession) Commit(ctx context.Context) error { return nil }

func (s *spSession) Rollback(ctx context.Context) error {
	s.rbCalls++
	return nil
}

func (s *spSession) Savepoint(ctx context.Context, name string) error {
	if s.spErr != nil {
		return s.spErr
	}
	s.calls = append(s.calls, "SAVEPOINT "+name)
	return nil
}

func (s *spSession) RollbackToSavepoint(ctx context.Context, name string) error {
	s.calls = append(s.calls, "ROLLBACK TO "+name)
	return nil
}

func (s *spSession) ReleaseSavepoint(ctx context.Context, name string) error {
	s.calls = append(s.calls, "RELEASE "+name)
	return nil
}

func TestSavepointsDelegateToCapableSession(t *testing.T) {
	store := &spStore{}
	u := New(store, nil, nil, logger.Nop(), clock.System())
	ctx := uowCtx()

	require.NoError(t, u.Begin(ctx))
	require.NoError(t, u.CreateSavepoint(ctx, "sp1"))
	require.NoError(t, u.RollbackToSavepoint(ctx, "sp1"))
	require.NoError(t, u.ReleaseSavepoint(ctx, "sp1"))

	assert.Equal(t, []string{
		"SAVEPOINT sp1",
		"ROLLBACK TO sp1",
		"RELEASE sp1",
	}, store.last.calls)
}

func TestSavepointCreationFailureIsNotRecorded(t *testing.T) {
	store := &spStore{}
	u := New(store, nil, nil, logger.Nop(), clock.System())
	ctx := uowCtx()

	require.NoError(t, u.Begin(ctx))
	store.last.spErr = errors.New("savepoints unavailable")

	err := u.CreateSavepoint(ctx, "sp1")
	require.Error(t, err)

	// The failed savepoint left no bookkeeping behind.
	store.last.spErr = nil
	require.NoError(t, u.CreateSavepoint(ctx, "sp1"))
}

func TestCommitWithoutCacheAndSink(t *testing.T) {
	store := &spStore{}
	u := New(store, nil, nil, logger.Nop(), clock.System())
	ctx := uowCtx()

	require.NoError(t, u.Begin(ctx))
	require.NoError(t, u.Commit(ctx))
	assert.Equal(t, StateCommitted, u.State())
	assert.Zero(t, store.last.rbCalls)
}
