package uow

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/clock"
	"coreapp/internal/core/entity"
	"coreapp/internal/core/id"
	"coreapp/internal/core/tenant"
	"coreapp/internal/domain"
	"coreapp/internal/domain/event"
	"coreapp/internal/infrastructure/storage/memstore"
	"coreapp/pkg/logger"
)

type customer struct {
	entity.BaseEntity
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newCustomer(name string) *customer {
	return &customer{
		BaseEntity: entity.NewBaseEntity(),
		Name:       name,
		Email:      name + "@example.com",
	}
}

// cacheRecorder records invalidation batches and can be told to fail.
type cacheRecorder struct {
	applied  [][]string
	failWith error
}

func (c *cacheRecorder) ApplyInvalidations(ctx context.Context, patterns []string) error {
	if c.failWith != nil {
		return c.failWith
	}
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	c.applied = append(c.applied, cp)
	return nil
}

type fixture struct {
	store *memstore.Store
	cache *cacheRecorder
	sink  *event.MemorySink
	unit  *UnitOfWork
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.NewStore()
	memstore.Register[*customer](store)
	cache := &cacheRecorder{}
	sink := event.NewMemorySink()
	return &fixture{
		store: store,
		cache: cache,
		sink:  sink,
		unit:  New(store, cache, sink, logger.Nop(), clock.System()),
	}
}

func uowCtx() context.Context {
	return tenant.WithTenantID(context.Background(), "acme")
}

func TestBeginOnActiveFails(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	err := f.unit.Begin(ctx)
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))
	assert.Equal(t, StateActive, f.unit.State())
}

func TestBeginAfterCommitNeedsReset(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	require.NoError(t, f.unit.Commit(ctx))
	assert.Equal(t, StateCommitted, f.unit.State())

	err := f.unit.Begin(ctx)
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Details, "hint")

	f.unit.Reset()
	assert.Equal(t, StateIdle, f.unit.State())
	assert.NoError(t, f.unit.Begin(ctx))
}

func TestCommitRequiresActive(t *testing.T) {
	f := newFixture(t)
	err := f.unit.Commit(uowCtx())
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))
}

func TestRollbackRequiresActive(t *testing.T) {
	f := newFixture(t)
	err := f.unit.Rollback(uowCtx())
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))
}

func TestBufferingRequiresActive(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	_, err := RepositoryFor[*customer](f.unit)
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))

	err = f.unit.ScheduleCacheInvalidation("customers:*")
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))

	err = f.unit.PublishDomainEvent(ctx, "customer.created", "customer", id.New(), nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeTransactionState))
}

func TestRepositoryHandleMemoized(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	first, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)
	second, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)
	assert.Same(t, first.(*trackedRepository[*customer]), second.(*trackedRepository[*customer]))
}

func TestEventsReachSinkOnlyOnCommitInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	aggID := id.New()
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.created", "customer", aggID, map[string]any{"name": "a"}))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.updated", "customer", aggID, nil))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.archived", "customer", aggID, nil))

	assert.Empty(t, f.sink.Events())
	assert.Len(t, f.unit.PendingEvents(), 3)

	require.NoError(t, f.unit.Commit(ctx))

	published := f.sink.Events()
	require.Len(t, published, 3)
	assert.Equal(t, "customer.created", published[0].EventType)
	assert.Equal(t, "customer.updated", published[1].EventType)
	assert.Equal(t, "customer.archived", published[2].EventType)
	assert.Equal(t, "acme", published[0].TenantID)
	assert.Equal(t, aggID, published[0].AggregateID)
}

func TestRollbackDiscardsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	repo, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)

	c := newCustomer("bob")
	require.NoError(t, repo.Add(ctx, c))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.created", "customer", c.ID, nil))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:*"))

	require.NoError(t, f.unit.Rollback(ctx))
	assert.Equal(t, StateRolledBack, f.unit.State())
	assert.Empty(t, f.sink.Events())
	assert.Empty(t, f.cache.applied)
	assert.Zero(t, f.unit.OperationCount())

	// Nothing reached the store.
	assertNotStored(t, f.store, c.ID)
}

// assertNotStored opens a fresh session and expects the id to be absent.
func assertNotStored(t *testing.T, store *memstore.Store, entityID id.ID) {
	t.Helper()
	ctx := uowCtx()
	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	raw, err := sess.Repository(reflect.TypeOf((*customer)(nil)))
	require.NoError(t, err)
	_, err = raw.(domain.Repository[*customer]).FindByID(ctx, entityID)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestInvalidationsDedupePreservingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:1"))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:*"))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:1"))

	assert.Equal(t, []string{"customers:1", "customers:*"}, f.unit.PendingInvalidations())
	assert.Empty(t, f.cache.applied)

	require.NoError(t, f.unit.Commit(ctx))
	require.Len(t, f.cache.applied, 1)
	assert.Equal(t, []string{"customers:1", "customers:*"}, f.cache.applied[0])
}

func TestEmptyPatternRejected(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	err := f.unit.ScheduleCacheInvalidation("")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestSavepointRollbackTruncatesBuffers(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	repo, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)

	require.NoError(t, repo.Add(ctx, newCustomer("kept")))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.created", "customer", id.New(), nil))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:kept"))

	require.NoError(t, f.unit.CreateSavepoint(ctx, "sp1"))

	require.NoError(t, repo.Add(ctx, newCustomer("dropped")))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.created", "customer", id.New(), nil))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:dropped"))

	require.NoError(t, f.unit.RollbackToSavepoint(ctx, "sp1"))

	assert.Equal(t, 1, f.unit.OperationCount())
	assert.Len(t, f.unit.PendingEvents(), 1)
	assert.Equal(t, []string{"customers:kept"}, f.unit.PendingInvalidations())

	// The savepoint survives its own rollback and can be reused.
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:again"))
	require.NoError(t, f.unit.RollbackToSavepoint(ctx, "sp1"))
	assert.Equal(t, []string{"customers:kept"}, f.unit.PendingInvalidations())

	// A pattern dropped by savepoint rollback can be scheduled again.
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:dropped"))
	assert.Equal(t, []string{"customers:kept", "customers:dropped"}, f.unit.PendingInvalidations())
}

func TestRollbackToUnknownSavepoint(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	err := f.unit.RollbackToSavepoint(ctx, "missing")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownSavepoint))
}

func TestReleaseSavepointDropsLaterOnes(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	require.NoError(t, f.unit.CreateSavepoint(ctx, "outer"))
	require.NoError(t, f.unit.CreateSavepoint(ctx, "inner"))

	require.NoError(t, f.unit.ReleaseSavepoint(ctx, "outer"))

	err := f.unit.RollbackToSavepoint(ctx, "inner")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownSavepoint))
	err = f.unit.RollbackToSavepoint(ctx, "outer")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnknownSavepoint))
}

func TestDuplicateSavepointName(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	require.NoError(t, f.unit.CreateSavepoint(ctx, "sp"))
	err := f.unit.CreateSavepoint(ctx, "sp")
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))
}

func TestCommitPartialFailureOnCache(t *testing.T) {
	f := newFixture(t)
	f.cache.failWith = errors.New("redis gone")
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	repo, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)
	c := newCustomer("durable")
	require.NoError(t, repo.Add(ctx, c))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:*"))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.created", "customer", c.ID, nil))

	err = f.unit.Commit(ctx)
	require.Error(t, err)
	assert.True(t, apperror.IsCommitPartialFailure(err))
	assert.Equal(t, StateRolledBack, f.unit.State())

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "cache_invalidation", appErr.Details["failed_stage"])
	assert.Equal(t, 1, appErr.Details["operations_durable"])
	assert.Equal(t, 1, appErr.Details["invalidations_unapplied"])
	assert.Equal(t, 1, appErr.Details["events_unpublished"])

	// Storage committed before the failure, so the write is durable.
	sess, err := f.store.Begin(ctx)
	require.NoError(t, err)
	raw, err := sess.Repository(reflect.TypeOf((*customer)(nil)))
	require.NoError(t, err)
	got, err := raw.(domain.Repository[*customer]).FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Name)

	// Events never reached the sink.
	assert.Empty(t, f.sink.Events())
}

func TestCommitPartialFailureOnSink(t *testing.T) {
	f := newFixture(t)
	f.sink.FailWith = errors.New("broker down")
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	require.NoError(t, f.unit.ScheduleCacheInvalidation("customers:*"))
	require.NoError(t, f.unit.PublishDomainEvent(ctx, "customer.created", "customer", id.New(), nil))

	err := f.unit.Commit(ctx)
	require.Error(t, err)
	assert.True(t, apperror.IsCommitPartialFailure(err))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "event_handoff", appErr.Details["failed_stage"])
	assert.Equal(t, 0, appErr.Details["invalidations_unapplied"])
	assert.Equal(t, 1, appErr.Details["events_unpublished"])

	// Invalidations were applied before the sink failed.
	require.Len(t, f.cache.applied, 1)
}

func TestExecuteCommitsOnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	c := newCustomer("alice")
	err := f.unit.Execute(ctx, func(ctx context.Context, u *UnitOfWork) error {
		repo, err := RepositoryFor[*customer](u)
		if err != nil {
			return err
		}
		if err := repo.Add(ctx, c); err != nil {
			return err
		}
		return u.PublishDomainEvent(ctx, "customer.created", "customer", c.ID, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, f.unit.State())
	assert.Len(t, f.sink.Events(), 1)
}

func TestExecuteRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()
	boom := errors.New("boom")

	c := newCustomer("ghost")
	err := f.unit.Execute(ctx, func(ctx context.Context, u *UnitOfWork) error {
		repo, err := RepositoryFor[*customer](u)
		if err != nil {
			return err
		}
		if err := repo.Add(ctx, c); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateRolledBack, f.unit.State())
	assert.Empty(t, f.sink.Events())
	assertNotStored(t, f.store, c.ID)
}

func TestExecuteBatchAbortsOnFirstError(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()
	boom := errors.New("step failed")

	first := newCustomer("first")
	err := f.unit.ExecuteBatch(ctx, []func(ctx context.Context, u *UnitOfWork) error{
		func(ctx context.Context, u *UnitOfWork) error {
			repo, err := RepositoryFor[*customer](u)
			if err != nil {
				return err
			}
			return repo.Add(ctx, first)
		},
		func(ctx context.Context, u *UnitOfWork) error {
			return boom
		},
		func(ctx context.Context, u *UnitOfWork) error {
			t.Fatal("third step must not run")
			return nil
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "batch step 1")
	assertNotStored(t, f.store, first.ID)
}

func TestOperationLogRecordsMutationsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	repo, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)

	c := newCustomer("dana")
	require.NoError(t, repo.Add(ctx, c))

	_, err = repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	_, err = repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)

	c.Name = "dana2"
	require.NoError(t, repo.Update(ctx, c))
	require.NoError(t, repo.Remove(ctx, c.ID, "ops", "cleanup"))

	log := f.unit.OperationLog()
	require.Len(t, log, 3)
	assert.Equal(t, "Add", log[0].Method)
	assert.Equal(t, "Update", log[1].Method)
	assert.Equal(t, "Remove", log[2].Method)
	assert.Equal(t, "uow.customer", log[0].Repository)
	assert.Equal(t, []any{c.ID, "ops", "cleanup"}, log[2].Params)
}

func TestFailedMutationNotRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	repo, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)

	err = repo.Update(ctx, newCustomer("missing"))
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
	assert.Zero(t, f.unit.OperationCount())
}

func TestFactoryReuseStartsClean(t *testing.T) {
	f := newFixture(t)
	factory := NewFactory(f.store, f.cache, f.sink, logger.Nop(), clock.System())
	ctx := uowCtx()

	u := factory.Acquire()
	require.NoError(t, u.Begin(ctx))
	require.NoError(t, u.ScheduleCacheInvalidation("customers:*"))
	require.NoError(t, u.PublishDomainEvent(ctx, "customer.created", "customer", id.New(), nil))
	factory.Release(u)

	reused := factory.Acquire()
	assert.Equal(t, StateIdle, reused.State())
	assert.Empty(t, reused.PendingEvents())
	assert.Empty(t, reused.PendingInvalidations())
	assert.Zero(t, reused.OperationCount())

	// The leaked active session was rolled back on release.
	assert.Empty(t, f.sink.Events())
	assert.Empty(t, f.cache.applied)
}

func TestResetRollsBackActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := uowCtx()

	require.NoError(t, f.unit.Begin(ctx))
	repo, err := RepositoryFor[*customer](f.unit)
	require.NoError(t, err)
	c := newCustomer("leaky")
	require.NoError(t, repo.Add(ctx, c))

	f.unit.Reset()
	assert.Equal(t, StateIdle, f.unit.State())
	assertNotStored(t, f.store, c.ID)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "committing", StateCommitting.String())
	assert.Equal(t, "committed", StateCommitted.String())
	assert.Equal(t, "rolled_back", StateRolledBack.String())
}
