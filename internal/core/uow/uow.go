// Package uow implements the unit of work: one storage session, an
// operation log, savepoints, and two deferred side-effect buffers
// (cache invalidations and domain events) that leave the unit only
// after the storage commit succeeded.
package uow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/clock"
	"coreapp/internal/core/id"
	"coreapp/internal/core/tenant"
	"coreapp/internal/domain"
	"coreapp/internal/domain/event"
	"coreapp/pkg/logger"
)

var tracer = otel.Tracer("coreapp/uow")

// CacheInvalidator applies committed invalidation patterns.
// *cache.Service satisfies it.
type CacheInvalidator interface {
	ApplyInvalidations(ctx context.Context, patterns []string) error
}

// OperationLogEntry records one mutating repository call inside the
// active transaction.
type OperationLogEntry struct {
	Repository string
	Method     string
	Params     []any
	At         time.Time
}

// savepoint snapshots the buffer lengths at creation time. Rolling back
// to it truncates the buffers; data rollback is delegated to the session
// when it supports native savepoints.
type savepoint struct {
	name          string
	operations    int
	events        int
	invalidations int
	at            time.Time
}

// UnitOfWork coordinates multi-repository writes with deferred cache
// invalidation and deferred event publication. One instance serves one
// in-flight logical transaction and must not be shared between
// goroutines; concurrent requests each get their own instance.
type UnitOfWork struct {
	store domain.Store
	cache CacheInvalidator
	sink  event.Sink
	clk   clock.Clock
	log   *logger.Logger

	state           State
	session         domain.Session
	repos           map[reflect.Type]any
	opLog           []OperationLogEntry
	events          []event.Event
	invalidations   []string
	invalidationSet map[string]struct{}
	savepoints      []savepoint
	startedAt       time.Time
}

// New creates an idle unit of work. cache and sink may be nil; the
// corresponding commit stage is then skipped.
func New(store domain.Store, cache CacheInvalidator, sink event.Sink, log *logger.Logger, clk clock.Clock) *UnitOfWork {
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &UnitOfWork{
		store:           store,
		cache:           cache,
		sink:            sink,
		clk:             clk,
		log:             log.WithComponent("uow"),
		state:           StateIdle,
		repos:           make(map[reflect.Type]any),
		invalidationSet: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State {
	return u.state
}

// OperationCount returns the number of mutating operations recorded in
// the active transaction.
func (u *UnitOfWork) OperationCount() int {
	return len(u.opLog)
}

// OperationLog returns a copy of the recorded operations.
func (u *UnitOfWork) OperationLog() []OperationLogEntry {
	out := make([]OperationLogEntry, len(u.opLog))
	copy(out, u.opLog)
	return out
}

// PendingEvents returns a copy of the buffered events in creation order.
func (u *UnitOfWork) PendingEvents() []event.Event {
	out := make([]event.Event, len(u.events))
	copy(out, u.events)
	return out
}

// PendingInvalidations returns a copy of the scheduled patterns.
func (u *UnitOfWork) PendingInvalidations() []string {
	out := make([]string, len(u.invalidations))
	copy(out, u.invalidations)
	return out
}

// Begin opens a storage session and activates the unit. Only an idle
// unit can begin; finished units go through Reset first.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.state == StateActive || u.state == StateCommitting {
		return apperror.NewTransactionState("begin", u.state.String())
	}
	if u.state != StateIdle {
		return apperror.NewTransactionState("begin", u.state.String()).
			WithDetail("hint", "call Reset before reusing a finished unit of work")
	}

	session, err := u.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin storage session: %w", err)
	}

	u.session = session
	u.state = StateActive
	u.startedAt = u.clk.Now()
	u.clearBuffers()

	u.log.WithContext(ctx).Debugw("transaction started")
	return nil
}

// ScheduleCacheInvalidation registers a key or "prefix*" pattern to be
// applied after a successful commit. Duplicates collapse; order of first
// appearance is preserved.
func (u *UnitOfWork) ScheduleCacheInvalidation(pattern string) error {
	if err := u.requireActive("schedule cache invalidation"); err != nil {
		return err
	}
	if pattern == "" {
		return apperror.NewValidation("cache invalidation pattern must not be empty")
	}
	if _, seen := u.invalidationSet[pattern]; seen {
		return nil
	}
	u.invalidationSet[pattern] = struct{}{}
	u.invalidations = append(u.invalidations, pattern)
	return nil
}

// PublishDomainEvent buffers an event. Nothing reaches the sink until
// commit; rollback discards the buffer.
func (u *UnitOfWork) PublishDomainEvent(ctx context.Context, eventType, aggregateType string, aggregateID id.ID, payload map[string]any) error {
	if err := u.requireActive("publish domain event"); err != nil {
		return err
	}
	if eventType == "" {
		return apperror.NewValidation("event type must not be empty")
	}

	u.events = append(u.events, event.Event{
		ID:            id.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		TenantID:      tenant.GetTenantID(ctx),
		At:            u.clk.Now().UTC(),
	})
	return nil
}

// CreateSavepoint snapshots the buffers under a unique name. When the
// session supports native savepoints one is created there too.
func (u *UnitOfWork) CreateSavepoint(ctx context.Context, name string) error {
	if err := u.requireActive("create savepoint"); err != nil {
		return err
	}
	if name == "" {
		return apperror.NewValidation("savepoint name must not be empty")
	}
	if u.findSavepoint(name) >= 0 {
		return apperror.NewDuplicate("savepoint", "name", name)
	}

	if sps, ok := u.session.(domain.SavepointSession); ok {
		if err := sps.Savepoint(ctx, name); err != nil {
			return fmt.Errorf("create storage savepoint %q: %w", name, err)
		}
	}

	u.savepoints = append(u.savepoints, savepoint{
		name:          name,
		operations:    len(u.opLog),
		events:        len(u.events),
		invalidations: len(u.invalidations),
		at:            u.clk.Now(),
	})
	return nil
}

// RollbackToSavepoint truncates the operation log, pending events and
// invalidation patterns back to the savepoint. Savepoints created after
// it are dropped; the named savepoint itself survives and can be rolled
// back to again. Data written since the savepoint is rolled back only on
// sessions with native savepoint support.
func (u *UnitOfWork) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := u.requireActive("rollback to savepoint"); err != nil {
		return err
	}
	idx := u.findSavepoint(name)
	if idx < 0 {
		return apperror.NewUnknownSavepoint(name)
	}

	if sps, ok := u.session.(domain.SavepointSession); ok {
		if err := sps.RollbackToSavepoint(ctx, name); err != nil {
			return fmt.Errorf("rollback to storage savepoint %q: %w", name, err)
		}
	}

	sp := u.savepoints[idx]
	u.opLog = u.opLog[:sp.operations]
	u.events = u.events[:sp.events]
	u.truncateInvalidations(sp.invalidations)
	u.savepoints = u.savepoints[:idx+1]

	u.log.WithContext(ctx).Debugw("rolled back to savepoint",
		"savepoint", name,
		"operations", len(u.opLog),
	)
	return nil
}

// ReleaseSavepoint forgets the savepoint and, following savepoint
// semantics, every savepoint created after it. Buffers are untouched.
func (u *UnitOfWork) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := u.requireActive("release savepoint"); err != nil {
		return err
	}
	idx := u.findSavepoint(name)
	if idx < 0 {
		return apperror.NewUnknownSavepoint(name)
	}

	if sps, ok := u.session.(domain.SavepointSession); ok {
		if err := sps.ReleaseSavepoint(ctx, name); err != nil {
			return fmt.Errorf("release storage savepoint %q: %w", name, err)
		}
	}

	u.savepoints = u.savepoints[:idx]
	return nil
}

// Commit finalizes the transaction: the storage session commit is the
// durability point, then invalidations are flushed to the cache, then
// events are handed to the sink in creation order. A storage failure
// rolls everything back. A failure after the storage commit returns
// CommitPartialFailure so callers know data is durable but coordination
// is incomplete.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.state != StateActive {
		return apperror.NewTransactionState("commit", u.state.String())
	}
	u.state = StateCommitting

	operations := len(u.opLog)
	started := u.startedAt

	if err := u.session.Commit(ctx); err != nil {
		// Nothing is durable. Roll back the session with a background
		// context so a cancelled request cannot leak the transaction.
		if rbErr := u.session.Rollback(context.Background()); rbErr != nil {
			u.log.WithContext(ctx).Errorw("rollback after failed commit failed", "error", rbErr)
		}
		u.state = StateRolledBack
		u.clearBuffers()
		return fmt.Errorf("commit storage session: %w", err)
	}

	if u.cache != nil && len(u.invalidations) > 0 {
		if err := u.cache.ApplyInvalidations(ctx, u.invalidations); err != nil {
			return u.failAfterDurable(ctx, "cache_invalidation", err)
		}
	}

	if u.sink != nil && len(u.events) > 0 {
		if err := u.sink.Publish(ctx, u.events); err != nil {
			return u.failAfterDurable(ctx, "event_handoff", err)
		}
	}

	u.state = StateCommitted
	u.log.WithContext(ctx).Infow("transaction committed",
		"operations", operations,
		"events", len(u.events),
		"invalidations", len(u.invalidations),
		"duration", u.clk.Now().Sub(started).String(),
	)
	u.clearBuffers()
	return nil
}

// failAfterDurable handles a post-durability commit failure: the data is
// committed, the remaining side effects are not. The unit performs its
// rollback bookkeeping and reports what was left unrealized.
func (u *UnitOfWork) failAfterDurable(ctx context.Context, stage string, cause error) error {
	appErr := apperror.NewCommitPartialFailure(stage, cause).
		WithDetail("operations_durable", len(u.opLog)).
		WithDetail("invalidations_unapplied", u.unappliedInvalidations(stage)).
		WithDetail("events_unpublished", len(u.events))

	u.log.WithContext(ctx).Errorw("commit partially failed after durable write",
		"stage", stage,
		"error", cause,
		"operations", len(u.opLog),
	)

	u.state = StateRolledBack
	u.clearBuffers()
	return appErr
}

func (u *UnitOfWork) unappliedInvalidations(stage string) int {
	if stage == "cache_invalidation" {
		return len(u.invalidations)
	}
	return 0
}

// Rollback discards the transaction: the session is rolled back and all
// buffers are dropped without contacting the cache or the sink.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.state != StateActive {
		return apperror.NewTransactionState("rollback", u.state.String())
	}

	// Background context so rollback completes even when the request
	// context is already cancelled.
	err := u.session.Rollback(context.Background())
	u.state = StateRolledBack

	u.log.WithContext(ctx).Debugw("transaction rolled back",
		"operations_discarded", len(u.opLog),
		"events_discarded", len(u.events),
		"invalidations_discarded", len(u.invalidations),
	)
	u.clearBuffers()

	if err != nil {
		return fmt.Errorf("rollback storage session: %w", err)
	}
	return nil
}

// Execute is the sanctioned wrapper: Begin, run fn, Commit on success,
// Rollback and propagate on error.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) error {
	ctx, span := tracer.Start(ctx, "uow.transaction")
	defer span.End()

	if err := u.Begin(ctx); err != nil {
		return err
	}

	if err := fn(ctx, u); err != nil {
		if rbErr := u.Rollback(ctx); rbErr != nil {
			u.log.WithContext(ctx).Errorw("rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	return u.Commit(ctx)
}

// ExecuteBatch runs every fn inside one transaction in input order.
// The first error aborts the batch and rolls everything back.
func (u *UnitOfWork) ExecuteBatch(ctx context.Context, fns []func(ctx context.Context, u *UnitOfWork) error) error {
	return u.Execute(ctx, func(ctx context.Context, u *UnitOfWork) error {
		for i, fn := range fns {
			if err := fn(ctx, u); err != nil {
				return fmt.Errorf("batch step %d: %w", i, err)
			}
		}
		return nil
	})
}

// Reset returns the unit to Idle for pooled reuse. An active session is
// rolled back first so reuse cannot leak storage transactions.
func (u *UnitOfWork) Reset() {
	if u.session != nil && (u.state == StateActive || u.state == StateCommitting) {
		_ = u.session.Rollback(context.Background())
	}
	u.session = nil
	u.state = StateIdle
	u.startedAt = time.Time{}
	u.clearBuffers()
}

func (u *UnitOfWork) requireActive(operation string) error {
	if u.state != StateActive {
		return apperror.NewTransactionState(operation, u.state.String())
	}
	return nil
}

func (u *UnitOfWork) recordOperation(repository, method string, params []any) {
	u.opLog = append(u.opLog, OperationLogEntry{
		Repository: repository,
		Method:     method,
		Params:     params,
		At:         u.clk.Now(),
	})
}

func (u *UnitOfWork) findSavepoint(name string) int {
	for i, sp := range u.savepoints {
		if sp.name == name {
			return i
		}
	}
	return -1
}

func (u *UnitOfWork) truncateInvalidations(n int) {
	dropped := u.invalidations[n:]
	for _, p := range dropped {
		delete(u.invalidationSet, p)
	}
	u.invalidations = u.invalidations[:n]
}

func (u *UnitOfWork) clearBuffers() {
	u.opLog = u.opLog[:0]
	u.events = u.events[:0]
	u.invalidations = u.invalidations[:0]
	clear(u.invalidationSet)
	u.savepoints = u.savepoints[:0]
	clear(u.repos)
}
