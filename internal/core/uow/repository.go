package uow

import (
	"context"
	"fmt"
	"reflect"

	"coreapp/internal/core/id"
	"coreapp/internal/domain"
)

// RepositoryFor returns the tracked repository handle for entity type T,
// bound to the current transaction's session. Handles are memoized per
// type: repeated calls inside one transaction return the same handle.
// Go methods cannot carry type parameters, so this is a package-level
// function instead of a UnitOfWork method.
func RepositoryFor[T domain.Entity](u *UnitOfWork) (domain.Repository[T], error) {
	if err := u.requireActive("acquire repository"); err != nil {
		return nil, err
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	if handle, ok := u.repos[t]; ok {
		return handle.(domain.Repository[T]), nil
	}

	raw, err := u.session.Repository(t)
	if err != nil {
		return nil, err
	}
	inner, ok := raw.(domain.Repository[T])
	if !ok {
		return nil, fmt.Errorf("uow: session returned %T, want Repository[%s]", raw, t)
	}

	tracked := &trackedRepository[T]{u: u, inner: inner, name: repositoryName(t)}
	u.repos[t] = tracked
	return tracked, nil
}

// repositoryName derives the op-log repository name from the entity type.
func repositoryName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// trackedRepository decorates the session repository: every call
// requires an active transaction and every mutation lands in the
// operation log.
type trackedRepository[T domain.Entity] struct {
	u     *UnitOfWork
	inner domain.Repository[T]
	name  string
}

func (r *trackedRepository[T]) FindByID(ctx context.Context, entityID id.ID) (T, error) {
	var zero T
	if err := r.u.requireActive("FindByID"); err != nil {
		return zero, err
	}
	return r.inner.FindByID(ctx, entityID)
}

func (r *trackedRepository[T]) Add(ctx context.Context, entity T) error {
	if err := r.u.requireActive("Add"); err != nil {
		return err
	}
	if err := r.inner.Add(ctx, entity); err != nil {
		return err
	}
	r.u.recordOperation(r.name, "Add", []any{entity.EntityID()})
	return nil
}

func (r *trackedRepository[T]) Update(ctx context.Context, entity T) error {
	if err := r.u.requireActive("Update"); err != nil {
		return err
	}
	if err := r.inner.Update(ctx, entity); err != nil {
		return err
	}
	r.u.recordOperation(r.name, "Update", []any{entity.EntityID()})
	return nil
}

func (r *trackedRepository[T]) Remove(ctx context.Context, entityID id.ID, by, reason string) error {
	if err := r.u.requireActive("Remove"); err != nil {
		return err
	}
	if err := r.inner.Remove(ctx, entityID, by, reason); err != nil {
		return err
	}
	r.u.recordOperation(r.name, "Remove", []any{entityID, by, reason})
	return nil
}

func (r *trackedRepository[T]) Restore(ctx context.Context, entityID id.ID) error {
	if err := r.u.requireActive("Restore"); err != nil {
		return err
	}
	if err := r.inner.Restore(ctx, entityID); err != nil {
		return err
	}
	r.u.recordOperation(r.name, "Restore", []any{entityID})
	return nil
}

func (r *trackedRepository[T]) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[T], error) {
	if err := r.u.requireActive("List"); err != nil {
		return domain.ListResult[T]{}, err
	}
	return r.inner.List(ctx, filter)
}
