package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/id"
	"coreapp/internal/core/tenant"
	"coreapp/internal/domain"
)

// repository is the staged Repository[T] over one session.
// Version checks mirror the SQL backend's optimistic locking; ordering
// relies on UUIDv7 ids being time-sorted, descending when the filter's
// OrderBy starts with '-'. Search is a substring match over the
// serialized entity.
type repository[T domain.Entity] struct {
	sess *Session
	typ  reflect.Type // pointer type of T
	name string
}

func (r *repository[T]) newEntity() T {
	return reflect.New(r.typ.Elem()).Interface().(T)
}

func (r *repository[T]) decode(data []byte) (T, error) {
	e := r.newEntity()
	if err := json.Unmarshal(data, e); err != nil {
		var zero T
		return zero, fmt.Errorf("memstore: decode %s: %w", r.name, err)
	}
	return e, nil
}

// load reads through staging into committed rows, deleted or not.
func (r *repository[T]) load(tenantID string, entityID id.ID) (T, bool, error) {
	data, ok := r.sess.staged(r.typ, tenantID, entityID)
	if !ok {
		data, ok = r.sess.store.lookup(r.typ, tenantID, entityID)
	}
	if !ok {
		var zero T
		return zero, false, nil
	}
	e, err := r.decode(data)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return e, true, nil
}

func (r *repository[T]) FindByID(ctx context.Context, entityID id.ID) (T, error) {
	var zero T
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return zero, err
	}

	e, ok, err := r.load(tenantID, entityID)
	if err != nil {
		return zero, err
	}
	if !ok || e.IsDeleted() {
		return zero, apperror.NewNotFound(r.name, entityID)
	}
	return e, nil
}

func (r *repository[T]) Add(ctx context.Context, entity T) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}
	if id.IsNil(entity.EntityID()) {
		return apperror.NewValidation("entity id is required")
	}

	if _, exists, err := r.load(tenantID, entity.EntityID()); err != nil {
		return err
	} else if exists {
		return apperror.NewDuplicate(r.name, "id", entity.EntityID().String())
	}

	return r.stage(tenantID, entity)
}

func (r *repository[T]) Update(ctx context.Context, entity T) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}

	current, ok, err := r.load(tenantID, entity.EntityID())
	if err != nil {
		return err
	}
	if !ok || current.IsDeleted() {
		return apperror.NewNotFound(r.name, entity.EntityID())
	}

	// Optimistic lock: the caller must hold the stored version.
	if current.EntityVersion() != entity.EntityVersion() {
		return apperror.NewConcurrentModification(r.name, entity.EntityID())
	}

	entity.Touch()
	return r.stage(tenantID, entity)
}

func (r *repository[T]) Remove(ctx context.Context, entityID id.ID, by, reason string) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}

	e, ok, err := r.load(tenantID, entityID)
	if err != nil {
		return err
	}
	if !ok || e.IsDeleted() {
		return apperror.NewNotFound(r.name, entityID)
	}

	e.MarkDeleted(by, reason)
	e.Touch()
	return r.stage(tenantID, e)
}

func (r *repository[T]) Restore(ctx context.Context, entityID id.ID) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}

	e, ok, err := r.load(tenantID, entityID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NewNotFound(r.name, entityID)
	}
	if !e.IsDeleted() {
		return apperror.NewConflict(fmt.Sprintf("%s is not deleted", r.name))
	}

	e.Restore()
	e.Touch()
	return r.stage(tenantID, e)
}

func (r *repository[T]) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[T], error) {
	var zero domain.ListResult[T]
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return zero, err
	}

	wantIDs := make(map[id.ID]struct{}, len(filter.IDs))
	for _, entityID := range filter.IDs {
		wantIDs[entityID] = struct{}{}
	}

	type row struct {
		entityID id.ID
		data     []byte
	}
	var matched []row
	for entityID, data := range r.sess.view(r.typ, tenantID) {
		if len(wantIDs) > 0 {
			if _, ok := wantIDs[entityID]; !ok {
				continue
			}
		}
		if filter.Search != "" &&
			!strings.Contains(strings.ToLower(string(data)), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, row{entityID: entityID, data: data})
	}

	desc := strings.HasPrefix(filter.OrderBy, "-")
	sort.Slice(matched, func(i, j int) bool {
		less := bytes.Compare(matched[i].entityID[:], matched[j].entityID[:]) < 0
		if desc {
			return !less
		}
		return less
	})

	// Deleted rows are filtered after decode so the flag is authoritative.
	var items []T
	for _, m := range matched {
		e, err := r.decode(m.data)
		if err != nil {
			return zero, err
		}
		if e.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		items = append(items, e)
	}

	total := int64(len(items))
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			items = nil
		} else {
			items = items[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	return domain.ListResult[T]{
		Items:      items,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

func (r *repository[T]) stage(tenantID string, entity T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("memstore: encode %s: %w", r.name, err)
	}
	return r.sess.stage(r.typ, tenantID, entity.EntityID(), data)
}
