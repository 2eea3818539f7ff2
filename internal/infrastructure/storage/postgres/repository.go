package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/id"
	"coreapp/internal/core/tenant"
	"coreapp/internal/domain"
)

const pgUniqueViolation = "23505"

// repository is the table-backed Repository[T] over one session.
// Tenant isolation is row-level: every statement carries the tenant_id
// from the context, and the column is repository-managed, never taken
// from the entity.
type repository[T domain.Entity] struct {
	sess    *Session
	binding *tableBinding
	typ     reflect.Type // pointer type of T
}

func (r *repository[T]) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *repository[T]) newEntity() T {
	return reflect.New(r.typ.Elem()).Interface().(T)
}

func (r *repository[T]) baseSelect(tenantID string) squirrel.SelectBuilder {
	return r.builder().
		Select(r.binding.columns...).
		From(r.binding.table).
		Where(squirrel.Eq{"tenant_id": tenantID})
}

func (r *repository[T]) FindByID(ctx context.Context, entityID id.ID) (T, error) {
	var zero T
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return zero, err
	}

	entity := r.newEntity()
	q := r.baseSelect(tenantID).
		Where(squirrel.Eq{"id": entityID, "deleted": false}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return zero, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.sess.tx, entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return zero, apperror.NewNotFound(r.binding.table, entityID)
		}
		return zero, fmt.Errorf("get %s by id: %w", r.binding.table, err)
	}
	return entity, nil
}

func (r *repository[T]) Add(ctx context.Context, entity T) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}
	if id.IsNil(entity.EntityID()) {
		return apperror.NewValidation("entity id is required")
	}

	data := r.rowValues(entity)
	data["tenant_id"] = tenantID

	sql, args, err := r.builder().
		Insert(r.binding.table).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.sess.tx.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.NewDuplicate(r.binding.table, "id", entity.EntityID().String())
		}
		return fmt.Errorf("insert %s: %w", r.binding.table, err)
	}
	return nil
}

func (r *repository[T]) Update(ctx context.Context, entity T) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}

	expected := entity.EntityVersion()
	data := r.rowValues(entity)

	// id, version and tenant_id are repository-managed.
	delete(data, "id")
	delete(data, "version")
	delete(data, "tenant_id")
	if _, ok := data["updated_at"]; ok {
		data["updated_at"] = r.sess.store.clk.Now().UTC()
	}

	q := r.builder().
		Update(r.binding.table).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{
			"id":        entity.EntityID(),
			"tenant_id": tenantID,
			"version":   expected,
			"deleted":   false,
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.sess.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.binding.table, err)
	}
	if tag.RowsAffected() == 0 {
		live, err := r.exists(ctx, tenantID, entity.EntityID(), false)
		if err != nil {
			return err
		}
		if !live {
			return apperror.NewNotFound(r.binding.table, entity.EntityID())
		}
		return apperror.NewConcurrentModification(r.binding.table, entity.EntityID())
	}

	entity.SetVersion(expected + 1)
	return nil
}

func (r *repository[T]) Remove(ctx context.Context, entityID id.ID, by, reason string) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}

	q := r.builder().
		Update(r.binding.table).
		Set("deleted", true).
		Set("deleted_at", r.sess.store.clk.Now().UTC()).
		Set("deleted_by", by).
		Set("delete_reason", reason).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{
			"id":        entityID,
			"tenant_id": tenantID,
			"deleted":   false,
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build soft delete: %w", err)
	}

	tag, err := r.sess.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", r.binding.table, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(r.binding.table, entityID)
	}
	return nil
}

func (r *repository[T]) Restore(ctx context.Context, entityID id.ID) error {
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return err
	}

	q := r.builder().
		Update(r.binding.table).
		Set("deleted", false).
		Set("deleted_at", nil).
		Set("deleted_by", "").
		Set("delete_reason", "").
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{
			"id":        entityID,
			"tenant_id": tenantID,
			"deleted":   true,
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build restore: %w", err)
	}

	tag, err := r.sess.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("restore %s: %w", r.binding.table, err)
	}
	if tag.RowsAffected() == 0 {
		live, err := r.exists(ctx, tenantID, entityID, false)
		if err != nil {
			return err
		}
		if live {
			return apperror.NewConflict(fmt.Sprintf("%s is not deleted", r.binding.table))
		}
		return apperror.NewNotFound(r.binding.table, entityID)
	}
	return nil
}

func (r *repository[T]) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[T], error) {
	var zero domain.ListResult[T]
	tenantID, err := tenant.RequireTenantID(ctx)
	if err != nil {
		return zero, err
	}

	result := domain.ListResult[T]{
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}

	q := r.baseSelect(tenantID)
	if !filter.IncludeDeleted {
		q = q.Where(squirrel.Eq{"deleted": false})
	}
	if filter.Search != "" && len(r.binding.searchCols) > 0 {
		pattern := "%" + filter.Search + "%"
		or := make(squirrel.Or, 0, len(r.binding.searchCols))
		for _, col := range r.binding.searchCols {
			or = append(or, squirrel.ILike{col: pattern})
		}
		q = q.Where(or)
	}
	if len(filter.IDs) > 0 {
		q = q.Where(squirrel.Eq{"id": filter.IDs})
	}

	// Count before pagination.
	countSQL, countArgs, err := r.builder().
		Select("COUNT(*)").
		FromSelect(q, "sub").
		ToSql()
	if err != nil {
		return zero, fmt.Errorf("build count query: %w", err)
	}
	if err := r.sess.tx.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return zero, fmt.Errorf("count %s: %w", r.binding.table, err)
	}

	orderBy, err := r.parseOrderBy(filter.OrderBy)
	if err != nil {
		return zero, err
	}
	q = q.OrderBy(orderBy)

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return zero, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.sess.tx, &result.Items, sql, args...); err != nil {
		return zero, fmt.Errorf("list %s: %w", r.binding.table, err)
	}
	return result, nil
}

// rowValues extracts the entity's insertable columns, restricted to the
// registered column set.
func (r *repository[T]) rowValues(entity T) map[string]any {
	data := rowMap(entity)
	out := make(map[string]any, len(r.binding.columns))
	for _, col := range r.binding.columns {
		if val, ok := data[col]; ok {
			out[col] = val
		}
	}
	return out
}

// exists reports whether the row is present; includeDeleted widens the
// check to soft-deleted rows.
func (r *repository[T]) exists(ctx context.Context, tenantID string, entityID id.ID, includeDeleted bool) (bool, error) {
	q := r.builder().
		Select("1").
		From(r.binding.table).
		Where(squirrel.Eq{"id": entityID, "tenant_id": tenantID}).
		Limit(1)
	if !includeDeleted {
		q = q.Where(squirrel.Eq{"deleted": false})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.sess.tx.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", r.binding.table, err)
	}
	return true, nil
}

// parseOrderBy validates the order field against the registered columns.
// A "-" prefix flips direction. UUIDv7 ids sort by creation time, so
// created_at ordering falls back to id when the table has no such column.
func (r *repository[T]) parseOrderBy(orderBy string) (string, error) {
	if orderBy == "" {
		return "id ASC", nil
	}

	direction := "ASC"
	field := orderBy
	if strings.HasPrefix(orderBy, "-") {
		direction = "DESC"
		field = strings.TrimPrefix(orderBy, "-")
	} else if strings.HasPrefix(orderBy, "+") {
		field = strings.TrimPrefix(orderBy, "+")
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return "", apperror.NewValidation("invalid orderBy").WithDetail("orderBy", orderBy)
	}

	allowed := make(map[string]struct{}, len(r.binding.columns))
	for _, col := range r.binding.columns {
		allowed[col] = struct{}{}
	}
	if _, ok := allowed[field]; !ok {
		if field == "created_at" {
			return "id " + direction, nil
		}
		return "", apperror.NewValidation("invalid orderBy").
			WithDetail("orderBy", orderBy).
			WithDetail("field", field)
	}
	return field + " " + direction, nil
}
