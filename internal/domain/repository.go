// Package domain provides core business contracts: entities, repositories
// and the storage session boundary.
package domain

import (
	"context"

	"coreapp/internal/core/id"
)

// Entity is the minimal surface the storage layer needs from any entity.
// *entity.BaseEntity satisfies it through embedding.
type Entity interface {
	EntityID() id.ID
	EntityVersion() int
	IsDeleted() bool
	Touch()
	SetVersion(v int)
	MarkDeleted(by, reason string)
	Restore()
}

// --- Filter & Pagination ---

// ListFilter contains common filtering options for list operations.
type ListFilter struct {
	// Search performs substring search on searchable fields
	Search string

	// IDs filters by specific IDs
	IDs []id.ID

	// IncludeDeleted includes soft-deleted records
	IncludeDeleted bool

	// OrderBy specifies sorting (e.g., "number", "-created_at")
	OrderBy string

	// Pagination
	Limit  int
	Offset int
}

// DefaultListFilter returns sensible defaults.
func DefaultListFilter() ListFilter {
	return ListFilter{
		Limit:   50,
		OrderBy: "created_at",
	}
}

// ListResult contains paginated results.
type ListResult[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// --- Repository contract ---

// Repository defines the operations every entity repository exposes.
// All operations are tenant-scoped through the context. None of them
// finalize durability: writes become durable only when the owning storage
// session commits.
type Repository[T Entity] interface {
	// FindByID retrieves entity by ID.
	// Missing and soft-deleted entities yield apperror.CodeNotFound.
	FindByID(ctx context.Context, id id.ID) (T, error)

	// Add inserts a new entity
	Add(ctx context.Context, entity T) error

	// Update modifies existing entity (with optimistic locking)
	Update(ctx context.Context, entity T) error

	// Remove performs a soft delete recording who and why.
	// Hard delete (physical removal) is intentionally not exposed.
	Remove(ctx context.Context, id id.ID, by, reason string) error

	// Restore clears the deletion mark of a soft-deleted entity
	Restore(ctx context.Context, id id.ID) error

	// List retrieves entities with filtering and pagination
	List(ctx context.Context, filter ListFilter) (ListResult[T], error)
}
