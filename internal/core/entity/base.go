package entity

import (
	"context"
	"time"

	"coreapp/internal/core/id"
)

// Validatable is implemented by entities that support self-validation.
// Validation checks internal invariants (without database access).
type Validatable interface {
	// Validate checks entity invariants.
	// Returns nil if valid, AppError with details otherwise.
	Validate(ctx context.Context) error
}

///////////////////
// Base Entity   //
///////////////////

// BaseEntity contains common fields for all entities.
// Removal is always a soft delete with an audit trail; hard deletes
// happen only through retention jobs outside this package.
type BaseEntity struct {
	// ID is the primary key (UUIDv7)
	ID id.ID `db:"id" json:"id"`

	// Version for optimistic locking (incremented on each update)
	Version int `db:"version" json:"version"`

	// Soft delete audit trail
	Deleted      bool       `db:"deleted" json:"deleted"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy    string     `db:"deleted_by" json:"deletedBy,omitempty"`
	DeleteReason string     `db:"delete_reason" json:"deleteReason,omitempty"`
}

// NewBaseEntity creates a new BaseEntity with generated ID.
func NewBaseEntity() BaseEntity {
	return BaseEntity{
		ID:      id.New(),
		Version: 1,
	}
}

// Touch increments version (for optimistic locking).
func (b *BaseEntity) Touch() {
	b.Version++
}

// MarkDeleted soft-deletes the entity recording who and why.
func (b *BaseEntity) MarkDeleted(by, reason string) {
	now := time.Now().UTC()
	b.Deleted = true
	b.DeletedAt = &now
	b.DeletedBy = by
	b.DeleteReason = reason
}

// Restore clears the deletion mark and its audit trail.
func (b *BaseEntity) Restore() {
	b.Deleted = false
	b.DeletedAt = nil
	b.DeletedBy = ""
	b.DeleteReason = ""
}

// IsDeleted reports whether the entity is soft-deleted.
func (b *BaseEntity) IsDeleted() bool {
	return b.Deleted
}

// EntityID returns the primary key (useful for interfaces).
func (b *BaseEntity) EntityID() id.ID {
	return b.ID
}

// EntityVersion returns the optimistic-lock version.
func (b *BaseEntity) EntityVersion() int {
	return b.Version
}

// SetVersion updates the version number (used by repository after sync).
func (b *BaseEntity) SetVersion(v int) {
	b.Version = v
}

///////////////
// Documents //
///////////////

// BaseDocument extends BaseEntity with audit fields for documents.
type BaseDocument struct {
	BaseEntity

	// Audit fields
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy string    `db:"updated_by" json:"updatedBy,omitempty"`
}

// NewBaseDocument creates a new BaseDocument with generated ID and timestamps.
func NewBaseDocument() BaseDocument {
	now := time.Now().UTC()
	return BaseDocument{
		BaseEntity: NewBaseEntity(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Touch updates the UpdatedAt timestamp and increments version.
func (b *BaseDocument) Touch() {
	b.UpdatedAt = time.Now().UTC()
	b.BaseEntity.Touch()
}

// SetUpdatedAt updates the updated_at timestamp (used by repository).
func (b *BaseDocument) SetUpdatedAt(t time.Time) {
	b.UpdatedAt = t
}
