// Package tenant provides tenant identity and context propagation.
// Repositories and cache keys are scoped by the tenant carried in context.
package tenant

import "time"

// Status represents tenant lifecycle state.
type Status string

const (
	// StatusActive - tenant can accept requests
	StatusActive Status = "active"

	// StatusSuspended - tenant is temporarily disabled (e.g., payment issues)
	StatusSuspended Status = "suspended"

	// StatusDeleted - tenant is marked for deletion
	StatusDeleted Status = "deleted"
)

// Tenant represents a tenant record.
type Tenant struct {
	ID          string    `db:"id"`
	Slug        string    `db:"slug"`         // URL-safe identifier
	DisplayName string    `db:"display_name"` // Human-readable name
	Status      Status    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// IsActive returns true if tenant can accept requests.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}
