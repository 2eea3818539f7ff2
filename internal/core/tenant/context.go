package tenant

import (
	"context"
	"errors"
)

// Context keys for tenant-related values.
type ctxKey int

const tenantKey ctxKey = iota

// Errors for context operations.
var (
	ErrNoTenantInContext = errors.New("tenant not found in context")
	ErrTenantNotActive   = errors.New("tenant is not active")
)

// WithTenant stores tenant info in context.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// WithTenantID stores a bare tenant ID in context.
// Used when only the identifier is known (workers, tests).
func WithTenantID(ctx context.Context, id string) context.Context {
	return WithTenant(ctx, &Tenant{ID: id, Status: StatusActive})
}

// GetTenant retrieves tenant from context.
func GetTenant(ctx context.Context) *Tenant {
	t, _ := ctx.Value(tenantKey).(*Tenant)
	return t
}

// GetTenantID returns tenant ID or empty string.
func GetTenantID(ctx context.Context) string {
	if t := GetTenant(ctx); t != nil {
		return t.ID
	}
	return ""
}

// RequireTenantID returns tenant ID or an error when the context carries none.
// Storage operations call this before touching tenant-scoped data.
func RequireTenantID(ctx context.Context) (string, error) {
	t := GetTenant(ctx)
	if t == nil || t.ID == "" {
		return "", ErrNoTenantInContext
	}
	if !t.IsActive() {
		return "", ErrTenantNotActive
	}
	return t.ID, nil
}
