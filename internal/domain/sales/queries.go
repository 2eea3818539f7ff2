package sales

import (
	"context"
	"time"

	"coreapp/internal/core/id"
	"coreapp/internal/core/tenant"
)

// GetSale fetches one sale by id. Served read-through from the cache
// service; mutations invalidate the whole tenant prefix.
type GetSale struct {
	SaleID id.ID `json:"saleId" validate:"required"`
}

// CacheKey scopes the entry to the tenant so invalidations for one
// tenant never evict another's reads.
func (q GetSale) CacheKey(ctx context.Context) string {
	return saleCacheKey(ctx, q.SaleID)
}

// CacheTTL is the read-through lifetime for a single sale.
func (GetSale) CacheTTL() time.Duration { return 5 * time.Minute }

// ListSales pages through sales, optionally matching a search term.
// Not cached: the filter space is too wide to invalidate precisely.
type ListSales struct {
	Search         string `json:"search,omitempty"`
	IncludeDeleted bool   `json:"includeDeleted,omitempty"`
	Limit          int    `json:"limit" validate:"gte=0,lte=500"`
	Offset         int    `json:"offset" validate:"gte=0"`
}

func saleCacheKey(ctx context.Context, saleID id.ID) string {
	return "sales:" + tenant.GetTenantID(ctx) + ":" + saleID.String()
}

// saleInvalidationPattern drops every cached sale of the tenant.
func saleInvalidationPattern(ctx context.Context) string {
	return "sales:" + tenant.GetTenantID(ctx) + ":*"
}
