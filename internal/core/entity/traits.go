package entity

import (
	"context"
	"time"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/id"
)

// CurrencyAware is a trait for entities that have a currency dimension.
// Used for composition in financial documents.
type CurrencyAware struct {
	// CurrencyID is the primary currency for financial operations in this entity
	CurrencyID id.ID `db:"currency_id" json:"currencyId"`
}

// ValidateCurrency ensures a currency is set.
func (c *CurrencyAware) ValidateCurrency(ctx context.Context) error {
	if id.IsNil(c.CurrencyID) {
		return apperror.NewValidation("currency is required").
			WithDetail("field", "currencyId")
	}
	return nil
}

// GetCurrencyID returns the currency ID (useful for interfaces).
func (c *CurrencyAware) GetCurrencyID() id.ID {
	return c.CurrencyID
}

// Archivable is a trait for entities that age out of the hot set.
// LastActivityAt drives retention jobs that archive stale records.
type Archivable struct {
	Archived       bool       `db:"archived" json:"archived"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archivedAt,omitempty"`
	LastActivityAt time.Time  `db:"last_activity_at" json:"lastActivityAt"`
}

// TouchActivity records activity, keeping the entity out of archival scans.
func (a *Archivable) TouchActivity() {
	a.LastActivityAt = time.Now().UTC()
}

// Archive marks the entity as archived at the current instant.
func (a *Archivable) Archive() {
	now := time.Now().UTC()
	a.Archived = true
	a.ArchivedAt = &now
}

// Unarchive returns the entity to the hot set.
func (a *Archivable) Unarchive() {
	a.Archived = false
	a.ArchivedAt = nil
	a.TouchActivity()
}
