package entity

import (
	"context"
	"time"

	"coreapp/internal/core/apperror"
)

// Document is the base type for dated business records: orders,
// invoices, shipments. Catalogs describe things; documents record what
// happened and when.
type Document struct {
	BaseDocument

	// Number is assigned on first persist, unique within type and period.
	Number string `db:"number" json:"number"`

	// Date is the business date, distinct from the storage timestamps.
	Date time.Time `db:"date" json:"date"`

	// Comment is an optional user comment
	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a document dated at the given business date.
func NewDocument(date time.Time) Document {
	return Document{
		BaseDocument: NewBaseDocument(),
		Date:         date,
	}
}

// Validate implements Validatable.
func (d *Document) Validate(ctx context.Context) error {
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}
	return nil
}

// IsBackdated checks if the document date is before today.
func (d *Document) IsBackdated() bool {
	return d.Date.Before(time.Now().UTC().Truncate(24 * time.Hour))
}
