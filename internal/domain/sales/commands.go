package sales

import (
	"context"
	"time"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/id"
	"coreapp/internal/core/types"
	"coreapp/internal/infrastructure/cache"
)

// RecordSale accepts a new sale. It is gated: while the sales class is
// tripped the command is refused before any handler work.
type RecordSale struct {
	CustomerID id.ID            `json:"customerId" validate:"required"`
	CurrencyID id.ID            `json:"currencyId" validate:"required"`
	Date       time.Time        `json:"date"`
	Comment    string           `json:"comment,omitempty"`
	Lines      []RecordSaleLine `json:"lines" validate:"required,min=1,dive"`
}

// RecordSaleLine is one requested position.
type RecordSaleLine struct {
	ProductID id.ID          `json:"productId" validate:"required"`
	Quantity  types.Quantity `json:"quantity" validate:"gt=0"`
	UnitPrice types.Money    `json:"unitPrice"`
}

// GateClass marks the command as protected by the availability gate.
func (RecordSale) GateClass() string { return cache.ClassSales }

// Validate covers the rules struct tags cannot express.
func (c RecordSale) Validate(ctx context.Context) error {
	for i, line := range c.Lines {
		if line.UnitPrice.IsNegative() {
			return apperror.NewValidation("unit price cannot be negative").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}
	return nil
}

// CancelSale soft-removes a recorded sale, keeping the audit trail.
type CancelSale struct {
	SaleID id.ID  `json:"saleId" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}
