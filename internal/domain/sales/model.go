// Package sales is the order-to-cash slice of the back office: the
// Sale document plus the commands and queries that move it through the
// transaction core.
package sales

import (
	"context"
	"time"

	"coreapp/internal/core/apperror"
	"coreapp/internal/core/entity"
	"coreapp/internal/core/id"
	"coreapp/internal/core/types"
)

const (
	// NumberPrefix tags the sale number series, e.g. SO-2026-00042.
	NumberPrefix = "SO"

	// AggregateType names the aggregate in domain events.
	AggregateType = "sale"

	EventRecorded  = "sale.recorded"
	EventCancelled = "sale.cancelled"
)

// Sale records goods sold to a customer. Lines travel with the
// document as one unit; there is no separate line store.
type Sale struct {
	entity.Document

	CustomerID id.ID `db:"customer_id" json:"customerId"`

	entity.CurrencyAware
	entity.Archivable

	// Totals are derived from the lines, never set directly.
	TotalQuantity types.Quantity `db:"total_quantity" json:"totalQuantity"`
	TotalAmount   types.Money    `db:"total_amount" json:"totalAmount"`

	Lines []SaleLine `db:"lines" json:"lines"`
}

// SaleLine is one sold position. LineNo is its identity within the
// document.
type SaleLine struct {
	LineNo    int            `json:"lineNo"`
	ProductID id.ID          `json:"productId"`
	Quantity  types.Quantity `json:"quantity"`
	UnitPrice types.Money    `json:"unitPrice"`
	Amount    types.Money    `json:"amount"`
}

// NewSale creates an empty sale for the customer, dated at the given
// business date.
func NewSale(customerID, currencyID id.ID, date time.Time) *Sale {
	s := &Sale{
		Document:   entity.NewDocument(date),
		CustomerID: customerID,
		Lines:      make([]SaleLine, 0),
	}
	s.CurrencyID = currencyID
	s.TouchActivity()
	return s
}

// AddLine appends a line and recalculates totals. The line amount is
// quantity times unit price in exact decimal math.
func (s *Sale) AddLine(productID id.ID, qty types.Quantity, unitPrice types.Money) {
	line := SaleLine{
		LineNo:    len(s.Lines) + 1,
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: unitPrice,
		Amount:    unitPrice.Mul(qty.Decimal()),
	}
	s.Lines = append(s.Lines, line)
	s.recalcTotals()
}

func (s *Sale) recalcTotals() {
	s.TotalQuantity = 0
	s.TotalAmount = types.ZeroMoney()
	for _, line := range s.Lines {
		s.TotalQuantity = s.TotalQuantity.Add(line.Quantity)
		s.TotalAmount = s.TotalAmount.Add(line.Amount)
	}
}

// Validate implements entity.Validatable.
func (s *Sale) Validate(ctx context.Context) error {
	if err := s.Document.Validate(ctx); err != nil {
		return err
	}
	if err := s.ValidateCurrency(ctx); err != nil {
		return err
	}

	if id.IsNil(s.CustomerID) {
		return apperror.NewValidation("customer is required").
			WithDetail("field", "customerId")
	}
	if len(s.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for i, line := range s.Lines {
		if id.IsNil(line.ProductID) {
			return apperror.NewValidation("product is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if !line.Quantity.IsPositive() {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.UnitPrice.IsNegative() {
			return apperror.NewValidation("unit price cannot be negative").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}

	return nil
}
