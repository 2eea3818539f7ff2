// Package types holds the numeric types shared across the domain.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount with full decimal precision. Never use
// float64 for amounts.
type Money = decimal.Decimal

// NewMoneyFromString parses a decimal amount. Preferred constructor.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney parses a decimal amount, panicking on error. For constants
// and tests only.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ZeroMoney returns the zero amount.
func ZeroMoney() Money {
	return decimal.Zero
}

// Quantity is a fixed-point quantity with 4 decimal places, stored as
// a scaled int64. Matches NUMERIC(15,4) column semantics and keeps
// quantity math exact without dragging a decimal through every count.
type Quantity int64

// QuantityScale is the fixed-point denominator.
const QuantityScale int64 = 10_000

// NewQuantityFromInt creates a whole-unit quantity.
func NewQuantityFromInt(v int64) Quantity {
	return Quantity(v * QuantityScale)
}

// ParseQuantity parses a decimal string into a fixed-point quantity.
// Fractional digits beyond the fourth are truncated.
func ParseQuantity(s string) (Quantity, error) {
	return parseQuantityString(s)
}

// MustQuantity parses a quantity, panicking on error. For constants
// and tests only.
func MustQuantity(s string) Quantity {
	q, err := parseQuantityString(s)
	if err != nil {
		panic(err)
	}
	return q
}

// Int64Scaled returns the raw scaled representation for storage.
func (q Quantity) Int64Scaled() int64 { return int64(q) }

// Decimal converts the quantity to an exact decimal, for amount math
// against Money values.
func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -4)
}

func (q Quantity) IsZero() bool     { return q == 0 }
func (q Quantity) IsPositive() bool { return q > 0 }
func (q Quantity) IsNegative() bool { return q < 0 }

// Add returns q + other. Same scale, so plain integer addition.
func (q Quantity) Add(other Quantity) Quantity { return q + other }

// String returns a decimal string with 4 fractional digits.
func (q Quantity) String() string {
	v := int64(q)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%04d", sign, v/QuantityScale, v%QuantityScale)
}

// MarshalJSON encodes the quantity as a JSON number with 4 digits.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a JSON number or string.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}
	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := parseQuantityString(s)
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	}
	parsed, err := parseQuantityString(string(data))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

func parseQuantityString(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	// Exponent form is rejected to keep parsing strict.
	if strings.ContainsAny(s, "eE") {
		return 0, fmt.Errorf("quantity %q: exponent form not supported", s)
	}

	sign := int64(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	intStr, fracStr, _ := strings.Cut(s, ".")
	if intStr == "" {
		intStr = "0"
	}
	intPart, err := strconv.ParseInt(intStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}

	if len(fracStr) > 4 {
		fracStr = fracStr[:4]
	}
	for len(fracStr) < 4 {
		fracStr += "0"
	}
	frac, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}

	return Quantity(sign * (intPart*QuantityScale + frac)), nil
}
