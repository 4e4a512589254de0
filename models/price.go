package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// UnknownSentinel encodes an unknown price in formats without optionals.
var UnknownSentinel = decimal.NewFromInt(-1)

// Price is a non-negative amount or the distinguished unknown value.
// The zero Price is unknown.
type Price struct {
	amount decimal.Decimal
	known  bool
}

// Unknown returns the unknown price.
func Unknown() Price {
	return Price{}
}

// NewPrice wraps a known amount.
func NewPrice(amount decimal.Decimal) Price {
	return Price{amount: amount, known: true}
}

// PriceFromFloat wraps a known float amount.
func PriceFromFloat(f float64) Price {
	return NewPrice(decimal.NewFromFloat(f))
}

// Known reports whether the price was observed.
func (p Price) Known() bool {
	return p.known
}

// Amount returns the amount and whether it is known.
func (p Price) Amount() (decimal.Decimal, bool) {
	return p.amount, p.known
}

// IsFree reports a known price of zero.
func (p Price) IsFree() bool {
	return p.known && p.amount.IsZero()
}

// Equal compares two prices exactly.
func (p Price) Equal(other Price) bool {
	if p.known != other.known {
		return false
	}
	return !p.known || p.amount.Equal(other.amount)
}

func (p Price) String() string {
	if !p.known {
		return "unknown"
	}
	return p.amount.StringFixed(2)
}

// Sentinel returns the amount, or UnknownSentinel for an unknown price.
func (p Price) Sentinel() decimal.Decimal {
	if !p.known {
		return UnknownSentinel
	}
	return p.amount
}

// PriceFromSentinel reverses Sentinel: any negative value is unknown.
func PriceFromSentinel(d decimal.Decimal) Price {
	if d.IsNegative() {
		return Unknown()
	}
	return NewPrice(d)
}

// ParseSentinel decodes the textual form written by Sentinel().String().
func ParseSentinel(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse sentinel price %q: %w", s, err)
	}
	return PriceFromSentinel(d), nil
}

// MarshalJSON encodes unknown as null and known prices as decimal strings.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.known {
		return []byte("null"), nil
	}
	return json.Marshal(p.amount.String())
}

// UnmarshalJSON accepts null, a decimal string or a JSON number. Negative
// amounts are rejected.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Unknown()
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode price: %w", err)
	}
	if d.IsNegative() {
		return fmt.Errorf("decode price: negative amount %s", d)
	}
	*p = NewPrice(d)
	return nil
}
