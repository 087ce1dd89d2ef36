// Package money provides fixed-precision decimal arithmetic for prices,
// quantities, and balances.
//
// All monetary values entering the system are converted to Money at the
// boundary (tick decode, config parse, broker responses) and never converted
// back to a native float except at display time. Arithmetic is exact at the
// configured scale; comparisons and map keys are well-defined.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultScale is the rounding scale for display and persistence (paise).
const DefaultScale = 2

// ErrDivisionByZero is returned by Div when the divisor is zero.
var ErrDivisionByZero = errors.New("money: division by zero")

// Money is an exact decimal amount. The zero value is ₹0.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{}

// New builds a Money from an integer amount.
func New(v int64) Money {
	return Money{decimal.NewFromInt(v)}
}

// FromFloat converts a float at the ingestion boundary.
func FromFloat(v float64) Money {
	return Money{decimal.NewFromFloat(v)}
}

// FromDecimal wraps an exact decimal value.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d}
}

// FromString parses a textual amount, e.g. "101460.00".
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{d}, nil
}

// BD coerces loosely-typed input to Money. Nil and empty strings become
// zero; anything unparseable also becomes zero. Use only where the source
// genuinely emits missing fields (broker payloads, store reloads).
func BD(v any) Money {
	switch x := v.(type) {
	case nil:
		return Zero
	case Money:
		return x
	case decimal.Decimal:
		return Money{x}
	case string:
		if x == "" {
			return Zero
		}
		m, err := FromString(x)
		if err != nil {
			return Zero
		}
		return m
	case float64:
		return FromFloat(x)
	case float32:
		return FromFloat(float64(x))
	case int:
		return New(int64(x))
	case int64:
		return New(x)
	default:
		return Zero
	}
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{m.d.Add(o.d)} }

// Sub returns m − o.
func (m Money) Sub(o Money) Money { return Money{m.d.Sub(o.d)} }

// Mul returns m × o. Dimensionally this is price × quantity; both operands
// are carried as Money so tick quantities stay exact.
func (m Money) Mul(o Money) Money { return Money{m.d.Mul(o.d)} }

// MulInt returns m × n.
func (m Money) MulInt(n int64) Money { return Money{m.d.Mul(decimal.NewFromInt(n))} }

// MulFloat scales by a config fraction (allocation pct, slippage buffer).
func (m Money) MulFloat(f float64) Money { return Money{m.d.Mul(decimal.NewFromFloat(f))} }

// Div returns m ÷ o, or ErrDivisionByZero.
func (m Money) Div(o Money) (Money, error) {
	if o.d.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return Money{m.d.Div(o.d)}, nil
}

// Neg returns −m.
func (m Money) Neg() Money { return Money{m.d.Neg()} }

// Abs returns |m|.
func (m Money) Abs() Money { return Money{m.d.Abs()} }

// Cmp returns −1, 0, or +1.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports m == o by value.
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

// LessThanOrEqual reports m ≤ o.
func (m Money) LessThanOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// GreaterThanOrEqual reports m ≥ o.
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }

// IsZero reports m == 0.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsNegative reports m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsPositive reports m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m.d.LessThan(o.d) {
		return m
	}
	return o
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.d.GreaterThan(o.d) {
		return m
	}
	return o
}

// Round rounds half-up to the given scale.
func (m Money) Round(scale int32) Money { return Money{m.d.Round(scale)} }

// IntPart returns the integer part, used for lot-count math.
func (m Money) IntPart() int64 { return m.d.IntPart() }

// Float64 leaves the exact domain. Display and indicator math only.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// Decimal exposes the underlying decimal for serialization layers.
func (m Money) Decimal() decimal.Decimal { return m.d }

// String formats at the default scale, currency-agnostic.
func (m Money) String() string { return m.d.StringFixed(DefaultScale) }

// MarshalJSON encodes as a quoted fixed-scale string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.StringFixed(DefaultScale) + `"`), nil
}

// UnmarshalJSON accepts both quoted strings and bare numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	m.d = d
	return nil
}
