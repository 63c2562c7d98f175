// Package money implements fixed-point monetary arithmetic over minor units.
//
// All amounts inside the settlement engine are int64 counts of cents. Decimal
// input from users or storage is rounded half-up to two places on the way in
// and never re-enters a calculation as a float.
package money

import (
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents).
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// Scale is the number of decimal places carried by Money.
const Scale = 2

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(math.MaxInt64).Div(hundred)
	minAmount = decimal.NewFromInt(math.MinInt64).Div(hundred)
)

// ErrInvalidAmount is matched by every InvalidAmountError.
var ErrInvalidAmount = errors.New("invalid amount")

// InvalidAmountError reports a negative, non-numeric or out-of-range
// monetary input together with the field it came from.
type InvalidAmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid amount for %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid amount %q for %s: %s", e.Value, e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidAmount.
func (e *InvalidAmountError) Is(target error) bool {
	return target == ErrInvalidAmount
}

// Cents constructs Money from a count of minor units.
func Cents(v int64) Money { return Money(v) }

// FromDecimal converts d to Money, rounding half-up to two decimal places.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if d.GreaterThan(maxAmount) || d.LessThan(minAmount) {
		return 0, &InvalidAmountError{Value: d.String(), Reason: "out of range"}
	}
	return Money(d.Round(Scale).Shift(Scale).IntPart()), nil
}

// MustFromDecimal is like FromDecimal but panics on error. Intended for
// constants and tests.
func MustFromDecimal(d decimal.Decimal) Money {
	m, err := FromDecimal(d)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse parses a decimal string such as "12.345" into Money ("12.35").
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &InvalidAmountError{Value: s, Reason: "not a decimal number"}
	}
	return FromDecimal(d)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns m as a decimal with two places.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -Scale)
}

// String formats m with exactly two decimals, e.g. "-10.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(Scale)
}

// IsZero reports whether m is zero.
func (m Money) IsZero() bool { return m == 0 }

// IsNegative reports whether m is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// IsPositive reports whether m is above zero.
func (m Money) IsPositive() bool { return m > 0 }

// Add returns a + b.
func Add(a, b Money) Money { return a + b }

// Subtract returns a - b. The result may be negative; use SubClamped where a
// floor at zero is part of the contract.
func Subtract(a, b Money) Money { return a - b }

// SubClamped returns max(0, a-b) and the amount that had to be discarded to
// keep the result non-negative.
func SubClamped(a, b Money) (result, clamped Money) {
	r := a - b
	if r < 0 {
		return 0, -r
	}
	return r, 0
}

// MultiplyByQuantity returns unit * qty.
func MultiplyByQuantity(unit Money, qty int) Money {
	return unit * Money(qty)
}

// PercentageOf returns percent% of amount rounded half-up to the cent.
// percent is a plain percentage, so 12.5 means 12.5%.
func PercentageOf(amount Money, percent decimal.Decimal) Money {
	if amount == 0 || percent.IsZero() {
		return 0
	}
	v := decimal.NewFromInt(int64(amount)).Mul(percent).Div(hundred)
	return Money(v.Round(0).IntPart())
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...Money) Money {
	var s Money
	for _, a := range amounts {
		s += a
	}
	return s
}

// FloorAtZero clamps negative values to zero.
func FloorAtZero(m Money) Money {
	if m < 0 {
		return 0
	}
	return m
}

// Convert returns amount expressed in a secondary currency using rate units
// of that currency per unit of the base currency. The result is for display
// only and is rounded to two places.
func Convert(amount Money, rate decimal.Decimal) decimal.Decimal {
	return amount.Decimal().Mul(rate).Round(Scale)
}

// ValidatePercent checks that p lies within 0..100.
func ValidatePercent(field string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return &InvalidAmountError{Field: field, Value: p.String(), Reason: "percent must be within 0..100"}
	}
	return nil
}

// RequireNonNegative fails with InvalidAmountError when m is negative.
func RequireNonNegative(field string, m Money) error {
	if m < 0 {
		return &InvalidAmountError{Field: field, Value: m.String(), Reason: "must not be negative"}
	}
	return nil
}

// RequirePositive fails with InvalidAmountError when m is zero or negative.
func RequirePositive(field string, m Money) error {
	if m <= 0 {
		return &InvalidAmountError{Field: field, Value: m.String(), Reason: "must be greater than zero"}
	}
	return nil
}
