// Package cart holds the immutable cart snapshot consumed by settlement.
package cart

import (
	"fmt"
	"math"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// ErrInvalidLine is matched by every InvalidLineError.
var ErrInvalidLine = errors.New("invalid cart line")

// InvalidLineError indicates a cart line violates its invariants.
type InvalidLineError struct {
	LineID string
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("invalid cart line %s: %s", e.LineID, e.Reason)
}

// Is reports whether target is ErrInvalidLine.
func (e *InvalidLineError) Is(target error) bool {
	return target == ErrInvalidLine
}

// Line is a cart line with an already resolved unit price.
type Line struct {
	ID           string
	ProductID    string
	UnitPrice    money.Money
	Quantity     int
	LineDiscount money.Money
}

// Gross returns unitPrice * quantity.
func (l Line) Gross() money.Money {
	return money.MultiplyByQuantity(l.UnitPrice, l.Quantity)
}

// Net returns the gross amount minus the line discount.
func (l Line) Net() money.Money {
	return l.Gross() - l.LineDiscount
}

// Validate checks the line invariants.
func (l Line) Validate() error {
	switch {
	case l.ID == "":
		return &InvalidLineError{Reason: "line id is required"}
	case l.Quantity < 1:
		return &InvalidLineError{LineID: l.ID, Reason: "quantity must be at least 1"}
	case l.UnitPrice < 0:
		return &InvalidLineError{LineID: l.ID, Reason: "unit price must not be negative"}
	case l.LineDiscount < 0:
		return &InvalidLineError{LineID: l.ID, Reason: "line discount must not be negative"}
	case l.UnitPrice > 0 && int64(l.Quantity) > math.MaxInt64/int64(l.UnitPrice):
		return &InvalidLineError{LineID: l.ID, Reason: "line amount is out of range"}
	case l.LineDiscount > l.Gross():
		return &InvalidLineError{
			LineID: l.ID,
			Reason: fmt.Sprintf("line discount %s exceeds line amount %s", l.LineDiscount, l.Gross()),
		}
	}
	return nil
}

// Validate checks every line and rejects duplicate line ids and carts whose
// totals do not fit in Money.
func Validate(lines []Line) error {
	seen := make(map[string]struct{}, len(lines))
	var gross money.Money
	var quantity int
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return err
		}
		if _, dup := seen[l.ID]; dup {
			return &InvalidLineError{LineID: l.ID, Reason: "duplicate line id"}
		}
		seen[l.ID] = struct{}{}

		if gross > math.MaxInt64-l.Gross() || quantity > math.MaxInt-l.Quantity {
			return &InvalidLineError{LineID: l.ID, Reason: "cart total is out of range"}
		}
		gross += l.Gross()
		quantity += l.Quantity
	}
	return nil
}

// Totals summarises a set of lines.
type Totals struct {
	Gross         money.Money
	LineDiscounts money.Money
	Subtotal      money.Money
	Quantity      int
}

// Summarize adds up lines. It does not validate them.
func Summarize(lines []Line) Totals {
	var t Totals
	for _, l := range lines {
		t.Gross += l.Gross()
		t.LineDiscounts += l.LineDiscount
		t.Quantity += l.Quantity
	}
	t.Subtotal = t.Gross - t.LineDiscounts
	return t
}
