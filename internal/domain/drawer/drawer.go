// Package drawer models a cash drawer session from opening float to close.
//
// Transitions are pure: each returns a new Session and never modifies its
// argument. Persistence and serialization of writers is handled by Service.
package drawer

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// State of a session.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// MovementType classifies a cash movement.
type MovementType string

const (
	CashIn   MovementType = "cash_in"
	CashOut  MovementType = "cash_out"
	SaleCash MovementType = "sale_cash"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case CashIn, CashOut, SaleCash:
		return true
	default:
		return false
	}
}

// VarianceClass classifies counted cash against the expected balance.
type VarianceClass string

const (
	Balanced VarianceClass = "balanced"
	Over     VarianceClass = "over"
	Short    VarianceClass = "short"
)

// ClassifyVariance returns the class of variance.
func ClassifyVariance(variance money.Money) VarianceClass {
	switch {
	case variance > 0:
		return Over
	case variance < 0:
		return Short
	default:
		return Balanced
	}
}

var (
	ErrInvalidState    = errors.New("invalid drawer state")
	ErrMissingReason   = errors.New("movement reason required")
	ErrVersionConflict = errors.New("drawer session modified concurrently")
	ErrNotFound        = errors.New("drawer session not found")
)

// InvalidStateError reports an operation attempted on a closed session.
type InvalidStateError struct {
	SessionID string
	State     State
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s drawer session %s: session is %s", e.Op, e.SessionID, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// MissingReasonError reports a manual movement recorded without a reason.
type MissingReasonError struct {
	SessionID string
	Type      MovementType
}

func (e *MissingReasonError) Error() string {
	return fmt.Sprintf("%s movement on drawer session %s requires a reason", e.Type, e.SessionID)
}

func (e *MissingReasonError) Is(target error) bool { return target == ErrMissingReason }

// Movement is an immutable entry in the drawer ledger.
type Movement struct {
	Type   MovementType
	Amount money.Money
	Reason string
	// SaleID links SaleCash movements to the originating sale.
	SaleID string
	At     time.Time
}

// DenominationCount is the number of notes or coins of one face value.
type DenominationCount struct {
	Denomination money.Money
	Count        int
}

// Total returns Denomination * Count.
func (c DenominationCount) Total() money.Money {
	return money.MultiplyByQuantity(c.Denomination, c.Count)
}

// Closure holds the reconciliation computed when a session is closed.
type Closure struct {
	ClosedAt        time.Time
	CountedAmount   money.Money
	ExpectedBalance money.Money
	Variance        money.Money
	VarianceClass   VarianceClass
	// VariancePercent is Variance relative to ExpectedBalance, zero when
	// nothing was expected.
	VariancePercent decimal.Decimal
	// Breakdown and BreakdownTotal are advisory. CountedAmount is what the
	// variance is computed from even when they disagree.
	Breakdown      []DenominationCount
	BreakdownTotal *money.Money
}

// Session is a cash drawer session.
type Session struct {
	ID           string
	OpenedAt     time.Time
	InitialFloat money.Money
	Movements    []Movement
	State        State
	Closure      *Closure
	// Version is the optimistic concurrency token maintained by the
	// repository.
	Version int64
}

// Open starts a session with initialFloat in the drawer.
func Open(id string, initialFloat money.Money, at time.Time) (Session, error) {
	if err := money.RequireNonNegative("initial float", initialFloat); err != nil {
		return Session{}, err
	}
	return Session{
		ID:           id,
		OpenedAt:     at,
		InitialFloat: initialFloat,
		State:        StateOpen,
	}, nil
}

// IsClosed reports whether s accepts no further changes.
func (s Session) IsClosed() bool { return s.State == StateClosed }

// Totals returns the sum of movements of each type.
func (s Session) Totals() (cashIn, cashOut, saleCash money.Money) {
	for _, m := range s.Movements {
		switch m.Type {
		case CashIn:
			cashIn += m.Amount
		case CashOut:
			cashOut += m.Amount
		case SaleCash:
			saleCash += m.Amount
		}
	}
	return cashIn, cashOut, saleCash
}

// ExpectedBalance returns initialFloat + cash in - cash out + sale cash.
func (s Session) ExpectedBalance() money.Money {
	in, out, sales := s.Totals()
	return s.InitialFloat + in - out + sales
}

// RecordMovement appends a movement to s. Every movement needs a reason, and
// cash out may not take the drawer below zero.
func RecordMovement(s Session, typ MovementType, amount money.Money, reason string, at time.Time) (Session, error) {
	if s.IsClosed() {
		return s, &InvalidStateError{SessionID: s.ID, State: s.State, Op: "record movement on"}
	}
	if !typ.Valid() {
		return s, errors.Errorf("unknown movement type %q", typ)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return s, &MissingReasonError{SessionID: s.ID, Type: typ}
	}
	if err := money.RequirePositive("movement amount", amount); err != nil {
		return s, err
	}
	if typ == CashOut {
		if expected := s.ExpectedBalance(); amount > expected {
			return s, &money.InvalidAmountError{
				Field:  "movement amount",
				Value:  amount.String(),
				Reason: "cash out exceeds expected balance " + expected.String(),
			}
		}
	}
	return s.with(Movement{Type: typ, Amount: amount, Reason: reason, At: at}), nil
}

// RecordCashSale posts the cash kept from a sale, net of change.
func RecordCashSale(s Session, saleID string, amount money.Money, at time.Time) (Session, error) {
	if s.IsClosed() {
		return s, &InvalidStateError{SessionID: s.ID, State: s.State, Op: "record sale on"}
	}
	if err := money.RequirePositive("sale cash", amount); err != nil {
		return s, err
	}
	return s.with(Movement{
		Type:   SaleCash,
		Amount: amount,
		Reason: "sale " + saleID,
		SaleID: saleID,
		At:     at,
	}), nil
}

// Close reconciles counted against the expected balance and closes s.
// breakdown may be nil.
func Close(s Session, counted money.Money, breakdown []DenominationCount, at time.Time) (Session, error) {
	if s.IsClosed() {
		return s, &InvalidStateError{SessionID: s.ID, State: s.State, Op: "close"}
	}
	if err := money.RequireNonNegative("counted amount", counted); err != nil {
		return s, err
	}

	closure := Closure{
		ClosedAt:        at,
		CountedAmount:   counted,
		ExpectedBalance: s.ExpectedBalance(),
	}
	closure.Variance = counted - closure.ExpectedBalance
	closure.VarianceClass = ClassifyVariance(closure.Variance)
	closure.VariancePercent = variancePercent(closure.Variance, closure.ExpectedBalance)

	if breakdown != nil {
		total, err := BreakdownTotal(breakdown)
		if err != nil {
			return s, err
		}
		closure.Breakdown = append([]DenominationCount(nil), breakdown...)
		closure.BreakdownTotal = &total
	}

	s.Movements = append([]Movement(nil), s.Movements...)
	s.State = StateClosed
	s.Closure = &closure
	return s, nil
}

// BreakdownTotal sums a denomination count.
func BreakdownTotal(breakdown []DenominationCount) (money.Money, error) {
	var total money.Money
	for _, c := range breakdown {
		if err := money.RequirePositive("denomination", c.Denomination); err != nil {
			return 0, err
		}
		if c.Count < 0 {
			return 0, &money.InvalidAmountError{
				Field:  "denomination count",
				Value:  fmt.Sprint(c.Count),
				Reason: "must not be negative",
			}
		}
		total += c.Total()
	}
	return total, nil
}

func variancePercent(variance, expected money.Money) decimal.Decimal {
	if expected <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(variance)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(expected))).
		Round(2)
}

func (s Session) with(m Movement) Session {
	movements := make([]Movement, len(s.Movements), len(s.Movements)+1)
	copy(movements, s.Movements)
	s.Movements = append(movements, m)
	return s
}
