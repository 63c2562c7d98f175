// Package tender allocates a payable total across payment instruments.
package tender

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// Method is a payment instrument.
type Method string

const (
	MethodCash        Method = "cash"
	MethodCard        Method = "card"
	MethodTransfer    Method = "transfer"
	MethodQR          Method = "qr"
	MethodStoreCredit Method = "store_credit"
)

// ParseMethod normalizes s into a known Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &UnknownMethodError{Method: s}
	}
	return m, nil
}

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodQR, MethodStoreCredit:
		return true
	default:
		return false
	}
}

var (
	ErrOverpayment         = errors.New("overpayment")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrUnknownMethod       = errors.New("unknown payment method")
)

// OverpaymentError reports an entry that exceeds the outstanding balance
// without being allowed to produce change.
type OverpaymentError struct {
	Method      Method
	Amount      money.Money
	Outstanding money.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s tender of %s exceeds outstanding balance %s", e.Method, e.Amount, e.Outstanding)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// CreditLimitExceededError reports a store-credit entry larger than the
// customer's remaining credit.
type CreditLimitExceededError struct {
	Amount    money.Money
	Available money.Money
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("store credit of %s exceeds available credit %s", e.Amount, e.Available)
}

func (e *CreditLimitExceededError) Is(target error) bool { return target == ErrCreditLimitExceeded }

// UnknownMethodError reports an unsupported payment method.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown payment method %q", e.Method)
}

func (e *UnknownMethodError) Is(target error) bool { return target == ErrUnknownMethod }

// Entry is one tender in a payment set. AmountTendered is meaningful for
// cash only: it is what the customer handed over, Amount is what was applied
// to the sale.
type Entry struct {
	Method         Method
	Amount         money.Money
	AmountTendered money.Money
	Reference      string
}

// Change returns the change owed for a cash entry.
func (e Entry) Change() money.Money {
	if e.Method != MethodCash {
		return 0
	}
	return money.FloorAtZero(e.AmountTendered - e.Amount)
}

// PaymentSet is an immutable sequence of accepted tenders against a total.
// AddTender returns a new set and leaves the receiver untouched.
type PaymentSet struct {
	total           money.Money
	availableCredit money.Money
	entries         []Entry
}

// Option configures a PaymentSet.
type Option func(*PaymentSet)

// WithAvailableCredit sets the store credit the customer may spend. Without
// it every store-credit tender is rejected.
func WithAvailableCredit(m money.Money) Option {
	return func(s *PaymentSet) {
		s.availableCredit = money.FloorAtZero(m)
	}
}

// NewPaymentSet returns an empty payment set for total.
func NewPaymentSet(total money.Money, opts ...Option) (PaymentSet, error) {
	if err := money.RequireNonNegative("total", total); err != nil {
		return PaymentSet{}, err
	}
	s := PaymentSet{total: total}
	for _, o := range opts {
		o(&s)
	}
	return s, nil
}

// Allocate folds entries into a new payment set, stopping at the first
// rejected entry.
func Allocate(total money.Money, entries []Entry, opts ...Option) (PaymentSet, error) {
	s, err := NewPaymentSet(total, opts...)
	if err != nil {
		return PaymentSet{}, err
	}
	for i, e := range entries {
		if s, err = s.AddTender(e); err != nil {
			return PaymentSet{}, errors.Wrapf(err, "tender %d", i)
		}
	}
	return s, nil
}

// AddTender validates e against the outstanding balance and returns the set
// with e appended.
//
// Cash may exceed the outstanding balance: the applied amount is capped and
// the rest becomes change. Any other method must fit the balance exactly.
func (s PaymentSet) AddTender(e Entry) (PaymentSet, error) {
	if !e.Method.Valid() {
		return s, &UnknownMethodError{Method: string(e.Method)}
	}
	if err := money.RequireNonNegative("amount", e.Amount); err != nil {
		return s, err
	}
	if err := money.RequireNonNegative("amount tendered", e.AmountTendered); err != nil {
		return s, err
	}
	e.Reference = strings.TrimSpace(e.Reference)

	outstanding := s.Remaining()

	if e.Method == MethodCash {
		// A cash entry may carry only the handed-over amount.
		if e.Amount == 0 {
			e.Amount = e.AmountTendered
		}
		if e.AmountTendered == 0 {
			e.AmountTendered = e.Amount
		}
		if err := money.RequirePositive("amount", e.Amount); err != nil {
			return s, err
		}
		if e.AmountTendered < e.Amount {
			return s, &money.InvalidAmountError{
				Field:  "amount tendered",
				Value:  e.AmountTendered.String(),
				Reason: "must cover the applied amount " + e.Amount.String(),
			}
		}
		if outstanding == 0 {
			return s, &OverpaymentError{Method: e.Method, Amount: e.Amount, Outstanding: outstanding}
		}
		e.Amount = money.Min(e.Amount, outstanding)
		return s.with(e), nil
	}

	e.AmountTendered = 0
	if err := money.RequirePositive("amount", e.Amount); err != nil {
		return s, err
	}
	if e.Amount > outstanding {
		return s, &OverpaymentError{Method: e.Method, Amount: e.Amount, Outstanding: outstanding}
	}
	if e.Method == MethodStoreCredit {
		if available := s.AvailableCredit(); e.Amount > available {
			return s, &CreditLimitExceededError{Amount: e.Amount, Available: available}
		}
	}
	return s.with(e), nil
}

func (s PaymentSet) with(e Entry) PaymentSet {
	entries := make([]Entry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	s.entries = append(entries, e)
	return s
}

// Total returns the amount the set must cover.
func (s PaymentSet) Total() money.Money { return s.total }

// Entries returns a copy of the accepted entries.
func (s PaymentSet) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Paid returns the sum of applied amounts.
func (s PaymentSet) Paid() money.Money {
	var paid money.Money
	for _, e := range s.entries {
		paid += e.Amount
	}
	return paid
}

// IsSettled reports whether the applied amounts reach the total.
func (s PaymentSet) IsSettled() bool {
	return s.Paid() >= s.total
}

// Remaining returns max(0, total - paid).
func (s PaymentSet) Remaining() money.Money {
	return money.FloorAtZero(s.total - s.Paid())
}

// Change returns the cash change owed to the customer.
func (s PaymentSet) Change() money.Money {
	var change money.Money
	for _, e := range s.entries {
		change += e.Change()
	}
	return change
}

// CashNet returns the cash kept in the drawer, that is, cash applied to the
// sale net of change.
func (s PaymentSet) CashNet() money.Money {
	var cash money.Money
	for _, e := range s.entries {
		if e.Method == MethodCash {
			cash += e.Amount
		}
	}
	return cash
}

// CreditUsed returns the store credit spent by the set.
func (s PaymentSet) CreditUsed() money.Money {
	var used money.Money
	for _, e := range s.entries {
		if e.Method == MethodStoreCredit {
			used += e.Amount
		}
	}
	return used
}

// AvailableCredit returns the store credit still spendable.
func (s PaymentSet) AvailableCredit() money.Money {
	return money.FloorAtZero(s.availableCredit - s.CreditUsed())
}
