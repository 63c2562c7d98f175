package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercent takes a percentage off the post-promotion amount.
	KindPercent Kind = "percent"
	// KindFixedAmount takes a fixed amount off, capped at the remaining balance.
	KindFixedAmount Kind = "fixed_amount"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or is
	// misconfigured.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a redeemable code. At most one coupon is active per sale.
type Coupon struct {
	Code            string
	Kind            Kind
	Value           decimal.Decimal
	MinimumSubtotal money.Money
	Description     string
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	MaxUses         int
	Uses            int
}

// Check verifies the coupon is well formed.
func (c *Coupon) Check() error {
	switch c.Kind {
	case KindPercent:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return errors.Wrapf(ErrInvalidCoupon, "percent %s out of range", c.Value)
		}
	case KindFixedAmount:
		if !c.Value.IsPositive() {
			return errors.Wrapf(ErrInvalidCoupon, "amount %s must be positive", c.Value)
		}
	default:
		return errors.Wrapf(ErrInvalidCoupon, "unsupported coupon kind %q", c.Kind)
	}
	if c.MinimumSubtotal < 0 {
		return errors.Wrap(ErrInvalidCoupon, "negative minimum subtotal")
	}
	return nil
}

// Eligible reports whether base satisfies the coupon minimum.
func (c *Coupon) Eligible(base money.Money) bool {
	return base >= c.MinimumSubtotal
}

// Discount returns the coupon discount for base, never more than base.
// The caller must have checked the coupon with Check.
func (c *Coupon) Discount(base money.Money) money.Money {
	base = money.FloorAtZero(base)
	switch c.Kind {
	case KindPercent:
		return money.Min(money.PercentageOf(base, c.Value), base)
	case KindFixedAmount:
		amount, err := money.FromDecimal(c.Value)
		if err != nil {
			return base
		}
		return money.Min(amount, base)
	default:
		return 0
	}
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	IncrementUses(ctx context.Context, code string) error
}
