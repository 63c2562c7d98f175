package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a coupon code into a coupon that may be offered to
// settlement.
type Validator interface {
	Validate(ctx context.Context, code string) (*Coupon, error)
	Redeem(ctx context.Context, code string) error
}

// RepoValidator implements Validator by looking up coupons from a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon for the given code and checks its temporal
// validity, usage limits and configuration. Whether the coupon actually
// applies to a cart is decided by settlement.
func (v *RepoValidator) Validate(ctx context.Context, code string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()

	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCouponExpired
	}

	if c.MaxUses > 0 && c.Uses >= c.MaxUses {
		return nil, ErrCouponUsageLimitReached
	}

	if err := c.Check(); err != nil {
		return nil, err
	}

	return c, nil
}

// Redeem records one use of the coupon. It is called once the sale that
// applied the coupon has been committed.
func (v *RepoValidator) Redeem(ctx context.Context, code string) error {
	if err := v.repo.IncrementUses(ctx, code); err != nil {
		return errors.Wrap(err, "increment coupon uses")
	}
	return nil
}
