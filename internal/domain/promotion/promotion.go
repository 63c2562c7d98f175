// Package promotion evaluates a promotion catalog against a cart and
// resolves conflicts between qualifying promotions.
package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// Kind enumerates the supported promotion strategies.
type Kind string

const (
	// KindQuantityNForM makes M units free for every N eligible units (3x2 style).
	KindQuantityNForM Kind = "quantity_n_for_m"
	// KindPercent takes a percentage off the baseline or the eligible subtotal.
	KindPercent Kind = "percent"
	// KindFixedAmount takes a fixed amount off, capped at the base it applies to.
	KindFixedAmount Kind = "fixed_amount"
	// KindGift adds a free item out-of-band and carries no monetary discount.
	KindGift Kind = "gift"
	// KindSpecialPrice sells matching products at a special unit price.
	KindSpecialPrice Kind = "special_price"
)

// LoyaltyRedemptionID identifies the synthetic promotion that carries a
// loyalty points redemption.
const LoyaltyRedemptionID = "loyalty-redemption"

// Rules holds the parameters of a promotion. Which fields matter depends on
// the promotion Kind.
type Rules struct {
	// ProductIDs scopes the promotion to matching lines. Empty means every line.
	ProductIDs []string
	// MinimumQuantity is the least number of eligible units required.
	MinimumQuantity int
	// MinimumSubtotal is compared against the baseline, or against the
	// eligible subtotal when ProductIDs is set.
	MinimumSubtotal money.Money

	// BuyQuantity is N, the size of a qualifying group.
	BuyQuantity int
	// FreeQuantity is M, the free units inside each group.
	FreeQuantity int

	Percent decimal.Decimal
	Amount  money.Money

	SpecialPrice money.Money
	// MaxQuantity caps the discounted units per line. Zero means no cap.
	MaxQuantity int

	GiftProductID string
	GiftQuantity  int
}

// Promotion is a catalog entry.
type Promotion struct {
	ID                   string
	Name                 string
	Kind                 Kind
	Rules                Rules
	Exclusive            bool
	Priority             int
	StackableWithCoupons bool
	ValidFrom            *time.Time
	ValidUntil           *time.Time
}

// ActiveAt reports whether t lies inside the promotion validity window.
func (p Promotion) ActiveAt(t time.Time) bool {
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && t.After(*p.ValidUntil) {
		return false
	}
	return true
}

// LoyaltyRedemption wraps a pre-computed loyalty discount as a non-exclusive
// fixed-amount promotion.
func LoyaltyRedemption(amount money.Money) Promotion {
	return Promotion{
		ID:                   LoyaltyRedemptionID,
		Name:                 "Loyalty points redemption",
		Kind:                 KindFixedAmount,
		Rules:                Rules{Amount: amount},
		StackableWithCoupons: true,
	}
}

// Application records a qualifying promotion and the discount it contributed.
type Application struct {
	PromotionID    string
	Name           string
	Kind           Kind
	DiscountAmount money.Money
	Exclusive      bool
	Priority       int
	// Gift fields are set for KindGift only.
	GiftProductID string
	GiftQuantity  int

	// capped is the part of a fixed amount that exceeded the base it
	// applies to.
	capped money.Money
}

// Evaluation is the outcome of evaluating a catalog.
type Evaluation struct {
	Applied        []Application
	DiscountAmount money.Money
	HasExclusive   bool
	// StackableWithCoupons is meaningful when HasExclusive is set and
	// mirrors the winning exclusive promotion.
	StackableWithCoupons bool
	// Clamped is the discount discarded because it exceeded the baseline or
	// the eligible subtotal of a scoped fixed amount.
	Clamped money.Money
}

// Repository loads the promotion catalog.
type Repository interface {
	// Active returns promotions whose validity window contains at.
	Active(ctx context.Context, at time.Time) ([]Promotion, error)
}
