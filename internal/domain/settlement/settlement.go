// Package settlement computes the payable amount of a cart.
//
// Discounts are applied in a fixed order that is part of the contract:
// line discounts, the global percentage, promotions, then the coupon.
// Changing the order changes the legally payable amount.
package settlement

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
)

// CouponStatus describes what happened to the offered coupon.
type CouponStatus string

const (
	CouponNone       CouponStatus = "none"
	CouponApplied    CouponStatus = "applied"
	CouponSuppressed CouponStatus = "suppressed"
)

// SuppressionReason explains why a coupon contributed nothing.
type SuppressionReason string

const (
	SuppressedByExclusivePromotion SuppressionReason = "exclusive_promotion"
	SuppressedByMinimumSubtotal    SuppressionReason = "minimum_subtotal"
)

// Stage names a step of the discount stack, used in clamp diagnostics.
type Stage string

const (
	StageGlobal    Stage = "global_discount"
	StagePromotion Stage = "promotion"
	StageCoupon    Stage = "coupon"
	StageTotal     Stage = "total"
)

// Clamp records an amount discarded to keep a value from going below zero.
type Clamp struct {
	Stage  Stage
	Amount money.Money
}

// GlobalDiscount is a percentage applied to the post-line-discount subtotal.
type GlobalDiscount struct {
	Percent decimal.Decimal
}

// Input is an immutable snapshot of everything settlement depends on.
type Input struct {
	Lines          []cart.Line
	GlobalDiscount GlobalDiscount
	Coupon         *coupon.Coupon
	Promotions     []promotion.Promotion
	// LoyaltyDiscount is a redemption amount computed by the loyalty module.
	LoyaltyDiscount money.Money
}

// Result is the derived settlement of a cart.
type Result struct {
	GrossTotal              money.Money
	LineDiscountsTotal      money.Money
	Subtotal                money.Money
	GlobalDiscountAmount    money.Money
	PromotionDiscountAmount money.Money
	CouponDiscountAmount    money.Money
	Total                   money.Money

	AppliedPromotions []promotion.Application
	HasExclusive      bool

	CouponCode        string
	CouponStatus      CouponStatus
	CouponSuppression SuppressionReason

	Clamps []Clamp
}

// DiscountTotal returns the sum of every discount below the subtotal.
func (r Result) DiscountTotal() money.Money {
	return r.GlobalDiscountAmount + r.PromotionDiscountAmount + r.CouponDiscountAmount
}

// Compute runs the discount stack over in. It fails only on invalid input;
// amounts that would go negative are clamped and reported in Result.Clamps.
func Compute(in Input) (Result, error) {
	if err := cart.Validate(in.Lines); err != nil {
		return Result{}, err
	}
	if err := money.ValidatePercent("global discount", in.GlobalDiscount.Percent); err != nil {
		return Result{}, err
	}
	if err := money.RequireNonNegative("loyalty discount", in.LoyaltyDiscount); err != nil {
		return Result{}, err
	}
	if in.Coupon != nil {
		if err := in.Coupon.Check(); err != nil {
			return Result{}, errors.Wrapf(err, "coupon %s", in.Coupon.Code)
		}
	}

	res := Result{CouponStatus: CouponNone}

	// 1. Subtotal after line discounts.
	totals := cart.Summarize(in.Lines)
	res.GrossTotal = totals.Gross
	res.LineDiscountsTotal = totals.LineDiscounts
	res.Subtotal = totals.Subtotal

	// 2. Global percentage.
	res.GlobalDiscountAmount = money.PercentageOf(res.Subtotal, in.GlobalDiscount.Percent)
	afterGlobal, clamped := money.SubClamped(res.Subtotal, res.GlobalDiscountAmount)
	res.addClamp(StageGlobal, clamped)

	// 3. Promotions, with the loyalty redemption as a fixed-amount contribution.
	catalog := in.Promotions
	if in.LoyaltyDiscount > 0 {
		catalog = append(append([]promotion.Promotion(nil), in.Promotions...),
			promotion.LoyaltyRedemption(in.LoyaltyDiscount))
	}
	eval := promotion.Evaluate(in.Lines, catalog, afterGlobal)
	res.PromotionDiscountAmount = eval.DiscountAmount
	res.AppliedPromotions = eval.Applied
	res.HasExclusive = eval.HasExclusive
	res.addClamp(StagePromotion, eval.Clamped)

	afterPromotions, clamped := money.SubClamped(afterGlobal, res.PromotionDiscountAmount)
	res.addClamp(StagePromotion, clamped)

	// 4. Coupon.
	if c := in.Coupon; c != nil {
		res.CouponCode = c.Code
		switch {
		case eval.HasExclusive && !eval.StackableWithCoupons:
			res.CouponStatus = CouponSuppressed
			res.CouponSuppression = SuppressedByExclusivePromotion
		case !c.Eligible(afterPromotions):
			res.CouponStatus = CouponSuppressed
			res.CouponSuppression = SuppressedByMinimumSubtotal
		default:
			res.CouponStatus = CouponApplied
			res.CouponDiscountAmount = c.Discount(afterPromotions)
			if c.Kind == coupon.KindFixedAmount {
				if nominal, err := money.FromDecimal(c.Value); err == nil && nominal > res.CouponDiscountAmount {
					res.addClamp(StageCoupon, nominal-res.CouponDiscountAmount)
				}
			}
		}
	}

	// 5. Total.
	total, clamped := money.SubClamped(afterPromotions, res.CouponDiscountAmount)
	res.addClamp(StageTotal, clamped)
	res.Total = total

	return res, nil
}

func (r *Result) addClamp(stage Stage, amount money.Money) {
	if amount > 0 {
		r.Clamps = append(r.Clamps, Clamp{Stage: stage, Amount: amount})
	}
}
