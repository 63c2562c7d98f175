package promotion

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/money"
)

var hundred = decimal.NewFromInt(100)

// Evaluate determines which promotions in catalog qualify for lines, computes
// each one's discount and resolves exclusivity. baseline is the amount the
// promotions apply to (the cart subtotal after the global discount); the
// returned DiscountAmount never exceeds it.
func Evaluate(lines []cart.Line, catalog []Promotion, baseline money.Money) Evaluation {
	baseline = money.FloorAtZero(baseline)

	var qualifying []Application
	for _, p := range catalog {
		app, ok := evaluateOne(lines, p, baseline)
		if ok {
			qualifying = append(qualifying, app)
		}
	}
	if len(qualifying) == 0 {
		return Evaluation{}
	}

	slices.SortFunc(qualifying, byPriority)

	var res Evaluation
	if winner, ok := pickExclusive(qualifying); ok {
		res.HasExclusive = true
		res.StackableWithCoupons = exclusiveStackable(catalog, winner.PromotionID)
		qualifying = []Application{winner}
	}

	// Allocate the baseline across applications in priority order so the
	// recorded per-promotion amounts add up to the clamped total.
	remaining := baseline
	res.Applied = make([]Application, 0, len(qualifying))
	for _, app := range qualifying {
		take := money.Min(app.DiscountAmount, remaining)
		res.Clamped += app.capped + app.DiscountAmount - take
		remaining -= take
		app.DiscountAmount = take
		res.DiscountAmount += take
		res.Applied = append(res.Applied, app)
	}

	return res
}

// byPriority orders applications by descending priority, then ascending id.
func byPriority(a, b Application) int {
	if a.Priority != b.Priority {
		return cmp.Compare(b.Priority, a.Priority)
	}
	return strings.Compare(a.PromotionID, b.PromotionID)
}

// pickExclusive returns the first exclusive application in priority order.
// The input must already be sorted with byPriority.
func pickExclusive(apps []Application) (Application, bool) {
	for _, app := range apps {
		if app.Exclusive {
			return app, true
		}
	}
	return Application{}, false
}

func exclusiveStackable(catalog []Promotion, id string) bool {
	for _, p := range catalog {
		if p.ID == id {
			return p.StackableWithCoupons
		}
	}
	return false
}

func evaluateOne(lines []cart.Line, p Promotion, baseline money.Money) (Application, bool) {
	eligible := eligibleLines(lines, p.Rules)
	if len(eligible) == 0 {
		return Application{}, false
	}
	if !meetsMinimums(eligible, p.Rules, baseline) {
		return Application{}, false
	}

	app := Application{
		PromotionID: p.ID,
		Name:        p.Name,
		Kind:        p.Kind,
		Exclusive:   p.Exclusive,
		Priority:    p.Priority,
	}

	var ok bool
	switch p.Kind {
	case KindQuantityNForM:
		app.DiscountAmount, ok = quantityNForM(eligible, p.Rules)
	case KindPercent:
		app.DiscountAmount, ok = percentOff(eligible, p.Rules, baseline)
	case KindFixedAmount:
		app.DiscountAmount, app.capped, ok = fixedOff(eligible, p.Rules, baseline)
	case KindSpecialPrice:
		app.DiscountAmount, ok = specialPrice(eligible, p.Rules)
	case KindGift:
		ok = p.Rules.GiftProductID != ""
		app.GiftProductID = p.Rules.GiftProductID
		app.GiftQuantity = max(p.Rules.GiftQuantity, 1)
	}
	return app, ok
}

func eligibleLines(lines []cart.Line, r Rules) []cart.Line {
	if len(r.ProductIDs) == 0 {
		return lines
	}
	var out []cart.Line
	for _, l := range lines {
		if slices.Contains(r.ProductIDs, l.ProductID) {
			out = append(out, l)
		}
	}
	return out
}

// scopedBase is the amount a promotion's minimum and percentage refer to: the
// baseline for unscoped promotions, the eligible lines' net subtotal
// otherwise, never more than the baseline.
func scopedBase(eligible []cart.Line, r Rules, baseline money.Money) money.Money {
	if len(r.ProductIDs) == 0 {
		return baseline
	}
	return money.Min(cart.Summarize(eligible).Subtotal, baseline)
}

func meetsMinimums(eligible []cart.Line, r Rules, baseline money.Money) bool {
	if r.MinimumQuantity > 0 && cart.Summarize(eligible).Quantity < r.MinimumQuantity {
		return false
	}
	if r.MinimumSubtotal > 0 && scopedBase(eligible, r, baseline) < r.MinimumSubtotal {
		return false
	}
	return true
}

// quantityNForM makes FreeQuantity units free for every complete group of
// BuyQuantity eligible units, picking the cheapest units first.
func quantityNForM(eligible []cart.Line, r Rules) (money.Money, bool) {
	n, m := r.BuyQuantity, r.FreeQuantity
	if n <= 0 || m <= 0 || m >= n {
		return 0, false
	}
	qty := cart.Summarize(eligible).Quantity
	if qty < n {
		return 0, false
	}
	free := (qty / n) * m

	sorted := slices.Clone(eligible)
	slices.SortFunc(sorted, func(a, b cart.Line) int {
		if a.UnitPrice != b.UnitPrice {
			if a.UnitPrice < b.UnitPrice {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	var discount money.Money
	for _, l := range sorted {
		if free == 0 {
			break
		}
		units := min(l.Quantity, free)
		discount += money.MultiplyByQuantity(l.UnitPrice, units)
		free -= units
	}
	return discount, true
}

func percentOff(eligible []cart.Line, r Rules, baseline money.Money) (money.Money, bool) {
	if !r.Percent.IsPositive() || r.Percent.GreaterThan(hundred) {
		return 0, false
	}
	return money.PercentageOf(scopedBase(eligible, r, baseline), r.Percent), true
}

// fixedOff returns the amount capped at its base and the part that was cut.
func fixedOff(eligible []cart.Line, r Rules, baseline money.Money) (amount, capped money.Money, ok bool) {
	if r.Amount <= 0 {
		return 0, 0, false
	}
	amount = money.Min(r.Amount, scopedBase(eligible, r, baseline))
	return amount, r.Amount - amount, true
}

func specialPrice(eligible []cart.Line, r Rules) (money.Money, bool) {
	if r.SpecialPrice < 0 {
		return 0, false
	}
	var discount money.Money
	for _, l := range eligible {
		units := l.Quantity
		if r.MaxQuantity > 0 {
			units = min(units, r.MaxQuantity)
		}
		diff := money.FloorAtZero(l.UnitPrice - r.SpecialPrice)
		discount += money.MultiplyByQuantity(diff, units)
	}
	return discount, true
}
