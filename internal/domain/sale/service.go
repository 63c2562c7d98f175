package sale

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
	"github.com/xenking/pos-settlement/internal/domain/settlement"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

// QuoteRequest holds the input for settling a cart.
type QuoteRequest struct {
	Lines                 []cart.Line
	GlobalDiscountPercent decimal.Decimal
	CouponCode            string
	// LoyaltyDiscount is the redemption amount computed by the loyalty module.
	LoyaltyDiscount money.Money
	// ExchangeRate converts the total for display. Zero disables conversion.
	ExchangeRate decimal.Decimal
}

// Quote is a settled cart that has not been paid.
type Quote struct {
	Settlement settlement.Result
	// TotalSecondary is the total in the secondary currency, display only.
	TotalSecondary *decimal.Decimal
}

// CommitRequest holds the input for committing a sale.
type CommitRequest struct {
	QuoteRequest
	CustomerID      string
	Tenders         []tender.Entry
	DrawerSessionID string
}

// CommitResult holds the output of a committed sale.
type CommitResult struct {
	Sale       *Sale
	Settlement settlement.Result
	Payment    tender.PaymentSet
}

// Service settles carts and commits paid sales.
type Service struct {
	promotions promotion.Repository
	coupons    coupon.Validator
	credit     CreditDirectory
	drawers    drawer.Repository
	sales      Repository

	lg  *zap.Logger
	now func() time.Time

	committed  metric.Int64Counter
	suppressed metric.Int64Counter
}

// NewService creates a sale Service with the required domain dependencies.
func NewService(
	promotions promotion.Repository,
	coupons coupon.Validator,
	credit CreditDirectory,
	drawers drawer.Repository,
	sales Repository,
	lg *zap.Logger,
	meter metric.Meter,
) (*Service, error) {
	committed, err := meter.Int64Counter("pos.sales.committed",
		metric.WithDescription("Committed sales"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sales committed counter")
	}
	suppressed, err := meter.Int64Counter("pos.coupons.suppressed",
		metric.WithDescription("Coupons offered to settlement that contributed nothing"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "coupons suppressed counter")
	}
	return &Service{
		promotions: promotions,
		coupons:    coupons,
		credit:     credit,
		drawers:    drawers,
		sales:      sales,
		lg:         lg,
		now:        time.Now,
		committed:  committed,
		suppressed: suppressed,
	}, nil
}

// Quote loads the active promotion catalog, resolves the coupon and runs
// the discount stack.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.ExchangeRate.IsNegative() {
		return nil, &money.InvalidAmountError{Field: "exchange rate", Value: req.ExchangeRate.String(), Reason: "must not be negative"}
	}

	catalog, err := s.promotions.Active(ctx, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "load promotions")
	}

	var c *coupon.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		c, err = s.coupons.Validate(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	res, err := settlement.Compute(settlement.Input{
		Lines:           req.Lines,
		GlobalDiscount:  settlement.GlobalDiscount{Percent: req.GlobalDiscountPercent},
		Coupon:          c,
		Promotions:      catalog,
		LoyaltyDiscount: req.LoyaltyDiscount,
	})
	if err != nil {
		return nil, err
	}

	q := &Quote{Settlement: res}
	if req.ExchangeRate.IsPositive() {
		v := money.Convert(res.Total, req.ExchangeRate)
		q.TotalSecondary = &v
	}
	return q, nil
}

// Commit settles the cart, allocates the tenders, posts the cash kept to the
// drawer and persists the sale. Nothing is written unless the payment set
// covers the total.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	q, err := s.Quote(ctx, req.QuoteRequest)
	if err != nil {
		return nil, err
	}
	res := q.Settlement

	var opts []tender.Option
	if usesStoreCredit(req.Tenders) {
		if req.CustomerID == "" {
			return nil, ErrCustomerRequired
		}
		available, err := s.credit.AvailableCredit(ctx, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "available credit")
		}
		opts = append(opts, tender.WithAvailableCredit(available))
	}

	payment, err := tender.Allocate(res.Total, req.Tenders, opts...)
	if err != nil {
		return nil, err
	}
	if !payment.IsSettled() {
		return nil, &NotSettledError{Total: res.Total, Remaining: payment.Remaining()}
	}

	now := s.now().UTC()
	sale := &Sale{
		ID:                      uuid.New().String(),
		CustomerID:              req.CustomerID,
		Lines:                   req.Lines,
		GrossTotal:              res.GrossTotal,
		LineDiscountsTotal:      res.LineDiscountsTotal,
		Subtotal:                res.Subtotal,
		GlobalDiscountAmount:    res.GlobalDiscountAmount,
		PromotionDiscountAmount: res.PromotionDiscountAmount,
		CouponDiscountAmount:    res.CouponDiscountAmount,
		Total:                   res.Total,
		AppliedPromotions:       res.AppliedPromotions,
		Tenders:                 payment.Entries(),
		ChangeGiven:             payment.Change(),
		CreatedAt:               now,
	}
	if res.CouponStatus == settlement.CouponApplied {
		sale.CouponCode = res.CouponCode
	}

	var session *drawer.Session
	if cash := payment.CashNet(); cash > 0 {
		if req.DrawerSessionID == "" {
			return nil, ErrDrawerRequired
		}
		cur, err := s.drawers.Get(ctx, req.DrawerSessionID)
		if err != nil {
			return nil, errors.Wrap(err, "get drawer session")
		}
		next, err := drawer.RecordCashSale(*cur, sale.ID, cash, now)
		if err != nil {
			return nil, err
		}
		session = &next
		sale.DrawerSessionID = next.ID
	}

	if err := s.sales.Create(ctx, sale, session); err != nil {
		return nil, errors.Wrap(err, "create sale")
	}

	s.committed.Add(ctx, 1)
	if res.CouponStatus == settlement.CouponSuppressed {
		s.suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(res.CouponSuppression))))
	}
	if sale.CouponCode != "" {
		// The sale is already committed; a failed counter update must not undo it.
		if err := s.coupons.Redeem(ctx, sale.CouponCode); err != nil {
			s.lg.Warn("Coupon redemption not recorded",
				zap.String("sale_id", sale.ID),
				zap.String("coupon", sale.CouponCode),
				zap.Error(err),
			)
		}
	}

	s.lg.Info("Sale committed",
		zap.String("sale_id", sale.ID),
		zap.Stringer("total", sale.Total),
		zap.Stringer("change", sale.ChangeGiven),
		zap.Int("tenders", len(sale.Tenders)),
	)

	return &CommitResult{Sale: sale, Settlement: res, Payment: payment}, nil
}

// Get loads a committed sale.
func (s *Service) Get(ctx context.Context, id string) (*Sale, error) {
	sale, err := s.sales.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get sale")
	}
	return sale, nil
}

func usesStoreCredit(entries []tender.Entry) bool {
	for _, e := range entries {
		if e.Method == tender.MethodStoreCredit {
			return true
		}
	}
	return false
}
