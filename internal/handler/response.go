package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/codec"
	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/sale"
	"github.com/xenking/pos-settlement/internal/domain/settlement"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	body := codec.Marshal(fn)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// writeError maps domain errors to HTTP responses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("code")
			e.Int(http.StatusUnprocessableEntity)
			e.FieldStart("message")
			e.Str("validation failed")
			e.FieldStart("details")
			e.ObjStart()
			for _, fe := range ve {
				e.FieldStart(fieldPath(fe))
				e.Str(validationMessage(fe))
			}
			e.ObjEnd()
			e.ObjEnd()
		})
		return
	}

	var bad *badRequestError
	if errors.As(err, &bad) {
		writeMessage(w, http.StatusBadRequest, bad.Error())
		return
	}

	switch {
	case errors.Is(err, sale.ErrNotFound), errors.Is(err, drawer.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, drawer.ErrVersionConflict), errors.Is(err, drawer.ErrInvalidState):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, cart.ErrInvalidLine),
		errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached),
		errors.Is(err, tender.ErrOverpayment),
		errors.Is(err, tender.ErrCreditLimitExceeded),
		errors.Is(err, tender.ErrUnknownMethod),
		errors.Is(err, sale.ErrNotSettled),
		errors.Is(err, sale.ErrDrawerRequired),
		errors.Is(err, sale.ErrCustomerRequired),
		errors.Is(err, drawer.ErrMissingReason):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "numeric":
		return "must be a decimal number"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}

func encodeSettlement(e *jx.Encoder, res settlement.Result) {
	e.FieldStart("gross_total")
	codec.Money(e, res.GrossTotal)
	e.FieldStart("line_discounts_total")
	codec.Money(e, res.LineDiscountsTotal)
	e.FieldStart("subtotal")
	codec.Money(e, res.Subtotal)
	e.FieldStart("global_discount_amount")
	codec.Money(e, res.GlobalDiscountAmount)
	e.FieldStart("promotion_discount_amount")
	codec.Money(e, res.PromotionDiscountAmount)
	e.FieldStart("coupon_discount_amount")
	codec.Money(e, res.CouponDiscountAmount)
	e.FieldStart("discount_total")
	codec.Money(e, res.DiscountTotal())
	e.FieldStart("total")
	codec.Money(e, res.Total)
	e.FieldStart("applied_promotions")
	codec.Applications(e, res.AppliedPromotions)
	e.FieldStart("has_exclusive")
	e.Bool(res.HasExclusive)

	e.FieldStart("coupon")
	e.ObjStart()
	e.FieldStart("code")
	e.Str(res.CouponCode)
	e.FieldStart("status")
	e.Str(string(res.CouponStatus))
	if res.CouponSuppression != "" {
		e.FieldStart("suppression_reason")
		e.Str(string(res.CouponSuppression))
	}
	e.ObjEnd()

	e.FieldStart("clamps")
	e.ArrStart()
	for _, c := range res.Clamps {
		e.ObjStart()
		e.FieldStart("stage")
		e.Str(string(c.Stage))
		e.FieldStart("amount")
		codec.Money(e, c.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeQuote(e *jx.Encoder, q *sale.Quote) {
	e.ObjStart()
	encodeSettlement(e, q.Settlement)
	if q.TotalSecondary != nil {
		e.FieldStart("total_secondary")
		codec.Decimal(e, *q.TotalSecondary)
	}
	e.ObjEnd()
}

func encodeSaleFields(e *jx.Encoder, s *sale.Sale) {
	e.FieldStart("id")
	e.Str(s.ID)
	if s.CustomerID != "" {
		e.FieldStart("customer_id")
		e.Str(s.CustomerID)
	}
	e.FieldStart("lines")
	codec.Lines(e, s.Lines)
	e.FieldStart("gross_total")
	codec.Money(e, s.GrossTotal)
	e.FieldStart("line_discounts_total")
	codec.Money(e, s.LineDiscountsTotal)
	e.FieldStart("subtotal")
	codec.Money(e, s.Subtotal)
	e.FieldStart("global_discount_amount")
	codec.Money(e, s.GlobalDiscountAmount)
	e.FieldStart("promotion_discount_amount")
	codec.Money(e, s.PromotionDiscountAmount)
	if s.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(s.CouponCode)
	}
	e.FieldStart("coupon_discount_amount")
	codec.Money(e, s.CouponDiscountAmount)
	e.FieldStart("total")
	codec.Money(e, s.Total)
	e.FieldStart("applied_promotions")
	codec.Applications(e, s.AppliedPromotions)
	e.FieldStart("tenders")
	codec.Tenders(e, s.Tenders)
	e.FieldStart("change_given")
	codec.Money(e, s.ChangeGiven)
	if s.DrawerSessionID != "" {
		e.FieldStart("drawer_session_id")
		e.Str(s.DrawerSessionID)
	}
	e.FieldStart("created_at")
	codec.Time(e, s.CreatedAt)
}

func encodeSale(e *jx.Encoder, s *sale.Sale) {
	e.ObjStart()
	encodeSaleFields(e, s)
	e.ObjEnd()
}

func encodeCommit(e *jx.Encoder, res *sale.CommitResult) {
	e.ObjStart()
	encodeSaleFields(e, res.Sale)
	e.FieldStart("payment")
	e.ObjStart()
	e.FieldStart("paid")
	codec.Money(e, res.Payment.Paid())
	e.FieldStart("remaining")
	codec.Money(e, res.Payment.Remaining())
	e.FieldStart("change")
	codec.Money(e, res.Payment.Change())
	e.ObjEnd()
	e.FieldStart("coupon_status")
	e.Str(string(res.Settlement.CouponStatus))
	e.FieldStart("clamps")
	e.ArrStart()
	for _, c := range res.Settlement.Clamps {
		e.ObjStart()
		e.FieldStart("stage")
		e.Str(string(c.Stage))
		e.FieldStart("amount")
		codec.Money(e, c.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeDrawer(e *jx.Encoder, s *drawer.Session) {
	cashIn, cashOut, saleCash := s.Totals()

	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("state")
	e.Str(string(s.State))
	e.FieldStart("opened_at")
	codec.Time(e, s.OpenedAt)
	e.FieldStart("initial_float")
	codec.Money(e, s.InitialFloat)
	e.FieldStart("totals")
	e.ObjStart()
	e.FieldStart("cash_in")
	codec.Money(e, cashIn)
	e.FieldStart("cash_out")
	codec.Money(e, cashOut)
	e.FieldStart("sale_cash")
	codec.Money(e, saleCash)
	e.ObjEnd()
	e.FieldStart("expected_balance")
	codec.Money(e, s.ExpectedBalance())
	e.FieldStart("movements")
	codec.Movements(e, s.Movements)
	e.FieldStart("version")
	e.Int64(s.Version)

	if c := s.Closure; c != nil {
		e.FieldStart("closure")
		e.ObjStart()
		e.FieldStart("closed_at")
		codec.Time(e, c.ClosedAt)
		e.FieldStart("counted_amount")
		codec.Money(e, c.CountedAmount)
		e.FieldStart("expected_balance")
		codec.Money(e, c.ExpectedBalance)
		e.FieldStart("variance")
		codec.Money(e, c.Variance)
		e.FieldStart("variance_class")
		e.Str(string(c.VarianceClass))
		e.FieldStart("variance_percent")
		codec.Decimal(e, c.VariancePercent)
		if c.Breakdown != nil {
			e.FieldStart("breakdown")
			codec.Breakdown(e, c.Breakdown)
		}
		if c.BreakdownTotal != nil {
			e.FieldStart("breakdown_total")
			codec.Money(e, *c.BreakdownTotal)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
}
