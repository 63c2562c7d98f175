package handler

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/sale"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Amounts travel as decimal strings or JSON numbers and are kept verbatim
// until validation has passed.

type lineRequest struct {
	ID           string `json:"line_id" validate:"required,max=64"`
	ProductID    string `json:"product_id" validate:"omitempty,max=64"`
	UnitPrice    string `json:"unit_price" validate:"required,numeric"`
	Quantity     int    `json:"quantity" validate:"min=1,max=1000000"`
	LineDiscount string `json:"line_discount" validate:"omitempty,numeric"`
}

type quoteRequest struct {
	Lines                 []lineRequest `json:"lines" validate:"max=500,dive"`
	GlobalDiscountPercent string        `json:"global_discount_percent" validate:"omitempty,numeric"`
	CouponCode            string        `json:"coupon_code" validate:"max=64"`
	LoyaltyDiscount       string        `json:"loyalty_discount" validate:"omitempty,numeric"`
	ExchangeRate          string        `json:"exchange_rate" validate:"omitempty,numeric"`
}

type tenderRequest struct {
	Method         string `json:"method" validate:"required,oneof=cash card transfer qr store_credit"`
	Amount         string `json:"amount" validate:"required_without=AmountTendered,omitempty,numeric"`
	AmountTendered string `json:"amount_tendered" validate:"omitempty,numeric"`
	Reference      string `json:"reference" validate:"max=128"`
}

type saleRequest struct {
	quote           quoteRequest
	CustomerID      string          `json:"customer_id" validate:"max=64"`
	Tenders         []tenderRequest `json:"tenders" validate:"max=20,dive"`
	DrawerSessionID string          `json:"drawer_session_id" validate:"max=64"`
}

type openDrawerRequest struct {
	InitialFloat string `json:"initial_float" validate:"required,numeric"`
}

type movementRequest struct {
	Type   string `json:"type" validate:"required,oneof=cash_in cash_out"`
	Amount string `json:"amount" validate:"required,numeric"`
	Reason string `json:"reason" validate:"max=256"`
}

type denominationRequest struct {
	Denomination string `json:"denomination" validate:"required,numeric"`
	Count        int    `json:"count" validate:"min=0"`
}

type closeDrawerRequest struct {
	CountedAmount string                `json:"counted_amount" validate:"required,numeric"`
	Breakdown     []denominationRequest `json:"breakdown" validate:"max=50,dive"`
}

// badRequestError reports a body that is not well-formed JSON.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "malformed request body: " + e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

// decodeBody reads a JSON object from the request body, calling field for
// every key, then validates each of dst.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error, dst ...any) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	if err := d.Obj(field); err != nil {
		return &badRequestError{err: err}
	}
	for _, v := range dst {
		if err := validate.Struct(v); err != nil {
			return err
		}
	}
	return nil
}

// amount reads a JSON string or number as its textual form.
func amount(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("expected amount, got %s", d.Next())
	}
}

func (q *quoteRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "lines":
		err = d.Arr(func(d *jx.Decoder) error {
			var l lineRequest
			if err := d.Obj(l.decodeField); err != nil {
				return err
			}
			q.Lines = append(q.Lines, l)
			return nil
		})
	case "global_discount_percent":
		q.GlobalDiscountPercent, err = amount(d)
	case "coupon_code":
		q.CouponCode, err = d.Str()
	case "loyalty_discount":
		q.LoyaltyDiscount, err = amount(d)
	case "exchange_rate":
		q.ExchangeRate, err = amount(d)
	default:
		err = d.Skip()
	}
	return err
}

func (l *lineRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "line_id":
		l.ID, err = d.Str()
	case "product_id":
		l.ProductID, err = d.Str()
	case "unit_price":
		l.UnitPrice, err = amount(d)
	case "quantity":
		l.Quantity, err = d.Int()
	case "line_discount":
		l.LineDiscount, err = amount(d)
	default:
		err = d.Skip()
	}
	return err
}

func (s *saleRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "customer_id":
		s.CustomerID, err = d.Str()
	case "drawer_session_id":
		s.DrawerSessionID, err = d.Str()
	case "tenders":
		err = d.Arr(func(d *jx.Decoder) error {
			var t tenderRequest
			if err := d.Obj(t.decodeField); err != nil {
				return err
			}
			s.Tenders = append(s.Tenders, t)
			return nil
		})
	default:
		err = s.quote.decodeField(d, key)
	}
	return err
}

func (t *tenderRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "method":
		t.Method, err = d.Str()
	case "amount":
		t.Amount, err = amount(d)
	case "amount_tendered":
		t.AmountTendered, err = amount(d)
	case "reference":
		t.Reference, err = d.Str()
	default:
		err = d.Skip()
	}
	return err
}

func (o *openDrawerRequest) decodeField(d *jx.Decoder, key string) error {
	if key == "initial_float" {
		var err error
		o.InitialFloat, err = amount(d)
		return err
	}
	return d.Skip()
}

func (m *movementRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "type":
		m.Type, err = d.Str()
	case "amount":
		m.Amount, err = amount(d)
	case "reason":
		m.Reason, err = d.Str()
	default:
		err = d.Skip()
	}
	return err
}

func (c *closeDrawerRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "counted_amount":
		c.CountedAmount, err = amount(d)
	case "breakdown":
		err = d.Arr(func(d *jx.Decoder) error {
			var b denominationRequest
			err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "denomination":
					b.Denomination, err = amount(d)
				case "count":
					b.Count, err = d.Int()
				default:
					err = d.Skip()
				}
				return err
			})
			if err != nil {
				return err
			}
			c.Breakdown = append(c.Breakdown, b)
			return nil
		})
	default:
		err = d.Skip()
	}
	return err
}

// parseAmount parses an optional amount; empty means zero.
func parseAmount(field, s string) (money.Money, error) {
	if s == "" {
		return 0, nil
	}
	m, err := money.Parse(s)
	if err != nil {
		var ia *money.InvalidAmountError
		if errors.As(err, &ia) {
			ia.Field = field
		}
		return 0, err
	}
	return m, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &money.InvalidAmountError{Field: field, Value: s, Reason: "not a decimal number"}
	}
	return v, nil
}

func (q *quoteRequest) toDomain() (sale.QuoteRequest, error) {
	out := sale.QuoteRequest{
		Lines:      make([]cart.Line, 0, len(q.Lines)),
		CouponCode: q.CouponCode,
	}
	for _, l := range q.Lines {
		price, err := parseAmount("unit_price", l.UnitPrice)
		if err != nil {
			return out, err
		}
		discount, err := parseAmount("line_discount", l.LineDiscount)
		if err != nil {
			return out, err
		}
		out.Lines = append(out.Lines, cart.Line{
			ID:           l.ID,
			ProductID:    l.ProductID,
			UnitPrice:    price,
			Quantity:     l.Quantity,
			LineDiscount: discount,
		})
	}

	var err error
	if out.GlobalDiscountPercent, err = parseDecimal("global_discount_percent", q.GlobalDiscountPercent); err != nil {
		return out, err
	}
	if out.LoyaltyDiscount, err = parseAmount("loyalty_discount", q.LoyaltyDiscount); err != nil {
		return out, err
	}
	if out.ExchangeRate, err = parseDecimal("exchange_rate", q.ExchangeRate); err != nil {
		return out, err
	}
	return out, nil
}

func (s *saleRequest) toDomain() (sale.CommitRequest, error) {
	quote, err := s.quote.toDomain()
	if err != nil {
		return sale.CommitRequest{}, err
	}
	out := sale.CommitRequest{
		QuoteRequest:    quote,
		CustomerID:      s.CustomerID,
		DrawerSessionID: s.DrawerSessionID,
		Tenders:         make([]tender.Entry, 0, len(s.Tenders)),
	}
	for _, t := range s.Tenders {
		method, err := tender.ParseMethod(t.Method)
		if err != nil {
			return out, err
		}
		amt, err := parseAmount("amount", t.Amount)
		if err != nil {
			return out, err
		}
		tendered, err := parseAmount("amount_tendered", t.AmountTendered)
		if err != nil {
			return out, err
		}
		out.Tenders = append(out.Tenders, tender.Entry{
			Method:         method,
			Amount:         amt,
			AmountTendered: tendered,
			Reference:      t.Reference,
		})
	}
	return out, nil
}

func (c *closeDrawerRequest) toDomain() (money.Money, []drawer.DenominationCount, error) {
	counted, err := parseAmount("counted_amount", c.CountedAmount)
	if err != nil {
		return 0, nil, err
	}
	var breakdown []drawer.DenominationCount
	for _, b := range c.Breakdown {
		denom, err := parseAmount("denomination", b.Denomination)
		if err != nil {
			return 0, nil, err
		}
		breakdown = append(breakdown, drawer.DenominationCount{Denomination: denom, Count: b.Count})
	}
	return counted, breakdown, nil
}
