// Package codec encodes domain values as JSON with jx.
//
// Monetary amounts are written as two-decimal strings ("12.50") and accepted
// as strings or numbers, so no amount ever passes through a float.
package codec

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// Marshal runs fn against a fresh encoder and returns the written bytes.
func Marshal(fn func(e *jx.Encoder)) []byte {
	var e jx.Encoder
	fn(&e)
	return e.Bytes()
}

// Money writes m as a decimal string.
func Money(e *jx.Encoder, m money.Money) {
	e.Str(m.String())
}

// Decimal writes v as a decimal string.
func Decimal(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.String())
}

// Time writes t in RFC 3339 with nanoseconds.
func Time(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// OptTime writes t or null.
func OptTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	Time(e, *t)
}

// Strings writes a string array.
func Strings(e *jx.Encoder, v []string) {
	e.ArrStart()
	for _, s := range v {
		e.Str(s)
	}
	e.ArrEnd()
}

// DecodeDecimal reads a decimal from a JSON string or number.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := numeric(d)
	if err != nil {
		return decimal.Decimal{}, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &money.InvalidAmountError{Value: s, Reason: "not a decimal number"}
	}
	return v, nil
}

// DecodeMoney reads an amount from a JSON string or number, rounding half-up
// to the cent.
func DecodeMoney(d *jx.Decoder) (money.Money, error) {
	s, err := numeric(d)
	if err != nil {
		return 0, err
	}
	return money.Parse(s)
}

// DecodeTime reads an RFC 3339 timestamp.
func DecodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse time")
	}
	return t, nil
}

// DecodeOptTime reads a timestamp or null.
func DecodeOptTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	t, err := DecodeTime(d)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DecodeStrings reads a string array.
func DecodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func numeric(d *jx.Decoder) (string, error) {
	switch t := d.Next(); t {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("expected number or string, got %s", t)
	}
}
