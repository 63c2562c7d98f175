package codec

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

func TestDecodeMoney(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    money.Money
		wantErr bool
	}{
		{name: "string", input: `"12.50"`, want: 1250},
		{name: "number", input: `12.5`, want: 1250},
		{name: "integer", input: `7`, want: 700},
		{name: "rounds half up", input: `"0.005"`, want: 1},
		{name: "negative", input: `"-3.10"`, want: -310},
		{name: "not numeric", input: `"abc"`, wantErr: true},
		{name: "bool", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMoney(jx.DecodeStr(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoneyEncodesAsString(t *testing.T) {
	out := Marshal(func(e *jx.Encoder) { Money(e, -1005) })
	assert.Equal(t, `"-10.05"`, string(out))
}

func TestDecodeLines_SkipsUnknownFields(t *testing.T) {
	lines, err := DecodeLines(jx.DecodeStr(`[
		{"line_id":"l1","product_id":"p1","unit_price":"9.99","quantity":3,"line_discount":1,"note":{"x":[1,2]}},
		{"line_id":"l2","unit_price":5,"quantity":1}
	]`))
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, "p1", lines[0].ProductID)
	assert.Equal(t, money.Money(999), lines[0].UnitPrice)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, money.Money(100), lines[0].LineDiscount)
	assert.Equal(t, money.Zero, lines[1].LineDiscount)
}

func TestPromotionsRoundTrip(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	catalog := []promotion.Promotion{
		{
			ID:       "3x2",
			Name:     "Three for two",
			Kind:     promotion.KindQuantityNForM,
			Rules:    promotion.Rules{ProductIDs: []string{"a", "b"}, BuyQuantity: 3, FreeQuantity: 1},
			Priority: 5,
		},
		{
			ID:                   "pct",
			Kind:                 promotion.KindPercent,
			Rules:                promotion.Rules{Percent: decimal.RequireFromString("12.5"), MinimumSubtotal: 5000},
			Exclusive:            true,
			StackableWithCoupons: true,
			ValidFrom:            &from,
		},
	}

	got, err := DecodePromotions(jx.DecodeBytes(Marshal(func(e *jx.Encoder) { Promotions(e, catalog) })))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, catalog[0], got[0])
	assert.True(t, catalog[1].Rules.Percent.Equal(got[1].Rules.Percent))
	assert.Equal(t, catalog[1].Rules.MinimumSubtotal, got[1].Rules.MinimumSubtotal)
	assert.True(t, got[1].Exclusive)
	require.NotNil(t, got[1].ValidFrom)
	assert.True(t, from.Equal(*got[1].ValidFrom))
	assert.Nil(t, got[1].ValidUntil)
}

func TestDecodePromotions_Empty(t *testing.T) {
	got, err := DecodePromotions(jx.DecodeStr(`[]`))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTenders(t *testing.T) {
	entries := []tender.Entry{
		{Method: tender.MethodCash, Amount: 500, AmountTendered: 1000},
		{Method: tender.MethodCard, Amount: 250, Reference: "auth-1"},
	}
	out := Marshal(func(e *jx.Encoder) { Tenders(e, entries) })
	assert.JSONEq(t, `[
		{"method":"cash","amount":"5.00","amount_tendered":"10.00"},
		{"method":"card","amount":"2.50","reference":"auth-1"}
	]`, string(out))

	got, err := DecodeTenders(jx.DecodeBytes(out))
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestMovementsAndBreakdown(t *testing.T) {
	at := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	movements := []drawer.Movement{
		{Type: drawer.CashIn, Amount: 5000, Reason: "float top-up", At: at},
		{Type: drawer.SaleCash, Amount: 1250, Reason: "sale s-1", SaleID: "s-1", At: at},
	}
	got, err := DecodeMovements(jx.DecodeBytes(Marshal(func(e *jx.Encoder) { Movements(e, movements) })))
	require.NoError(t, err)
	assert.Equal(t, movements, got)

	counts, err := DecodeBreakdown(jx.DecodeStr(`[{"denomination":"20.00","count":3},{"denomination":0.5,"count":4}]`))
	require.NoError(t, err)
	assert.Equal(t, []drawer.DenominationCount{{Denomination: 2000, Count: 3}, {Denomination: 50, Count: 4}}, counts)
}
