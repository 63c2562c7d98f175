package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

type mockCouponRepo struct {
	coupon        *Coupon
	err           error
	incrementErr  error
	incrementCode string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, _ string) (*Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCouponRepo) IncrementUses(_ context.Context, code string) error {
	m.incrementCode = code
	return m.incrementErr
}

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name    string
		repo    *mockCouponRepo
		code    string
		wantErr error
	}{
		{
			name: "valid code",
			repo: &mockCouponRepo{
				coupon: &Coupon{Code: "SAVE10", Kind: KindPercent, Value: decimal.NewFromInt(10)},
			},
			code: "SAVE10",
		},
		{
			name:    "blank code",
			repo:    &mockCouponRepo{},
			code:    "   ",
			wantErr: ErrInvalidCoupon,
		},
		{
			name:    "unknown code",
			repo:    &mockCouponRepo{err: ErrInvalidCoupon},
			code:    "BOGUS",
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "expired",
			repo: &mockCouponRepo{
				coupon: &Coupon{Code: "OLD", Kind: KindPercent, Value: decimal.NewFromInt(10), ValidUntil: &pastTime},
			},
			code:    "OLD",
			wantErr: ErrCouponExpired,
		},
		{
			name: "not yet valid",
			repo: &mockCouponRepo{
				coupon: &Coupon{Code: "SOON", Kind: KindPercent, Value: decimal.NewFromInt(10), ValidFrom: &futureTime},
			},
			code:    "SOON",
			wantErr: ErrCouponExpired,
		},
		{
			name: "within window",
			repo: &mockCouponRepo{
				coupon: &Coupon{
					Code: "WINDOW", Kind: KindFixedAmount, Value: decimal.NewFromInt(5),
					ValidFrom: &pastTime, ValidUntil: &futureTime,
				},
			},
			code: "WINDOW",
		},
		{
			name: "usage limit reached",
			repo: &mockCouponRepo{
				coupon: &Coupon{Code: "LIMITED", Kind: KindPercent, Value: decimal.NewFromInt(10), MaxUses: 100, Uses: 100},
			},
			code:    "LIMITED",
			wantErr: ErrCouponUsageLimitReached,
		},
		{
			name: "unlimited uses",
			repo: &mockCouponRepo{
				coupon: &Coupon{Code: "UNLIMITED", Kind: KindFixedAmount, Value: decimal.NewFromInt(5), Uses: 9999},
			},
			code: "UNLIMITED",
		},
		{
			name: "misconfigured kind",
			repo: &mockCouponRepo{
				coupon: &Coupon{Code: "BAD", Kind: Kind("bogus"), Value: decimal.NewFromInt(5)},
			},
			code:    "BAD",
			wantErr: ErrInvalidCoupon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.code)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestRepoValidator_RepositoryError(t *testing.T) {
	v := NewRepoValidator(&mockCouponRepo{err: errors.New("db down")})

	_, err := v.Validate(context.Background(), "ANY")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestRepoValidator_Redeem(t *testing.T) {
	repo := &mockCouponRepo{}
	v := NewRepoValidator(repo)

	require.NoError(t, v.Redeem(context.Background(), "INC"))
	assert.Equal(t, "INC", repo.incrementCode)

	repo.incrementErr = errors.New("db error")
	err := v.Redeem(context.Background(), "FAIL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment coupon uses")
}

func TestCoupon_Discount(t *testing.T) {
	tests := []struct {
		name   string
		coupon Coupon
		base   string
		want   string
	}{
		{name: "percent", coupon: Coupon{Kind: KindPercent, Value: decimal.NewFromInt(10)}, base: "855.00", want: "85.50"},
		{name: "percent rounds half up", coupon: Coupon{Kind: KindPercent, Value: decimal.NewFromInt(15)}, base: "29.97", want: "4.50"},
		{name: "fixed", coupon: Coupon{Kind: KindFixedAmount, Value: decimal.NewFromInt(50)}, base: "855.00", want: "50.00"},
		{name: "fixed capped at base", coupon: Coupon{Kind: KindFixedAmount, Value: decimal.NewFromInt(200)}, base: "100.00", want: "100.00"},
		{name: "negative base", coupon: Coupon{Kind: KindFixedAmount, Value: decimal.NewFromInt(5)}, base: "-1.00", want: "0.00"},
		{name: "unknown kind", coupon: Coupon{Kind: Kind("bogus"), Value: decimal.NewFromInt(5)}, base: "10.00", want: "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Discount(money.MustParse(tt.base))
			assert.Equal(t, money.MustParse(tt.want), got)
		})
	}
}

func TestCoupon_Check(t *testing.T) {
	require.NoError(t, (&Coupon{Kind: KindPercent, Value: decimal.NewFromInt(100)}).Check())
	require.ErrorIs(t, (&Coupon{Kind: KindPercent, Value: decimal.NewFromInt(101)}).Check(), ErrInvalidCoupon)
	require.ErrorIs(t, (&Coupon{Kind: KindFixedAmount, Value: decimal.Zero}).Check(), ErrInvalidCoupon)
	require.ErrorIs(t, (&Coupon{Kind: KindFixedAmount, Value: decimal.NewFromInt(1), MinimumSubtotal: -1}).Check(), ErrInvalidCoupon)
}

func TestCoupon_Eligible(t *testing.T) {
	c := Coupon{MinimumSubtotal: money.MustParse("100.00")}
	assert.True(t, c.Eligible(money.MustParse("100.00")))
	assert.False(t, c.Eligible(money.MustParse("99.99")))
}
