package sale

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
	"github.com/xenking/pos-settlement/internal/domain/settlement"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

// --- Mock implementations ---

type mockPromotionRepo struct {
	catalog []promotion.Promotion
	err     error
}

func (m *mockPromotionRepo) Active(_ context.Context, _ time.Time) ([]promotion.Promotion, error) {
	return m.catalog, m.err
}

type mockCouponValidator struct {
	coupon    *coupon.Coupon
	err       error
	redeemErr error
	redeemed  []string
}

func (m *mockCouponValidator) Validate(_ context.Context, _ string) (*coupon.Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCouponValidator) Redeem(_ context.Context, code string) error {
	m.redeemed = append(m.redeemed, code)
	return m.redeemErr
}

type mockCredit struct {
	available money.Money
	err       error
}

func (m *mockCredit) AvailableCredit(_ context.Context, _ string) (money.Money, error) {
	return m.available, m.err
}

type mockDrawerRepo struct {
	session *drawer.Session
	err     error
}

func (m *mockDrawerRepo) Create(_ context.Context, _ *drawer.Session) error { return nil }

func (m *mockDrawerRepo) Get(_ context.Context, _ string) (*drawer.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.session == nil {
		return nil, drawer.ErrNotFound
	}
	s := *m.session
	return &s, nil
}

func (m *mockDrawerRepo) Update(_ context.Context, _ *drawer.Session) error { return nil }

type mockSaleRepo struct {
	lastSale    *Sale
	lastSession *drawer.Session
	err         error
}

func (m *mockSaleRepo) Create(_ context.Context, s *Sale, session *drawer.Session) error {
	if m.err != nil {
		return m.err
	}
	m.lastSale = s
	m.lastSession = session
	return nil
}

func (m *mockSaleRepo) Get(_ context.Context, id string) (*Sale, error) {
	if m.lastSale == nil || m.lastSale.ID != id {
		return nil, ErrNotFound
	}
	return m.lastSale, nil
}

// --- Helpers ---

type fixture struct {
	promotions *mockPromotionRepo
	coupons    *mockCouponValidator
	credit     *mockCredit
	drawers    *mockDrawerRepo
	sales      *mockSaleRepo
}

func newFixture() *fixture {
	open, _ := drawer.Open("drawer-1", money.MustParse("200.00"), time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC))
	return &fixture{
		promotions: &mockPromotionRepo{},
		coupons:    &mockCouponValidator{},
		credit:     &mockCredit{},
		drawers:    &mockDrawerRepo{session: &open},
		sales:      &mockSaleRepo{},
	}
}

func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(f.promotions, f.coupons, f.credit, f.drawers, f.sales,
		zap.NewNop(), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func m(v string) money.Money {
	return money.MustParse(v)
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func lines() []cart.Line {
	return []cart.Line{
		{ID: "l1", ProductID: "p1", UnitPrice: m("250.00"), Quantity: 2},
		{ID: "l2", ProductID: "p2", UnitPrice: m("500.00"), Quantity: 1},
	}
}

// --- Tests ---

func TestQuote_SettlementOrder(t *testing.T) {
	f := newFixture()
	f.promotions.catalog = []promotion.Promotion{
		{ID: "five", Kind: promotion.KindPercent, Rules: promotion.Rules{Percent: d("5")}, StackableWithCoupons: true},
	}
	f.coupons.coupon = &coupon.Coupon{Code: "FIFTY", Kind: coupon.KindFixedAmount, Value: d("50")}

	q, err := f.service(t).Quote(context.Background(), QuoteRequest{
		Lines:                 lines(),
		GlobalDiscountPercent: d("10"),
		CouponCode:            "FIFTY",
		ExchangeRate:          d("0.5"),
	})

	require.NoError(t, err)
	assert.Equal(t, m("805.00"), q.Settlement.Total)
	require.NotNil(t, q.TotalSecondary)
	assert.True(t, d("402.50").Equal(*q.TotalSecondary))
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		req     QuoteRequest
		wantErr error
		wantMsg string
	}{
		{
			name:    "invalid coupon",
			setup:   func(f *fixture) { f.coupons.err = coupon.ErrInvalidCoupon },
			req:     QuoteRequest{Lines: lines(), CouponCode: "BOGUS"},
			wantErr: coupon.ErrInvalidCoupon,
		},
		{
			name:    "invalid line",
			req:     QuoteRequest{Lines: []cart.Line{{ID: "l1", UnitPrice: m("1.00")}}},
			wantErr: cart.ErrInvalidLine,
		},
		{
			name:    "negative exchange rate",
			req:     QuoteRequest{Lines: lines(), ExchangeRate: d("-1")},
			wantErr: money.ErrInvalidAmount,
		},
		{
			name:    "catalog failure",
			setup:   func(f *fixture) { f.promotions.err = errors.New("db down") },
			req:     QuoteRequest{Lines: lines()},
			wantMsg: "load promotions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.service(t).Quote(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCommit_CashWithChange(t *testing.T) {
	f := newFixture()
	f.coupons.coupon = &coupon.Coupon{Code: "TEN", Kind: coupon.KindPercent, Value: d("10")}

	res, err := f.service(t).Commit(context.Background(), CommitRequest{
		QuoteRequest:    QuoteRequest{Lines: lines(), CouponCode: "TEN"},
		Tenders:         []tender.Entry{{Method: tender.MethodCash, AmountTendered: m("1000.00")}},
		DrawerSessionID: "drawer-1",
	})
	require.NoError(t, err)

	s := res.Sale
	assert.Equal(t, m("900.00"), s.Total)
	assert.Equal(t, m("100.00"), s.ChangeGiven)
	assert.Equal(t, "TEN", s.CouponCode)
	assert.Equal(t, "drawer-1", s.DrawerSessionID)
	assert.NotEmpty(t, s.ID)

	require.NotNil(t, f.sales.lastSession)
	assert.Equal(t, m("1100.00"), f.sales.lastSession.ExpectedBalance())
	require.Len(t, f.sales.lastSession.Movements, 1)
	assert.Equal(t, s.ID, f.sales.lastSession.Movements[0].SaleID)

	assert.Equal(t, []string{"TEN"}, f.coupons.redeemed)
}

func TestCommit_CardOnlySkipsDrawer(t *testing.T) {
	f := newFixture()
	f.drawers.session = nil

	res, err := f.service(t).Commit(context.Background(), CommitRequest{
		QuoteRequest: QuoteRequest{Lines: lines()},
		Tenders:      []tender.Entry{{Method: tender.MethodCard, Amount: m("1000.00"), Reference: "auth-9"}},
	})
	require.NoError(t, err)

	assert.Nil(t, f.sales.lastSession)
	assert.Empty(t, res.Sale.DrawerSessionID)
	assert.Equal(t, money.Zero, res.Sale.ChangeGiven)
	assert.Empty(t, f.coupons.redeemed)
}

func TestCommit_SuppressedCouponNotRecorded(t *testing.T) {
	f := newFixture()
	f.promotions.catalog = []promotion.Promotion{
		{ID: "excl", Kind: promotion.KindPercent, Rules: promotion.Rules{Percent: d("5")}, Exclusive: true},
	}
	f.coupons.coupon = &coupon.Coupon{Code: "FIFTY", Kind: coupon.KindFixedAmount, Value: d("50")}

	res, err := f.service(t).Commit(context.Background(), CommitRequest{
		QuoteRequest: QuoteRequest{Lines: lines(), CouponCode: "FIFTY"},
		Tenders:      []tender.Entry{{Method: tender.MethodQR, Amount: m("950.00")}},
	})
	require.NoError(t, err)

	assert.Equal(t, settlement.CouponSuppressed, res.Settlement.CouponStatus)
	assert.Empty(t, res.Sale.CouponCode)
	assert.Empty(t, f.coupons.redeemed)
}

func TestCommit_StoreCredit(t *testing.T) {
	f := newFixture()
	f.credit.available = m("300.00")

	res, err := f.service(t).Commit(context.Background(), CommitRequest{
		QuoteRequest: QuoteRequest{Lines: lines()},
		CustomerID:   "cust-1",
		Tenders: []tender.Entry{
			{Method: tender.MethodStoreCredit, Amount: m("300.00")},
			{Method: tender.MethodTransfer, Amount: m("700.00"), Reference: "wire-1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, m("300.00"), res.Sale.CreditUsed())
}

func TestCommit_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		req     CommitRequest
		wantErr error
		wantMsg string
	}{
		{
			name: "not settled",
			req: CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines()},
				Tenders:      []tender.Entry{{Method: tender.MethodCard, Amount: m("999.99")}},
			},
			wantErr: ErrNotSettled,
		},
		{
			name: "overpaid card",
			req: CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines()},
				Tenders:      []tender.Entry{{Method: tender.MethodCard, Amount: m("1000.01")}},
			},
			wantErr: tender.ErrOverpayment,
		},
		{
			name: "store credit without customer",
			req: CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines()},
				Tenders:      []tender.Entry{{Method: tender.MethodStoreCredit, Amount: m("10.00")}},
			},
			wantErr: ErrCustomerRequired,
		},
		{
			name:  "credit limit",
			setup: func(f *fixture) { f.credit.available = m("5.00") },
			req: CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines()},
				CustomerID:   "cust-1",
				Tenders:      []tender.Entry{{Method: tender.MethodStoreCredit, Amount: m("10.00")}},
			},
			wantErr: tender.ErrCreditLimitExceeded,
		},
		{
			name: "cash without drawer",
			req: CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines()},
				Tenders:      []tender.Entry{{Method: tender.MethodCash, Amount: m("1000.00")}},
			},
			wantErr: ErrDrawerRequired,
		},
		{
			name: "closed drawer",
			setup: func(f *fixture) {
				closed, err := drawer.Close(*f.drawers.session, m("200.00"), nil, time.Now())
				if err != nil {
					panic(err)
				}
				f.drawers.session = &closed
			},
			req: CommitRequest{
				QuoteRequest:    QuoteRequest{Lines: lines()},
				Tenders:         []tender.Entry{{Method: tender.MethodCash, Amount: m("1000.00")}},
				DrawerSessionID: "drawer-1",
			},
			wantErr: drawer.ErrInvalidState,
		},
		{
			name:  "unknown drawer",
			setup: func(f *fixture) { f.drawers.session = nil },
			req: CommitRequest{
				QuoteRequest:    QuoteRequest{Lines: lines()},
				Tenders:         []tender.Entry{{Method: tender.MethodCash, Amount: m("1000.00")}},
				DrawerSessionID: "nope",
			},
			wantErr: drawer.ErrNotFound,
		},
		{
			name:  "persist failure",
			setup: func(f *fixture) { f.sales.err = errors.New("db write failed") },
			req: CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines()},
				Tenders:      []tender.Entry{{Method: tender.MethodCard, Amount: m("1000.00")}},
			},
			wantMsg: "create sale",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.service(t).Commit(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Nil(t, f.sales.lastSale)
		})
	}
}

func TestCommit_RedeemFailureKeepsSale(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"storage error", errors.New("db down")},
		{"usage limit reached concurrently", coupon.ErrCouponUsageLimitReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.coupons.coupon = &coupon.Coupon{Code: "TEN", Kind: coupon.KindPercent, Value: d("10")}
			f.coupons.redeemErr = tt.err
			svc := f.service(t)
			core, logs := observer.New(zap.WarnLevel)
			svc.lg = zap.New(core)

			res, err := svc.Commit(context.Background(), CommitRequest{
				QuoteRequest: QuoteRequest{Lines: lines(), CouponCode: "TEN"},
				Tenders:      []tender.Entry{{Method: tender.MethodCard, Amount: m("900.00")}},
			})
			require.NoError(t, err)
			assert.Equal(t, res.Sale, f.sales.lastSale)

			warned := logs.FilterMessage("Coupon redemption not recorded").All()
			require.Len(t, warned, 1)
			assert.Equal(t, "TEN", warned[0].ContextMap()["coupon"])
		})
	}
}

func TestGet(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	res, err := svc.Commit(context.Background(), CommitRequest{
		QuoteRequest: QuoteRequest{Lines: lines()},
		Tenders:      []tender.Entry{{Method: tender.MethodCard, Amount: m("1000.00")}},
	})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), res.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Sale.ID, got.ID)

	_, err = svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
