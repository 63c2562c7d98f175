//go:build integration

package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/domain/auth"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
	"github.com/xenking/pos-settlement/internal/storage/postgres"
	rediscache "github.com/xenking/pos-settlement/internal/storage/redis"
)

const (
	pepper  = "integration-pepper"
	tillKey = "till-secret"
)

type env struct {
	srv    *httptest.Server
	mr     *miniredis.Miniredis
	credit *postgres.CreditRepository
	uses   func(code string) int
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pos"),
		tcpostgres.WithUsername("pos"),
		tcpostgres.WithPassword("pos"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))

	require.NoError(t, postgres.NewAPIKeyRepository(pool).Upsert(ctx, auth.APIKeyInfo{
		ID:      "till",
		KeyHash: auth.HashKey([]byte(pepper), tillKey),
		Name:    "Till 1",
		Scopes:  []string{auth.ScopeQuote, auth.ScopeSell, auth.ScopeDrawer},
	}))
	require.NoError(t, postgres.NewPromotionRepository(pool).Upsert(ctx, promotion.Promotion{
		ID:                   "ten",
		Name:                 "10% off",
		Kind:                 promotion.KindPercent,
		Rules:                promotion.Rules{Percent: decimal.NewFromInt(10)},
		StackableWithCoupons: true,
	}))
	require.NoError(t, postgres.NewCouponRepository(pool).UpsertBatch(ctx, []coupon.Coupon{
		{Code: "FIVE", Kind: coupon.KindFixedAmount, Value: decimal.NewFromInt(5), MaxUses: 1},
	}))
	credit := postgres.NewCreditRepository(pool)
	require.NoError(t, credit.SetBalance(ctx, "cust-1", money.MustParse("30")))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &Config{
		APIKeyPepper:    pepper,
		CatalogCacheTTL: time.Minute,
		RateLimit:       RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:            CORSConfig{Origins: []string{"*"}},
	}
	h, healthSvc, err := newHandler(ctx, zap.NewNop(), tracenoop.NewTracerProvider(), noop.NewMeterProvider(), cfg, pool, rdb)
	require.NoError(t, err)
	healthSvc.SetReady(true)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &env{
		srv:    srv,
		mr:     mr,
		credit: credit,
		uses: func(code string) int {
			var n int
			require.NoError(t, pool.QueryRow(ctx, `SELECT uses FROM coupons WHERE code = $1`, code).Scan(&n))
			return n
		},
	}
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, map[string]string) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("api_key", tillKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, fields(t, raw)
}

// fields collects the top level scalar fields of a JSON object.
func fields(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			out[key] = s
			return err
		case jx.Object, jx.Array:
			return d.Skip()
		default:
			v, err := d.Raw()
			out[key] = v.String()
			return err
		}
	})
	require.NoError(t, err)
	return out
}

func TestServer(t *testing.T) {
	e := setup(t)

	t.Run("Health", func(t *testing.T) {
		for _, path := range []string{"/livez", "/readyz"} {
			resp, body := e.do(t, http.MethodGet, path, "")
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
			assert.Equal(t, "ok", body["status"])
		}
	})

	t.Run("Unauthorized", func(t *testing.T) {
		resp, err := e.srv.Client().Post(e.srv.URL+"/api/settlements/quote", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	})

	t.Run("QuoteIsCachedAndRateLimited", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPost, "/api/settlements/quote", `{
			"lines": [{"line_id": "l1", "product_id": "kettle", "unit_price": "200", "quantity": 1}],
			"coupon_code": "five"
		}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "20.00", body["promotion_discount_amount"])
		assert.Equal(t, "5.00", body["coupon_discount_amount"])
		assert.Equal(t, "175.00", body["total"])

		assert.Equal(t, "1000", resp.Header.Get("X-RateLimit-Limit"))
		assert.True(t, e.mr.Exists(rediscache.CatalogKey))
		var limited bool
		for _, k := range e.mr.Keys() {
			if strings.HasPrefix(k, "pos:ratelimit:key:till:") {
				limited = true
			}
		}
		assert.True(t, limited, "rate limit counter keyed by api key")
	})

	t.Run("SaleWithCreditAndCash", func(t *testing.T) {
		resp, drawer := e.do(t, http.MethodPost, "/api/drawers", `{"initial_float": "100"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		drawerID := drawer["id"]

		resp, sale := e.do(t, http.MethodPost, "/api/sales", `{
			"lines": [{"line_id": "l1", "product_id": "kettle", "unit_price": "200", "quantity": 1}],
			"coupon_code": "FIVE",
			"customer_id": "cust-1",
			"tenders": [
				{"method": "store_credit", "amount": "30"},
				{"method": "cash", "amount_tendered": "150"}
			],
			"drawer_session_id": "`+drawerID+`"
		}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "175.00", sale["total"])
		assert.Equal(t, "5.00", sale["change_given"])

		_, stored := e.do(t, http.MethodGet, "/api/sales/"+sale["id"], "")
		assert.Equal(t, "175.00", stored["total"])
		assert.Equal(t, "FIVE", stored["coupon_code"])

		_, drawer = e.do(t, http.MethodGet, "/api/drawers/"+drawerID, "")
		assert.Equal(t, "245.00", drawer["expected_balance"])

		available, err := e.credit.AvailableCredit(context.Background(), "cust-1")
		require.NoError(t, err)
		assert.Equal(t, money.Money(0), available)
		assert.Equal(t, 1, e.uses("FIVE"))
	})
}
