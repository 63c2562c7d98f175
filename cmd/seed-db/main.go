package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/codec"
	"github.com/xenking/pos-settlement/internal/domain/auth"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/storage/postgres"
	rediscache "github.com/xenking/pos-settlement/internal/storage/redis"
)

type options struct {
	databaseURL    string
	redisURL       string
	promotionsFile string
	apiKey         string
	apiKeyPepper   string
	scopes         string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL; when set the cached promotion catalog is dropped (or REDIS_URL env)")
	flag.StringVar(&opts.promotionsFile, "promotions-file", "db/seed/promotions.json", "path to promotions JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or POS_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or POS_API_KEY_PEPPER env)")
	flag.StringVar(&opts.scopes, "scopes", "quote,sell,drawer", "comma separated scopes of the seeded key")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.redisURL = orEnv(opts.redisURL, "REDIS_URL")
	opts.apiKey = orEnv(opts.apiKey, "POS_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "POS_API_KEY_PEPPER")
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or POS_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotions(ctx, lg, postgres.NewPromotionRepository(pool), opts.promotionsFile); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedCoupons(ctx, lg, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedCredit(ctx, lg, postgres.NewCreditRepository(pool)); err != nil {
		return errors.Wrap(err, "seed customer credit")
	}
	if err := seedAPIKey(ctx, lg, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if opts.redisURL != "" {
		if err := invalidateCatalog(ctx, opts.redisURL); err != nil {
			return errors.Wrap(err, "invalidate promotion cache")
		}
		lg.Info("Dropped cached promotion catalog")
	}
	return nil
}

func seedPromotions(ctx context.Context, lg *zap.Logger, repo *postgres.PromotionRepository, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read promotions file")
	}
	catalog, err := codec.DecodePromotions(jx.DecodeBytes(data))
	if err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}

	lg.Info("Upserting promotions", zap.Int("count", len(catalog)))
	for _, p := range catalog {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Info("Upserted promotion", zap.String("id", p.ID), zap.String("kind", string(p.Kind)))
	}
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository) error {
	coupons := []coupon.Coupon{
		{
			Code:        "WELCOME10",
			Kind:        coupon.KindPercent,
			Value:       decimal.NewFromInt(10),
			Description: "10% off for new customers",
		},
		{
			Code:            "FIVEOFF",
			Kind:            coupon.KindFixedAmount,
			Value:           decimal.NewFromInt(5),
			MinimumSubtotal: money.MustParse("25.00"),
			Description:     "5.00 off baskets over 25.00",
		},
		{
			Code:        "STAFF50",
			Kind:        coupon.KindPercent,
			Value:       decimal.NewFromInt(50),
			Description: "Staff meal",
			MaxUses:     100,
		},
	}
	if err := repo.UpsertBatch(ctx, coupons); err != nil {
		return err
	}
	lg.Info("Upserted coupons", zap.Int("count", len(coupons)))
	return nil
}

func seedCredit(ctx context.Context, lg *zap.Logger, repo *postgres.CreditRepository) error {
	balances := map[string]money.Money{
		"cust-demo":   money.MustParse("50.00"),
		"cust-refund": money.MustParse("12.35"),
	}
	for id, balance := range balances {
		if err := repo.SetBalance(ctx, id, balance); err != nil {
			return err
		}
		lg.Info("Set store credit", zap.String("customer_id", id), zap.Stringer("balance", balance))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, repo *postgres.APIKeyRepository, opts options) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Default till key",
		Scopes:  strings.Split(opts.scopes, ","),
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}

func invalidateCatalog(ctx context.Context, url string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	return rediscache.NewPromotionCache(rdb, nil, 0, zap.NewNop()).Invalidate(ctx)
}
