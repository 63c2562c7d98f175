package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/couponimport"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/storage/postgres"
)

type options struct {
	dataDir     string
	pattern     string
	databaseURL string
	kind        string
	value       string
	minimum     string
	maxUses     int
	validDays   int
	description string
	expected    uint
	batchSize   int
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing coupon batch files")
	flag.StringVar(&opts.pattern, "pattern", "*.gz", "glob of batch files inside data-dir")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.kind, "kind", string(coupon.KindPercent), "coupon kind: percent or fixed_amount")
	flag.StringVar(&opts.value, "value", "10", "percent or amount of every imported coupon")
	flag.StringVar(&opts.minimum, "minimum-subtotal", "0", "minimum subtotal for the coupon to apply")
	flag.IntVar(&opts.maxUses, "max-uses", 1, "redemptions allowed per code, 0 for unlimited")
	flag.IntVar(&opts.validDays, "valid-days", 90, "days the codes stay valid, 0 for no expiry")
	flag.StringVar(&opts.description, "description", "Campaign coupon", "coupon description")
	flag.UintVar(&opts.expected, "expected-codes", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&opts.batchSize, "batch-size", 1000, "coupons per database round trip")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, opts.pattern))
	if err != nil {
		return errors.Wrap(err, "list batch files")
	}
	slices.Sort(files)

	tmpl, err := opts.template(time.Now())
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	im, err := couponimport.New(postgres.NewCouponRepository(pool), couponimport.Config{
		Template:      tmpl,
		ExpectedCodes: opts.expected,
		BatchSize:     opts.batchSize,
	}, lg)
	if err != nil {
		return err
	}

	stats, err := im.Run(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Import summary",
		zap.Int("files", len(files)),
		zap.Uint64("scanned", stats.Scanned),
		zap.Uint64("malformed", stats.Malformed),
		zap.Int("duplicates", stats.Duplicates),
		zap.Uint64("written", stats.Written),
	)
	return nil
}

func (o options) template(now time.Time) (coupon.Coupon, error) {
	value, err := decimal.NewFromString(o.value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "parse value %q", o.value)
	}
	minimum, err := money.Parse(o.minimum)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "minimum subtotal")
	}
	c := coupon.Coupon{
		Kind:            coupon.Kind(o.kind),
		Value:           value,
		MinimumSubtotal: minimum,
		Description:     o.description,
		MaxUses:         o.maxUses,
	}
	if o.validDays > 0 {
		from := now.UTC().Truncate(time.Hour)
		until := from.AddDate(0, 0, o.validDays)
		c.ValidFrom, c.ValidUntil = &from, &until
	}
	return c, nil
}
