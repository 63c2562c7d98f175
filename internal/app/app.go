package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/domain/auth"
	"github.com/xenking/pos-settlement/internal/domain/coupon"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/sale"
	"github.com/xenking/pos-settlement/internal/handler"
	"github.com/xenking/pos-settlement/internal/storage/postgres"
	rediscache "github.com/xenking/pos-settlement/internal/storage/redis"
	"github.com/xenking/pos-settlement/pkg/health"
	"github.com/xenking/pos-settlement/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis backs the promotion cache and the rate limiter.
	rdb, err := newRedis(cfg.RedisURL, m)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	h, healthSvc, err := newHandler(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg, pool, rdb)
	if err != nil {
		return err
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newRedis(url string, m *app.Telemetry) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb, redisotel.WithTracerProvider(m.TracerProvider())); err != nil {
		return nil, errors.Wrap(err, "instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(rdb, redisotel.WithMeterProvider(m.MeterProvider())); err != nil {
		return nil, errors.Wrap(err, "instrument redis metrics")
	}
	return rdb, nil
}

// newHandler wires repositories, services and middleware into the root
// handler. Probes are registered but not started.
func newHandler(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	pool *pgxpool.Pool,
	rdb *redis.Client,
) (http.Handler, *health.Health, error) {
	healthSvc := health.New()
	healthSvc.Register(health.Probe{
		Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second,
		Check: health.PostgresCheck(pool),
	})
	healthSvc.Register(health.Probe{
		Name: "redis", Kind: health.Readiness, Timeout: 2 * time.Second,
		Check: health.RedisCheck(rdb),
	})
	healthSvc.Register(health.Probe{
		Name: "goroutines", Kind: health.Liveness, Timeout: time.Second,
		Check: health.GoroutineCountCheck(10000),
	})

	// Repositories.
	promotionRepo := postgres.NewPromotionRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	creditRepo := postgres.NewCreditRepository(pool)
	drawerRepo := postgres.NewDrawerRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	catalog := rediscache.NewPromotionCache(rdb, promotionRepo, cfg.CatalogCacheTTL, lg.Named("catalog"))

	// Domain services.
	meter := mp.Meter("pos")
	saleService, err := sale.NewService(
		catalog,
		coupon.NewRepoValidator(couponRepo),
		creditRepo,
		drawerRepo,
		saleRepo,
		lg.Named("sale"),
		meter,
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create sale service")
	}
	drawerService, err := drawer.NewService(drawerRepo, lg.Named("drawer"), meter)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create drawer service")
	}

	// Rate limits are per API key, so the limiter runs after authentication.
	limiter := httpmiddleware.RateLimit(rdb, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Prefix: "pos:ratelimit:",
		KeyFunc: func(r *http.Request) string {
			if info, ok := handler.KeyFromContext(r.Context()); ok {
				return "key:" + info.ID
			}
			return "anonymous"
		},
	})
	api := handler.NewHandler(saleService, drawerService).
		Routes(auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)), limiter)

	// Root router: health endpoints + API routes on one server.
	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", api)

	return httpmiddleware.Wrap(root,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("pos-api", tp, mp),
		httpmiddleware.LogRequests(),
	), healthSvc, nil
}
