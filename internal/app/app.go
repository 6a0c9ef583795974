package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/martok-store/internal/domain/coupon"
	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/payment"
	"github.com/xenking/martok-store/internal/domain/settings"
	"github.com/xenking/martok-store/internal/gateway"
	"github.com/xenking/martok-store/internal/handler"
	"github.com/xenking/martok-store/internal/notify"
	"github.com/xenking/martok-store/internal/storage/postgres"
	"github.com/xenking/martok-store/pkg/health"
	"github.com/xenking/martok-store/pkg/httpmiddleware"
)

const (
	couponFilterCapacity = 100_000
	couponFilterFPR      = 0.01
)

// Run creates all dependencies, starts the HTTP server and background jobs,
// and handles graceful shutdown.
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

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	s, err := wire(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg, pool, rdb)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.health.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		s.codes.Run(gctx, lg.Named("coupons"), s.coupons, cfg.Checkout.CouponRefresh)
		return nil
	})
	g.Go(func() error {
		s.sweeper.Run(gctx, cfg.Checkout.SweepInterval)
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: stop advertising readiness, drain, then stop.
		<-gctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		s.health.SetReady(true)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// services are the wired application parts Run starts.
type services struct {
	handler http.Handler
	health  *health.Health
	codes   *coupon.CodeFilter
	coupons *postgres.CouponRepository
	sweeper *order.Sweeper
}

// wire builds repositories, domain services and the HTTP handler. rdb may be
// nil, in which case notifications are only logged.
func wire(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	pool *pgxpool.Pool,
	rdb *redis.Client,
) (*services, error) {
	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	settingsProvider := settings.NewRepoProvider(settingsRepo, cfg.DefaultSettings())

	codes := coupon.NewCodeFilter(couponFilterCapacity, couponFilterFPR)
	if err := codes.Refresh(ctx, couponRepo); err != nil {
		return nil, errors.Wrap(err, "load coupon codes")
	}
	ledger := coupon.NewLedger(couponRepo, codes)

	var notifier order.Notifier = notify.NewLogNotifier(lg.Named("notify"))
	if rdb != nil {
		notifier = notify.NewStreamPublisher(rdb, cfg.Checkout.Currency, cfg.Notify.StreamMaxLen)
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.RedisCheck(rdb))
	}

	// Domain services.
	orderService, err := order.NewService(orderRepo, productRepo, ledger, notifier, mp, tp, order.Config{
		CommitStockOnCreate: cfg.Checkout.CommitStockOnCreate,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	gatewayClient := gateway.New(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		Timeout: cfg.Gateway.Timeout,
	}, lg.Named("gateway"), tp, mp)
	healthSvc.Add(health.Advisory, "payment-gateway", time.Second, health.BreakerCheck(gatewayClient.State))

	reconciler, err := payment.NewReconciler(orderService, gatewayClient, cfg.Checkout.Currency, mp)
	if err != nil {
		return nil, errors.Wrap(err, "create reconciler")
	}

	// HTTP handlers.
	h := handler.New(handler.Config{
		Currency:     cfg.Checkout.CurrencySymbol,
		Debug:        cfg.Debug,
		APIKeyPepper: []byte(cfg.APIKeyPepper),
	}, orderService, reconciler, settingsProvider, apikeyRepo)

	router := mux.NewRouter()
	healthSvc.Register(router)
	h.Register(router)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	return &services{
		handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{handler.APIKeyHeader},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Rate:    cfg.RateLimit.Rate,
				Burst:   cfg.RateLimit.Burst,
				KeyFunc: httpmiddleware.HeaderOrIP(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument("martok-api", routeFinder, tp, mp),
			httpmiddleware.LogRequests(routeFinder),
		),
		health:  healthSvc,
		codes:   codes,
		coupons: couponRepo,
		sweeper: order.NewSweeper(orderService, cfg.Checkout.PendingTTL, lg.Named("sweeper")),
	}, nil
}
