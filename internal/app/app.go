package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/cart"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/handler"
	"github.com/xenking/kart-commerce/internal/notify"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
	"github.com/xenking/kart-commerce/pkg/health"
	"github.com/xenking/kart-commerce/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application. m is usually
// the *app.Telemetry of go-faster/sdk.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
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

	// Redis backs the notification queue and, optionally, rate limits.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()
	if err := redisotel.InstrumentTracing(rdb, redisotel.WithTracerProvider(m.TracerProvider())); err != nil {
		return errors.Wrap(err, "instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(rdb, redisotel.WithMeterProvider(m.MeterProvider())); err != nil {
		return errors.Wrap(err, "instrument redis metrics")
	}

	tasks := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = tasks.Close() }()

	// Health check service.
	healthSvc := health.New()
	healthSvc.Register(health.Check{
		Name:    "postgres",
		Probe:   health.Readiness,
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(pool),
	})
	healthSvc.Register(health.Check{
		Name:    "redis",
		Probe:   health.Readiness,
		Timeout: 2 * time.Second,
		Func: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})
	healthSvc.Register(health.Check{
		Name:  "goroutines",
		Probe: health.Liveness,
		Func:  health.GoroutineCountCheck(10000),
	})
	healthSvc.Register(health.Check{
		Name:  "gc-pause",
		Probe: health.Liveness,
		Func:  health.GCMaxPauseCheck(time.Second),
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool, cfg.Checkout.LockTimeout)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	cartService := cart.NewService(cartRepo, productRepo, discountRepo)
	orderService := order.NewService(orderRepo, orderRepo,
		notify.NewEnqueuer(tasks, cfg.Notify),
		order.WithConfig(cfg.Checkout.Order()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		if err := orderService.Close(closeCtx); err != nil {
			lg.Warn("Pending order notifications not flushed", zap.Error(err))
		}
	}()

	// HTTP handlers.
	h := handler.New(productRepo, discountRepo, cartService, orderService)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	rateLimit := httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	}
	if cfg.RateLimit.Shared {
		if rateLimit.Store, err = httpmiddleware.NewRedisStore(rdb); err != nil {
			return err
		}
	}

	// Route aware middlewares run inside the router.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("kart-api", m),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Route("/api", func(r chi.Router) {
		h.Routes(r, securityHandler)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(rateLimit),
		),
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
