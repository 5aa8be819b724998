package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/preloved-shop/internal/domain/checkout"
	"github.com/xenking/preloved-shop/internal/domain/order"
	"github.com/xenking/preloved-shop/internal/domain/payment"
	"github.com/xenking/preloved-shop/internal/events"
	"github.com/xenking/preloved-shop/internal/handler"
	"github.com/xenking/preloved-shop/internal/midtrans"
	"github.com/xenking/preloved-shop/internal/repository"
	"github.com/xenking/preloved-shop/pkg/health"
	"github.com/xenking/preloved-shop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the outbox
// dispatcher, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.Bool("midtrans_production", cfg.Midtrans.Production))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool), health.WithThresholds(2, 1))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-max-pause", time.Second, health.GCMaxPauseCheck(time.Second), health.WithThresholds(3, 1))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Payment provider.
	snap, err := midtrans.NewSnapClient(midtrans.Config{
		ServerKey:      cfg.Midtrans.ServerKey,
		Production:     cfg.Midtrans.Production,
		BaseURL:        cfg.Midtrans.BaseURL,
		AppURL:         cfg.AppURL,
		Timeout:        cfg.Midtrans.Timeout,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create snap client")
	}
	reconciler, err := payment.NewReconciler(orderRepo, midtrans.NewSigner(cfg.Midtrans.ServerKey), midtrans.MapStatus,
		payment.WithMeterProvider(m.MeterProvider()),
		payment.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	// Domain services.
	checkoutService, err := checkout.NewService(productRepo, orderRepo, snap,
		checkout.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	orderService := order.NewService(orderRepo)

	// Payment events.
	var publisher events.Publisher = events.LogPublisher{}
	if cfg.AMQP.URL != "" {
		rp, err := events.NewRabbitPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "create rabbitmq publisher")
		}
		publisher = rp
	}
	defer func() { _ = publisher.Close() }()
	dispatcher := events.NewDispatcher(outboxRepo, publisher, events.DispatcherConfig{
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
	})

	// HTTP handlers.
	h := handler.NewHandler(productRepo, checkoutService, orderService, reconciler, midtrans.ParseNotification)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Mux: health endpoints + API routes on one server. Route-aware
	// middleware wraps the mux directly so r.Pattern is visible to it.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, securityHandler)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Midtrans.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				// Provider retries must never be throttled.
				Skip: func(r *http.Request) bool { return r.URL.Path == handler.WebhookPath },
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("shop-api", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
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
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
