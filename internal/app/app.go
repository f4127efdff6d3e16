// Package app wires the promo engine API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/domain/spin"
	"github.com/xenking/promo-engine/internal/events/kafka"
	"github.com/xenking/promo-engine/internal/handler"
	"github.com/xenking/promo-engine/internal/storage/postgres"
	"github.com/xenking/promo-engine/pkg/health"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, serves HTTP until ctx is done and then
// drains. It is the single wiring point of the server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// Stores.
	discounts := postgres.NewDiscountStore(pool, postgres.RetryConfig{
		MaxRetries: cfg.Redeem.MaxRetries,
		Backoff:    cfg.Redeem.RetryBackoff,
	})
	spins := postgres.NewSpinStore(pool)
	coupons := postgres.NewFeedbackStore(pool)
	orders := postgres.NewOrderHistory(pool)
	apikeys := postgres.NewAPIKeyStore(pool)

	publisher, closePublisher, err := newPublisher(ctx, lg, cfg.Kafka)
	if err != nil {
		return errors.Wrap(err, "create publisher")
	}
	defer closePublisher()

	// Domain services.
	promoOpts := []promo.Option{
		promo.WithMeterProvider(m.MeterProvider()),
		promo.WithTracerProvider(m.TracerProvider()),
	}
	if publisher != nil {
		promoOpts = append(promoOpts, promo.WithPublisher(publisher))
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.PingCheck(publisher))
	}
	promos, err := promo.New(discounts, spins, coupons, orders, promoOpts...)
	if err != nil {
		return errors.Wrap(err, "create promo service")
	}
	wheel, err := spin.NewService(spins, spin.WithTTL(cfg.Spin.TTL))
	if err != nil {
		return errors.Wrap(err, "create spin service")
	}
	thanks := feedback.NewService(coupons, cfg.Feedback.TTL, cfg.Feedback.CodeAttempts)
	authn := auth.NewAuthenticator(apikeys, []byte(cfg.APIKeyPepper))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.New(promos, wheel, thanks, authn).Mount(router)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("promo-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
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
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newPublisher returns the redemption event sink, or nil when no brokers are
// configured.
func newPublisher(ctx context.Context, lg *zap.Logger, cfg KafkaConfig) (*kafka.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		lg.Info("Kafka brokers not configured, redemption events disabled")
		return nil, func() {}, nil
	}
	p, err := kafka.New(kafka.Config{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		ClientID: cfg.ClientID,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := p.EnsureTopic(ctx, cfg.Partitions, cfg.ReplicationFactor); err != nil {
		// Publishing is best-effort; the topic may be managed elsewhere.
		lg.Warn("Ensure kafka topic", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			lg.Warn("Close kafka publisher", zap.Error(err))
		}
	}
	return p, closeFn, nil
}
