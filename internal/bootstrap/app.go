package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/booking-payments/internal/controller"
	"github.com/cassiomorais/booking-payments/internal/domain/idempotency"
	"github.com/cassiomorais/booking-payments/internal/domain/outbox"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/internal/events"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/config"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/kafka"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/observability"
	"github.com/cassiomorais/booking-payments/internal/infrastructure/pubsub"
	infraRedis "github.com/cassiomorais/booking-payments/internal/infrastructure/redis"
	"github.com/cassiomorais/booking-payments/internal/providers"
	"github.com/cassiomorais/booking-payments/internal/repository/memory"
	"github.com/cassiomorais/booking-payments/internal/repository/postgres"
	"github.com/cassiomorais/booking-payments/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds everything both binaries share: config, telemetry, storage and
// the payment service wired on top of them.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *observability.Metrics

	Pool  *pgxpool.Pool // nil with the memory driver
	Redis *redis.Client // nil unless a redis lock or sink is configured

	Payments    *service.PaymentService
	Gateways    *providers.Registry
	Idempotency idempotency.Store
	Outbox      outbox.Repository // nil with the memory driver
	Tx          events.TxRunner   // nil with the memory driver

	publisher *events.Dispatcher
	closers   []func()
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Str("service", serviceName).Str("instance", cfg.InstanceID).Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.closers = append(app.closers, func() { _ = observability.Shutdown(context.Background(), tp) })
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, nil)

	if err := app.openStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}

	var locker service.Locker = service.NewKeyedMutex()
	if cfg.Payment.LockDriver == "redis" {
		client, err := app.redisClient(ctx)
		if err != nil {
			app.Close()
			return nil, err
		}
		locker = infraRedis.NewLocker(client, cfg.Payment.LockTTL)
	}

	sink, err := app.NewSink(ctx, cfg.Events.Sink)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.publisher = events.NewDispatcher(sink, logger, app.Metrics, events.DispatcherOptions{
		Buffer:         cfg.Events.Buffer,
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	logger.Info().Str("sink", cfg.Events.Sink).Msg("Event publisher ready")

	app.Gateways = newRegistry(cfg.Providers, app.Metrics, logger)

	var payments payment.Repository
	var methods payment.MethodRepository
	if app.Pool != nil {
		payments = postgres.NewPaymentRepository(app.Pool)
		methods = postgres.NewMethodRepository(app.Pool)
	} else {
		store := memory.NewPaymentStore()
		payments, methods = store, store
	}

	app.Payments = service.NewPaymentService(service.Deps{
		Payments:  payments,
		Methods:   methods,
		Gateways:  app.Gateways,
		Publisher: app.publisher,
		Locker:    locker,
		Logger:    logger,
		Metrics:   app.Metrics,
	}, service.Options{
		ProviderTimeout: cfg.Payment.ProviderTimeout,
		ReconcileAfter:  cfg.Payment.ReconcileAfter,
		ReconcileBatch:  cfg.Payment.ReconcileBatch,
	})

	return app, nil
}

func (a *App) openStorage(ctx context.Context) error {
	if a.Config.Storage.Driver == "memory" {
		a.Idempotency = memory.NewIdempotencyStore()
		a.Logger.Warn().Msg("Using in-memory storage, data is lost on restart")
		return nil
	}

	pool, err := postgres.NewPool(ctx, &a.Config.Database, a.Logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	a.Idempotency = postgres.NewIdempotencyRepository(pool)
	a.Outbox = postgres.NewOutboxRepository(pool)
	a.Tx = postgres.NewTxManager(pool)
	a.Logger.Info().Msg("Connected to PostgreSQL")
	return nil
}

func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.Redis != nil {
		return a.Redis, nil
	}
	client, err := infraRedis.NewClient(ctx, &a.Config.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.Redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.Logger.Info().Msg("Connected to Redis")
	return client, nil
}

// NewSink builds the named event sink. The caller owns closing it.
func (a *App) NewSink(ctx context.Context, name string) (events.Sink, error) {
	var (
		sink events.Sink
		err  error
	)
	ev := a.Config.Events
	switch name {
	case "log":
		sink = events.NewLogSink(a.Logger)
	case "outbox":
		if a.Outbox == nil {
			return nil, fmt.Errorf("outbox sink requires postgres storage")
		}
		sink = events.NewOutboxSink(a.Outbox)
	case "redis":
		var client *redis.Client
		client, err = a.redisClient(ctx)
		if err == nil {
			sink = infraRedis.NewStreamSink(client, ev.RedisStream)
		}
	case "kafka":
		sink = kafka.NewSink(ev.Kafka.Brokers, ev.Kafka.Topic, a.Logger)
	case "pubsub":
		sink, err = pubsub.NewSink(ctx, ev.PubSub.ProjectID, ev.PubSub.Topic)
	default:
		return nil, fmt.Errorf("unknown event sink %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s sink: %w", name, err)
	}
	return sink, nil
}

// HealthChecks are the readiness probes for the configured backends.
func (a *App) HealthChecks() map[string]controller.Pinger {
	checks := make(map[string]controller.Pinger)
	if a.Pool != nil {
		checks["database"] = a.Pool.Ping
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

func newRegistry(cfg config.ProvidersConfig, metrics *observability.Metrics, logger zerolog.Logger) *providers.Registry {
	reg := providers.NewRegistry(providers.BreakerSettings{
		Threshold: cfg.CircuitBreaker.Threshold,
		Timeout:   cfg.CircuitBreaker.Timeout,
	}, metrics)
	client := providers.NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.MaxRedirects)

	if cfg.Stripe.Enabled {
		reg.Register(providers.NewStripeGateway(providers.StripeConfig{
			BaseURL:   cfg.Stripe.BaseURL,
			SecretKey: cfg.Stripe.SecretKey,
		}, client))
	}
	if cfg.PayPal.Enabled {
		reg.Register(providers.NewPayPalGateway(providers.PayPalConfig{
			BaseURL:      cfg.PayPal.BaseURL,
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			ReturnURL:    cfg.PayPal.ReturnURL,
			CancelURL:    cfg.PayPal.CancelURL,
			BrandName:    cfg.PayPal.BrandName,
		}, client))
	}
	if cfg.Mock.Enabled {
		reg.Register(providers.NewMockGateway(
			providers.WithLatency(cfg.Mock.Latency),
			providers.WithFailureRate(cfg.Mock.FailureRate),
		))
	}

	for _, p := range reg.List() {
		logger.Info().Str("provider", string(p.ID)).Msg("Payment provider enabled")
	}
	return reg
}

// Close drains the event queue, then releases backends in reverse order.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event sink")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
