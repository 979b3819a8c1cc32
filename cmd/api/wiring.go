package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/erimias46/babrber-frontend-sub000/cmd/mainconfig"
	"github.com/erimias46/babrber-frontend-sub000/internal/api/router"
	"github.com/erimias46/babrber-frontend-sub000/internal/audit"
	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	appconfig "github.com/erimias46/babrber-frontend-sub000/internal/config"
	"github.com/erimias46/babrber-frontend-sub000/internal/deposits"
	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/internal/notify"
	"github.com/erimias46/babrber-frontend-sub000/internal/observability/metrics"
	"github.com/erimias46/babrber-frontend-sub000/internal/payments"
	"github.com/erimias46/babrber-frontend-sub000/internal/realtime"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/internal/slots"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// app holds the wired service graph and the background loops it owns.
type app struct {
	logger *logging.Logger

	pool  *pgxpool.Pool
	sqlDB *sql.DB
	redis *redis.Client

	metricsHandler http.Handler
	hub            *realtime.Hub
	redisBroker    *realtime.RedisBroker
	publisher      *realtime.Publisher
	deliverer      *events.Deliverer

	requestsHandler     *requests.Handler
	availabilityHandler *availability.Handler
	slotsHandler        *slots.Handler
	depositsHandler     *deposits.Handler
	checkoutHandler     *payments.CheckoutHandler
	accountHandler      *payments.AccountHandler
	stripeWebhook       *payments.StripeWebhookHandler
	realtimeHandler     *realtime.Handler
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{logger: logger}

	var bookingMetrics *metrics.BookingMetrics
	a.metricsHandler, bookingMetrics = setupMetrics()

	a.pool = connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if cfg.DatabaseURL != "" && a.pool == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	a.redis = connectRedis(ctx, cfg, logger)
	if cfg.RedisAddr != "" && a.redis == nil {
		a.Close()
		return nil, fmt.Errorf("redis unavailable")
	}

	// Storage
	var (
		availRepo   availability.Repository = availability.NewInMemoryRepository()
		outboxStore events.Source
		store       requests.Store
		processed   events.Deduper = events.NewMemoryProcessedStore()
		auditLog    audit.Logger   = audit.NewMemoryLog()
	)
	if a.pool != nil {
		availRepo = availability.NewPostgresRepository(a.pool)
		outboxStore = events.NewOutboxStore(a.pool)
		store = requests.NewPostgresStore(a.pool, logger)
		processed = events.NewProcessedStore(a.pool)

		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		a.sqlDB = db
		auditLog = audit.NewService(db)
	} else {
		memOutbox := events.NewMemoryOutbox()
		outboxStore = memOutbox
		store = requests.NewMemoryStore(memOutbox)
	}

	var (
		policies deposits.Store        = deposits.NewMemoryStore(deposits.DefaultPlatformPolicy())
		accounts payments.AccountStore = payments.NewMemoryAccountStore()
	)
	if a.redis != nil {
		policies = deposits.NewRedisStore(a.redis, deposits.DefaultPlatformPolicy())
		accounts = payments.NewRedisAccountStore(a.redis)
	}

	// Real-time fan-out
	a.hub = realtime.NewHub(bookingMetrics, logger)
	var broker realtime.Broker = realtime.NewLocalBroker(a.hub)
	if a.redis != nil {
		a.redisBroker = realtime.NewRedisBroker(a.redis, cfg.RealtimeChannel, a.hub, logger)
		broker = a.redisBroker
	}
	a.publisher = realtime.NewPublisher(broker, cfg.RealtimeQueueSize, bookingMetrics, logger)

	// Admin email and AWS
	var awsCfg *aws.Config
	if cfg.UseSES || cfg.EventsQueueURL != "" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &loaded
	}
	admin := notify.NewAdminNotifier(emailSender(cfg, awsCfg, logger), cfg.AdminEmails, cfg.AdminConsoleURL, logger)

	// Payments
	stripeDryRun := cfg.StripeDryRun || cfg.StripeSecretKey == ""
	if stripeDryRun {
		logger.Warn("stripe running in dry-run mode; no money will move")
	}
	payouts := payments.NewPayoutService(client.New(cfg.StripeSecretKey, nil), accounts, logger).
		WithNotifier(admin).
		WithDryRun(stripeDryRun)
	refunds := payments.NewRefundService(cfg.StripeSecretKey, logger).WithDryRun(stripeDryRun)

	// Engine
	catalog := availability.NewManager(availRepo, logger)
	opts := []requests.Option{
		requests.WithPayouts(payouts),
		requests.WithPublisher(a.publisher),
		requests.WithAudit(auditLog),
		requests.WithMetrics(bookingMetrics),
	}
	if a.redis != nil {
		opts = append(opts, requests.WithLimiter(requests.NewVelocityChecker(a.redis, requests.VelocityConfig{
			MaxCreatesPerCustomer: cfg.VelocityMaxCreates,
			Window:                cfg.VelocityWindow,
		}, logger)))
	}
	engine := requests.NewEngine(store, catalog, deposits.NewResolver(policies), logger, opts...)

	// Outbox delivery
	dispatcher := events.NewDispatcher(logger).
		On(events.TypeRefundRequested, refunds).
		On(events.TypeRefundReviewRequested, events.HandlerFunc(admin.HandleRefundReview))
	if cfg.EventsQueueURL != "" && awsCfg != nil {
		dispatcher.OnAll(events.NewSQSForwarder(mainconfig.SQSClient(*awsCfg, cfg), cfg.EventsQueueURL))
	}
	a.deliverer = events.NewDeliverer(outboxStore, dispatcher, logger).WithInterval(cfg.OutboxInterval)

	// Handlers
	a.requestsHandler = requests.NewHandler(engine, logger)
	a.availabilityHandler = availability.NewHandler(catalog, logger)
	a.slotsHandler = slots.NewHandler(slots.NewService(catalog, requests.SlotBookings{Store: store}, logger), logger)
	a.depositsHandler = deposits.NewHandler(policies, logger)
	checkout := payments.NewCheckoutService(engine, cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL, logger).
		WithDryRun(stripeDryRun)
	a.checkoutHandler = payments.NewCheckoutHandler(checkout, logger)
	a.accountHandler = payments.NewAccountHandler(accounts, logger)
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; webhook signatures are not verified")
	}
	a.stripeWebhook = payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, engine, processed, bookingMetrics, logger)
	a.realtimeHandler = realtime.NewHandler(a.hub, cfg.CORSAllowedOrigins, logger)

	return a, nil
}

// Start launches the background loops. They stop when ctx is cancelled.
func (a *app) Start(ctx context.Context) {
	go a.publisher.Run(ctx)
	go a.deliverer.Start(ctx)
	if a.redisBroker != nil {
		go func() {
			if err := a.redisBroker.Run(ctx); err != nil {
				a.logger.Error("realtime broker stopped", "error", err)
			}
		}()
	}
}

func (a *app) RouterConfig(cfg *appconfig.Config) *router.Config {
	return &router.Config{
		Logger:              a.logger,
		RequestsHandler:     a.requestsHandler,
		AvailabilityHandler: a.availabilityHandler,
		SlotsHandler:        a.slotsHandler,
		DepositsHandler:     a.depositsHandler,
		CheckoutHandler:     a.checkoutHandler,
		AccountHandler:      a.accountHandler,
		StripeWebhook:       a.stripeWebhook,
		RealtimeHandler:     a.realtimeHandler,
		MetricsHandler:      a.metricsHandler,
		JWTSecret:           cfg.JWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	}
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func connectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to ping redis", "addr", cfg.RedisAddr, "error", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// emailSender picks SES, then SendGrid, then the logging stub in development.
// It returns a nil interface when nothing is configured.
func emailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if cfg.UseSES && awsCfg != nil {
		if s := notify.NewSESSender(mainconfig.SESClient(*awsCfg, cfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
	}
	if s := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); s != nil {
		return s
	}
	if cfg.Env == "development" {
		return notify.NewStubEmailSender(logger)
	}
	return nil
}
