package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lumenshop/orders-api/internal/handlers"
	"github.com/lumenshop/orders-api/internal/payments"
	"github.com/lumenshop/orders-api/internal/platform/auth"
	"github.com/lumenshop/orders-api/internal/platform/config"
	"github.com/lumenshop/orders-api/internal/platform/idempotency"
	"github.com/lumenshop/orders-api/internal/platform/jobs"
	"github.com/lumenshop/orders-api/internal/platform/observability"
	"github.com/lumenshop/orders-api/internal/platform/postgres"
	postgresrepo "github.com/lumenshop/orders-api/internal/repositories/postgres"
	"github.com/lumenshop/orders-api/internal/services"
	"github.com/lumenshop/orders-api/internal/shipping"
)

const dedupCleanupInterval = time.Hour

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		os.Stderr.WriteString("failed to initialise logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := postgresrepo.NewRegistry(db)
	ledger := idempotency.NewPostgresStore(db)
	eventLog := observability.EventLogger(logger)

	paymentProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Logger:        payments.StripeLogger(eventLog),
	})
	if err != nil {
		return err
	}

	shippingProvider, err := shipping.NewRESTProvider(shipping.RESTProviderConfig{
		BaseURL: cfg.Carrier.BaseURL,
		APIKey:  cfg.Carrier.APIKey,
		Client:  &http.Client{Timeout: cfg.Carrier.Timeout},
		Logger:  shipping.RESTLogger(eventLog),
	})
	if err != nil {
		return err
	}

	carrierVerifier, err := auth.NewHMACVerifier(cfg.Carrier.WebhookSecret)
	if err != nil {
		return err
	}

	publisher, err := jobs.NewRabbitNotificationPublisher(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close notification publisher", zap.Error(err))
		}
	}()

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Publisher: publisher,
		Orders:    registry.Orders(),
		QueueSize: cfg.Notifications.QueueSize,
		Logger:    eventLog,
		OnPublishFailure: func(string) {
			observability.RecordNotificationFailure()
		},
	})
	if err != nil {
		return err
	}
	go dispatcher.Run()
	defer dispatcher.Close()

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		AuditLogs: registry.AuditLogs(),
	})
	if err != nil {
		return err
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           registry.Orders(),
		Payments:         registry.Payments(),
		Refunds:          registry.Refunds(),
		Shipments:        registry.Shipments(),
		Counters:         registry.Counters(),
		Audit:            auditService,
		UnitOfWork:       registry,
		PaymentProvider:  paymentProvider,
		ShippingProvider: shippingProvider,
		Notifications:    dispatcher,
		Logger:           eventLog,
	})
	if err != nil {
		return err
	}

	webhookHandlers, err := handlers.NewWebhookHandlers(handlers.WebhookHandlersDeps{
		Orders:           orderService,
		PaymentProvider:  paymentProvider,
		CarrierVerifier:  carrierVerifier,
		CarrierSigHeader: cfg.Carrier.SignatureHeader,
		Ledger:           ledger,
		DedupTTL:         cfg.Webhooks.DedupTTL,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Orders:        handlers.NewOrderHandlers(orderService, auditService),
		Payments:      handlers.NewPaymentHandlers(orderService),
		Shipping:      handlers.NewShippingHandlers(orderService),
		Webhooks:      webhookHandlers,
		Notifications: handlers.NewNotificationHandlers(dispatcher),
	})

	go runDedupCleanup(ctx, ledger, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runDedupCleanup prunes expired webhook deduplication records in the
// background until the context is cancelled.
func runDedupCleanup(ctx context.Context, ledger idempotency.Store, logger *zap.Logger) {
	ticker := time.NewTicker(dedupCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := ledger.CleanupExpired(ctx, time.Now().UTC(), 1000)
			if err != nil {
				logger.Warn("webhook dedup cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Debug("webhook dedup cleanup", zap.Int("deleted", deleted))
			}
		}
	}
}
