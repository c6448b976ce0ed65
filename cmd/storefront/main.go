package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/shopeasy/storefront/internal/address"
	"github.com/shopeasy/storefront/internal/handlers"
	"github.com/shopeasy/storefront/internal/orders"
	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/config"
	"github.com/shopeasy/storefront/internal/platform/idempotency"
	"github.com/shopeasy/storefront/internal/platform/observability"
	"github.com/shopeasy/storefront/internal/platform/secrets"
	"github.com/shopeasy/storefront/internal/pricing"
	"github.com/shopeasy/storefront/internal/session"
)

var (
	version   = "dev"
	commitSHA = ""
)

const (
	sessionIdleTTL        = 6 * time.Hour
	sessionEvictInterval  = 10 * time.Minute
	backgroundStopTimeout = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("STOREFRONT_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	fetcher, err := secrets.NewFetcher(ctx, secrets.Config{
		ProjectID: firstNonEmpty(os.Getenv("STOREFRONT_SECURITY_SECRETS_PROJECT"), os.Getenv("STOREFRONT_FIREBASE_PROJECT_ID")),
		LocalFile: os.Getenv("STOREFRONT_SECRETS_FILE"),
		Logger:    logger.Named("secrets"),
		Meter:     otel.GetMeterProvider().Meter("github.com/shopeasy/storefront/secrets"),
	})
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	redacted := cfg.Redacted()
	logger.Info("configuration loaded",
		zap.String("environment", redacted.Security.Environment),
		zap.String("backend", redacted.Firestore.Backend),
		zap.String("currency", redacted.Pricing.Currency),
		zap.String("stripeKey", redacted.PSP.StripeAPIKey),
	)

	backing, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise storage backend", zap.Error(err))
	}
	defer backing.close()

	manager, err := newPaymentManager(cfg.PSP, logger)
	if err != nil {
		logger.Fatal("failed to initialise payments", zap.Error(err))
	}

	publisher, closePublisher, err := newOrderPublisher(ctx, cfg.Events, logger)
	if err != nil {
		logger.Fatal("failed to initialise order events", zap.Error(err))
	}
	defer closePublisher()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	events := observability.EventLogger(logger)

	registryDeps := session.Deps{
		Pricing: pricing.NewEngine(pricing.EngineDeps{Logger: events}),
		Policy: pricing.FeePolicy{
			DeliveryFee:           cfg.Pricing.DeliveryFee,
			HandlingFee:           cfg.Pricing.HandlingFee,
			FreeDeliveryThreshold: cfg.Pricing.FreeDeliveryThreshold,
		},
		Currency: cfg.Pricing.Currency,
		Payments: manager,
		Orders:   backing.orders,
		Carts:    backing.carts,
		IdleTTL:  sessionIdleTTL,
		Logger:   events,
	}
	if publisher != nil {
		registryDeps.Publisher = publisher
	}
	registry, err := session.NewRegistry(registryDeps)
	if err != nil {
		logger.Fatal("failed to initialise checkout sessions", zap.Error(err))
	}

	book, err := address.NewBook(address.BookDeps{Repository: backing.addresses, Logger: events})
	if err != nil {
		logger.Fatal("failed to initialise address book", zap.Error(err))
	}

	orderDeps := orders.Deps{Repository: backing.orders, Refunds: manager, Logger: events}
	if publisher != nil {
		orderDeps.Publisher = publisher
	}
	orderService, err := orders.NewService(orderDeps)
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		backing.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		idempotency.RunPurger(bgCtx, backing.idempotency, cfg.Idempotency.CleanupInterval, events)
	}()
	go func() {
		defer bg.Done()
		registry.RunEvictor(bgCtx, sessionEvictInterval)
	}()

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     version,
			CommitSHA:   commitSHA,
			Environment: cfg.Security.Environment,
			StartedAt:   startedAt,
		}),
		handlers.WithReadinessCheck("storage", backing.ready),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, registry,
		handlers.WithCheckoutAddresses(book),
		handlers.WithCheckoutCredits(backing.credits),
		handlers.WithPlaceOrderMiddleware(idempotencyMiddleware),
	)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware,
			observability.RequestLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware,
		),
		handlers.WithHealthHandlers(health),
		handlers.WithCartRoutes(handlers.NewCartHandlers(authenticator, registry, backing.products).Routes),
		handlers.WithProductRoutes(handlers.NewProductHandlers(backing.products).Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithAddressRoutes(handlers.NewAddressHandlers(authenticator, book).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, orderService).Routes),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting storefront server", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	bgCancel()
	done := make(chan struct{})
	go func() {
		bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(backgroundStopTimeout):
		logger.Warn("background workers did not stop in time")
	}
	logger.Info("server stopped", zap.Int("sessions", registry.Len()))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
