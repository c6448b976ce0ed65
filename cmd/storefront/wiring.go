package main

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/events"
	"github.com/shopeasy/storefront/internal/payments"
	"github.com/shopeasy/storefront/internal/platform/config"
	pfirestore "github.com/shopeasy/storefront/internal/platform/firestore"
	"github.com/shopeasy/storefront/internal/platform/idempotency"
	"github.com/shopeasy/storefront/internal/platform/observability"
	"github.com/shopeasy/storefront/internal/repositories"
	firestorerepo "github.com/shopeasy/storefront/internal/repositories/firestore"
	"github.com/shopeasy/storefront/internal/repositories/memory"
)

// backend bundles the repositories of the configured persistence backend.
type backend struct {
	addresses   repositories.AddressRepository
	orders      repositories.OrderRepository
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	credits     repositories.CreditRepository
	idempotency idempotency.Store
	ready       func(context.Context) error
	close       func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.Firestore.Backend == config.BackendMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &backend{
			addresses:   memory.NewAddressRepository(),
			orders:      memory.NewOrderRepository(),
			carts:       memory.NewCartRepository(),
			products:    memory.NewProductRepository(demoCatalog()...),
			credits:     memory.NewCreditRepository(),
			idempotency: idempotency.NewMemoryStore(),
			ready:       func(context.Context) error { return nil },
			close:       func() {},
		}, nil
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	addresses, err := firestorerepo.NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	orderRepo, err := firestorerepo.NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := firestorerepo.NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := firestorerepo.NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	credits, err := firestorerepo.NewCreditRepository(provider)
	if err != nil {
		return nil, err
	}
	return &backend{
		addresses:   addresses,
		orders:      orderRepo,
		carts:       carts,
		products:    products,
		credits:     credits,
		idempotency: idempotency.NewFirestoreStore(provider),
		ready: func(ctx context.Context) error {
			_, err := provider.Client(ctx)
			return err
		},
		close: func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		},
	}, nil
}

// newPaymentManager registers Stripe when a key is configured and the sandbox otherwise.
func newPaymentManager(cfg config.PSPConfig, logger *zap.Logger) (*payments.Manager, error) {
	paymentLogger := payments.StripeLogger(observability.EventLogger(logger.Named("payments")))
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		logger.Warn("no stripe key configured; using the sandbox payment processor")
		return payments.NewManager(map[string]payments.Provider{
			payments.SandboxProviderName: payments.NewSandboxProvider(payments.SandboxConfig{
				RedirectBaseURL: cfg.SandboxRedirectURL,
				Logger:          paymentLogger,
			}),
		})
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.StripeAPIKey,
		AccountID: cfg.StripeAccountID,
		ReturnURL: cfg.ReturnURL,
		Logger:    paymentLogger,
	})
	if err != nil {
		return nil, err
	}
	return payments.NewManager(map[string]payments.Provider{payments.StripeProviderName: stripeProvider})
}

// orderEvents is satisfied by events.PubSubOrderPublisher.
type orderEvents interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
	PublishOrderStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error
}

// newOrderPublisher returns nil when no topic is configured.
func newOrderPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (orderEvents, func(), error) {
	topicName := strings.TrimSpace(cfg.OrdersTopic)
	if topicName == "" {
		logger.Info("order events disabled; no topic configured")
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	publisher, err := events.NewPubSubOrderPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, closeFn, nil
}

func demoCatalog() []domain.Product {
	return []domain.Product{
		{ID: "milk-1l", Name: "Toned Milk 1L", UnitPrice: decimal.RequireFromString("54.00")},
		{ID: "bread-400g", Name: "Whole Wheat Bread 400g", UnitPrice: decimal.RequireFromString("45.00")},
		{ID: "eggs-6", Name: "Farm Eggs (6 pcs)", UnitPrice: decimal.RequireFromString("48.50")},
		{ID: "banana-1kg", Name: "Robusta Banana 1kg", UnitPrice: decimal.RequireFromString("39.00")},
	}
}
