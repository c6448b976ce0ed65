package checkout

import (
	"context"

	"github.com/shopeasy/storefront/internal/domain"
)

// PaymentProcessor charges the customer for methods that need external confirmation.
// Any returned error is treated as a failed charge.
type PaymentProcessor interface {
	Charge(ctx context.Context, req domain.PaymentRequest) (domain.PaymentReceipt, error)
}

// OrderStore persists placed orders and returns the assigned id.
type OrderStore interface {
	Save(ctx context.Context, order domain.Order) (string, error)
}

// CartSaver keeps the customer's cart lines across sessions. Saving no lines removes the saved cart.
type CartSaver interface {
	Save(ctx context.Context, userID string, lines []domain.CartLine) error
}

// OrderPublisher is notified after an order is persisted. Failures are logged and never undo the order.
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
}
