package repositories

import (
	"context"
	"errors"

	"github.com/shopeasy/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// AddressRepository stores a user's saved delivery addresses.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Insert(ctx context.Context, addr domain.Address) error
	Delete(ctx context.Context, userID string, addressID string) error
}

// OrderRepository persists placed orders. Save assigns and returns the order id.
type OrderRepository interface {
	Save(ctx context.Context, order domain.Order) (string, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, order domain.Order) error
}

// CartRepository keeps each user's cart lines between sessions. Load returns no lines and no
// error for a user without a saved cart; saving no lines removes the cart.
type CartRepository interface {
	Load(ctx context.Context, userID string) ([]domain.CartLine, error)
	Save(ctx context.Context, userID string, lines []domain.CartLine) error
}

// ProductRepository is the read-only catalog view used when adding items to a cart.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CreditRepository resolves gift card codes and wallet balances to their available amount.
// Wallet balances are keyed by user; gift card codes are global.
type CreditRepository interface {
	Lookup(ctx context.Context, userID string, source domain.CreditSource, code string) (domain.Credit, error)
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries transient backend semantics.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
