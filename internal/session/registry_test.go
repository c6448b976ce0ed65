package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/cart"
	"github.com/shopeasy/storefront/internal/checkout"
	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/payments"
	"github.com/shopeasy/storefront/internal/pricing"
	"github.com/shopeasy/storefront/internal/repositories"
	"github.com/shopeasy/storefront/internal/repositories/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newRegistry(t *testing.T, clock *fakeClock) (*Registry, *memory.OrderRepository) {
	t.Helper()
	return newRegistryWithCarts(t, clock, nil)
}

func newRegistryWithCarts(t *testing.T, clock *fakeClock, carts repositories.CartRepository) (*Registry, *memory.OrderRepository) {
	t.Helper()
	manager, err := payments.NewManager(map[string]payments.Provider{
		payments.SandboxProviderName: payments.NewSandboxProvider(payments.SandboxConfig{}),
	})
	require.NoError(t, err)
	orders := memory.NewOrderRepository()
	registry, err := NewRegistry(Deps{
		Policy:   pricing.FeePolicy{HandlingFee: decimal.RequireFromString("2")},
		Currency: "INR",
		Payments: manager,
		Orders:   orders,
		Carts:    carts,
		Clock:    clock.Now,
		IdleTTL:  time.Hour,
	})
	require.NoError(t, err)
	return registry, orders
}

func TestRegistryReusesSessionUntilConfirmed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)}
	registry, orders := newRegistry(t, clock)

	m, err := registry.Machine(ctx, "u1")
	require.NoError(t, err)
	again, err := registry.Machine(ctx, " u1 ")
	require.NoError(t, err)
	assert.Same(t, m, again)

	require.NoError(t, m.WithCart(ctx, func(c *cart.Store) error {
		c.AddItem(domain.Product{ID: "milk", Name: "Milk", UnitPrice: decimal.RequireFromString("40")}, 2)
		return nil
	}))
	require.NoError(t, m.Advance(ctx))
	require.NoError(t, m.SelectAddress(domain.Address{ID: "a1", UserID: "u1", Line1: "1 Main", City: "Pune"}))
	require.NoError(t, m.Advance(ctx))
	require.NoError(t, m.SelectPaymentMethod(domain.PaymentMethodPayOnDelivery))
	order, err := m.PlaceOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "82.00", domain.FormatMoney(order.Total))

	stored, err := orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)

	next, err := registry.Machine(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, m, next)
	assert.Equal(t, checkout.StateCart, next.State())
	assert.Equal(t, 0, next.Snapshot(ctx).ItemCount)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)}
	registry, _ := newRegistry(t, clock)

	_, err := registry.Machine(ctx, "idle")
	require.NoError(t, err)
	clock.now = clock.now.Add(50 * time.Minute)
	_, err = registry.Machine(ctx, "active")
	require.NoError(t, err)

	clock.now = clock.now.Add(20 * time.Minute)
	assert.Equal(t, 1, registry.Evict(ctx))
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryRequiresUser(t *testing.T) {
	registry, _ := newRegistry(t, &fakeClock{now: time.Now()})
	_, err := registry.Machine(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrUserRequired)
}

type failingCarts struct{ err error }

func (f failingCarts) Load(context.Context, string) ([]domain.CartLine, error) { return nil, f.err }

func (f failingCarts) Save(context.Context, string, []domain.CartLine) error { return f.err }

func TestRegistryRestoresSavedCartAfterEviction(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)}
	carts := memory.NewCartRepository()
	registry, _ := newRegistryWithCarts(t, clock, carts)

	m, err := registry.Machine(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, m.WithCart(ctx, func(c *cart.Store) error {
		c.AddItem(domain.Product{ID: "milk", Name: "Milk", UnitPrice: decimal.RequireFromString("40")}, 2)
		c.AddItem(domain.Product{ID: "bread", Name: "Bread", UnitPrice: decimal.RequireFromString("35.50")}, 1)
		return nil
	}))

	clock.now = clock.now.Add(2 * time.Hour)
	require.Equal(t, 1, registry.Evict(ctx))
	require.Equal(t, 0, registry.Len())

	restored, err := registry.Machine(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, m, restored)
	snap := restored.Snapshot(ctx)
	require.Len(t, snap.Lines, 2)
	assert.Equal(t, "milk", snap.Lines[0].ProductID)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	assert.Equal(t, "35.50", domain.FormatMoney(snap.Lines[1].UnitPriceSnapshot), "the price stays frozen")
	assert.Equal(t, "115.50", domain.FormatMoney(snap.Quote.Subtotal))

	require.NoError(t, restored.Advance(ctx))
	require.NoError(t, restored.SelectAddress(domain.Address{ID: "a1", UserID: "u1", Line1: "1 Main", City: "Pune"}))
	require.NoError(t, restored.Advance(ctx))
	require.NoError(t, restored.SelectPaymentMethod(domain.PaymentMethodPayOnDelivery))
	_, err = restored.PlaceOrder(ctx)
	require.NoError(t, err)

	saved, err := carts.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, saved, "a confirmed order removes the saved cart")
	next, err := registry.Machine(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, next.Snapshot(ctx).ItemCount)
}

func TestRegistrySurfacesCartLoadFailure(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)}
	loadErr := errors.New("firestore unavailable")
	registry, _ := newRegistryWithCarts(t, clock, failingCarts{err: loadErr})

	_, err := registry.Machine(ctx, "u1")
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, 0, registry.Len())
}
