package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/payments"
	"github.com/shopeasy/storefront/internal/repositories/memory"
)

type stubRefunder struct {
	refundFn func(ctx context.Context, order domain.Order, reason string) (payments.PaymentDetails, error)
	calls    int
}

func (s *stubRefunder) RefundOrder(ctx context.Context, order domain.Order, reason string) (payments.PaymentDetails, error) {
	s.calls++
	if s.refundFn != nil {
		return s.refundFn(ctx, order, reason)
	}
	return payments.PaymentDetails{Reference: "re_1", Amount: domain.MinorUnits(order.Total), Status: payments.StatusRefunded}, nil
}

type stubPublisher struct {
	published []domain.OrderStatus
	err       error
}

func (s *stubPublisher) PublishOrderStatusChanged(_ context.Context, order domain.Order, _ domain.OrderStatus) error {
	s.published = append(s.published, order.Status)
	return s.err
}

var fixedNow = time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)

func seedOrder(t *testing.T, repo *memory.OrderRepository, userID string, paymentStatus domain.PaymentStatus) domain.Order {
	t.Helper()
	order := domain.Order{
		UserID:        userID,
		Lines:         []domain.CartLine{{ProductID: "milk", UnitPriceSnapshot: decimal.RequireFromString("40"), Quantity: 2}},
		Subtotal:      decimal.RequireFromString("80"),
		HandlingFee:   decimal.RequireFromString("2"),
		Total:         decimal.RequireFromString("82"),
		Currency:      "INR",
		Payment:       domain.PaymentMethodUsed{Method: domain.PaymentMethodCard, Last4: "4242", Reference: "pi_1"},
		PaymentStatus: paymentStatus,
		Status:        domain.OrderStatusPlaced,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
	id, err := repo.Save(context.Background(), order)
	require.NoError(t, err)
	order.ID = id
	return order
}

func newService(t *testing.T, repo *memory.OrderRepository, refunds Refunder, publisher StatusPublisher) *Service {
	t.Helper()
	svc, err := NewService(Deps{
		Repository: repo,
		Refunds:    refunds,
		Publisher:  publisher,
		Clock:      func() time.Time { return fixedNow.Add(time.Hour) },
	})
	require.NoError(t, err)
	return svc
}

func TestGetHidesOtherUsersOrders(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo, "u1", domain.PaymentStatusPaid)
	svc := newService(t, repo, nil, nil)
	ctx := context.Background()

	got, err := svc.Get(ctx, Viewer{UserID: "u1"}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "82.00", domain.FormatMoney(got.Total))

	_, err = svc.Get(ctx, Viewer{UserID: "u2"}, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.Get(ctx, Viewer{UserID: "staff", Staff: true}, order.ID)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, Viewer{UserID: "u1"}, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListScopesToUser(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedOrder(t, repo, "u1", domain.PaymentStatusPaid)
	seedOrder(t, repo, "u1", domain.PaymentStatusPending)
	seedOrder(t, repo, "u2", domain.PaymentStatusPaid)
	svc := newService(t, repo, nil, nil)

	orders, err := svc.List(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestTransitionFollowsLifecycleAndPublishes(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo, "u1", domain.PaymentStatusPaid)
	publisher := &stubPublisher{}
	svc := newService(t, repo, &stubRefunder{}, publisher)
	ctx := context.Background()

	updated, err := svc.Transition(ctx, order.ID, domain.OrderStatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, updated.Status)
	assert.Equal(t, fixedNow.Add(time.Hour), updated.UpdatedAt)
	assert.True(t, updated.Total.Equal(order.Total))

	_, err = svc.Transition(ctx, order.ID, domain.OrderStatusPlaced, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusProcessing}, publisher.published)
}

func TestCancelPaidOrderRefunds(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo, "u1", domain.PaymentStatusPaid)
	refunds := &stubRefunder{}
	svc := newService(t, repo, refunds, &stubPublisher{err: errors.New("pubsub down")})

	updated, err := svc.Transition(context.Background(), order.ID, domain.OrderStatusCancelled, "out_of_stock")
	require.NoError(t, err)
	assert.Equal(t, 1, refunds.calls)
	assert.Equal(t, domain.PaymentStatusRefunded, updated.PaymentStatus)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Equal(t, domain.PaymentStatusRefunded, stored.PaymentStatus)
}

func TestCancelKeepsStatusWhenRefundFails(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo, "u1", domain.PaymentStatusPaid)
	refunds := &stubRefunder{refundFn: func(context.Context, domain.Order, string) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, errors.New("psp unavailable")
	}}
	svc := newService(t, repo, refunds, nil)

	_, err := svc.Transition(context.Background(), order.ID, domain.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, ErrRefundFailed)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPlaced, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
}

func TestCancelOwnPendingPaymentSkipsRefund(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo, "u1", domain.PaymentStatusPending)
	refunds := &stubRefunder{}
	svc := newService(t, repo, refunds, nil)
	ctx := context.Background()

	_, err := svc.CancelOwn(ctx, "u2", order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	updated, err := svc.CancelOwn(ctx, "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 0, refunds.calls)
}

func TestCancelOwnRejectsProcessingOrders(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo, "u1", domain.PaymentStatusPending)
	svc := newService(t, repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Transition(ctx, order.ID, domain.OrderStatusProcessing, "")
	require.NoError(t, err)
	_, err = svc.CancelOwn(ctx, "u1", order.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
