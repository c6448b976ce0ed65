package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/payments"
	"github.com/shopeasy/storefront/internal/repositories"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrInvalidTransition indicates a status change outside the fulfilment lifecycle.
	ErrInvalidTransition = domain.ErrInvalidStatusTransition
	// ErrRefundFailed indicates a paid order could not be refunded, so it was not cancelled.
	ErrRefundFailed = errors.New("orders: refund failed")
	// ErrUnavailable indicates the order store could not be reached.
	ErrUnavailable = errors.New("orders: order store unavailable")
)

// Refunder returns captured payments. payments.Manager satisfies it.
type Refunder interface {
	RefundOrder(ctx context.Context, order domain.Order, reason string) (payments.PaymentDetails, error)
}

// StatusPublisher announces status transitions.
type StatusPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error
}

// Viewer is the caller reading orders. Staff can read any order.
type Viewer struct {
	UserID string
	Staff  bool
}

// Deps wires a Service.
type Deps struct {
	Repository repositories.OrderRepository
	Refunds    Refunder
	Publisher  StatusPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Service serves order history and fulfilment status changes.
type Service struct {
	repo      repositories.OrderRepository
	refunds   Refunder
	publisher StatusPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewService constructs an order service.
func NewService(deps Deps) (*Service, error) {
	if deps.Repository == nil {
		return nil, errors.New("orders: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Service{
		repo:      deps.Repository,
		refunds:   deps.Refunds,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// List returns the user's orders, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	orders, err := s.repo.ListByUser(ctx, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

// Get returns one order visible to the viewer.
func (s *Service) Get(ctx context.Context, viewer Viewer, orderID string) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, translate(err)
	}
	if !viewer.Staff && order.UserID != viewer.UserID {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// Transition moves an order to next. Cancelling a paid order refunds it first; if the refund
// fails the order keeps its status.
func (s *Service) Transition(ctx context.Context, orderID string, next domain.OrderStatus, reason string) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, translate(err)
	}
	previous := order.Status
	updated, err := order.TransitionStatus(next, s.now())
	if err != nil {
		return domain.Order{}, err
	}

	if next == domain.OrderStatusCancelled && order.PaymentStatus == domain.PaymentStatusPaid {
		if s.refunds == nil {
			return domain.Order{}, fmt.Errorf("%w: no refund processor configured", ErrRefundFailed)
		}
		if strings.TrimSpace(reason) == "" {
			reason = "order_cancelled"
		}
		details, err := s.refunds.RefundOrder(ctx, order, reason)
		if err != nil {
			s.logger(ctx, "orders.refund_failed", map[string]any{
				"orderId":   order.ID,
				"reference": order.Payment.Reference,
				"error":     err.Error(),
			})
			return domain.Order{}, fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
		updated.PaymentStatus = domain.PaymentStatusRefunded
		s.logger(ctx, "orders.refunded", map[string]any{
			"orderId":   order.ID,
			"reference": details.Reference,
			"amount":    domain.FormatMoney(payments.MajorUnits(details.Amount)),
		})
	}

	if err := s.repo.UpdateStatus(ctx, updated); err != nil {
		return domain.Order{}, translate(err)
	}
	s.logger(ctx, "orders.status_changed", map[string]any{
		"orderId": order.ID,
		"from":    string(previous),
		"to":      string(next),
	})
	if s.publisher != nil {
		if err := s.publisher.PublishOrderStatusChanged(ctx, updated, previous); err != nil {
			s.logger(ctx, "orders.publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	return updated, nil
}

// CancelOwn lets a customer cancel their own order while it has not started processing.
func (s *Service) CancelOwn(ctx context.Context, userID, orderID string) (domain.Order, error) {
	order, err := s.Get(ctx, Viewer{UserID: userID}, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPlaced {
		return domain.Order{}, fmt.Errorf("%w: %s orders cannot be cancelled by the customer", ErrInvalidTransition, order.Status)
	}
	return s.Transition(ctx, order.ID, domain.OrderStatusCancelled, "requested_by_customer")
}

func translate(err error) error {
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
