package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks fulfilment progress for a placed order.
type OrderStatus string

const (
	// OrderStatusPlaced is the status assigned at checkout completion.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusProcessing indicates the store is picking the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOutForDelivery indicates a rider has the order.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ErrInvalidStatusTransition indicates a fulfilment event that does not follow the order lifecycle.
var ErrInvalidStatusTransition = errors.New("order: invalid status transition")

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPlaced:         {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusOutForDelivery, OrderStatusCancelled},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled},
}

// Valid reports whether the status is known.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusProcessing, OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further fulfilment transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Order is the immutable artifact of a completed checkout. Only Status and UpdatedAt change after creation.
type Order struct {
	ID            string
	UserID        string
	Lines         []CartLine
	Subtotal      decimal.Decimal
	DeliveryFee   decimal.Decimal
	HandlingFee   decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	Credits       []Credit
	Currency      string
	Address       Address
	Payment       PaymentMethodUsed
	PaymentStatus PaymentStatus
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemCount sums the quantities of the frozen lines.
func (o Order) ItemCount() int {
	count := 0
	for _, line := range o.Lines {
		count += line.Quantity
	}
	return count
}

// TransitionStatus returns a copy of the order moved to next. Pricing fields are never touched.
func (o Order) TransitionStatus(next OrderStatus, at time.Time) (Order, error) {
	if !next.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, next)
	}
	if !o.Status.CanTransitionTo(next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, next)
	}
	updated := o
	updated.Lines = CloneLines(o.Lines)
	updated.Credits = append([]Credit(nil), o.Credits...)
	updated.Status = next
	updated.UpdatedAt = at.UTC()
	return updated, nil
}

// CloneLines returns a deep copy of lines.
func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}
