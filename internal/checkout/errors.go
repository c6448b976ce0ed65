package checkout

import (
	"errors"
	"fmt"

	"github.com/shopeasy/storefront/internal/address"
	"github.com/shopeasy/storefront/internal/domain"
)

var (
	// ErrEmptyCart indicates checkout was started or completed with no cart lines.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrMissingAddress indicates checkout tried to leave address selection without an address.
	ErrMissingAddress = address.ErrMissingAddress
	// ErrCheckoutConfirmed indicates the checkout already produced an order and accepts no more changes.
	ErrCheckoutConfirmed = errors.New("checkout: already confirmed")
	// ErrIllegalTransition indicates the requested step is not reachable from the current state.
	ErrIllegalTransition = errors.New("checkout: illegal transition")
	// ErrPlacementInFlight indicates an order placement is awaiting a collaborator result.
	ErrPlacementInFlight = errors.New("checkout: order placement in progress")
	// ErrPlacementAbandoned indicates the checkout was cancelled while placement was in flight; the result was discarded.
	ErrPlacementAbandoned = errors.New("checkout: order placement abandoned")
	// ErrChargeUnconfirmed indicates a charge succeeded but its order is not persisted yet; only PlaceOrder or Cancel are accepted.
	ErrChargeUnconfirmed = errors.New("checkout: charge awaiting order confirmation")
	// ErrCartNotSaved indicates a cart edit could not be saved and was rolled back.
	ErrCartNotSaved = errors.New("checkout: cart not saved")
	// ErrInvalidCredit indicates a credit without code or with a non-positive amount.
	ErrInvalidCredit = errors.New("checkout: invalid credit")
)

// PaymentDeclinedError reports that the payment processor refused or failed the charge.
// The cart and selections are preserved so the customer can retry or switch method.
// Definite is false when the processor failed without a verdict; the charge may exist and a
// retry reuses its idempotency key.
type PaymentDeclinedError struct {
	Method   domain.PaymentMethod
	Reason   string
	Definite bool
	Err      error
}

func (e *PaymentDeclinedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return fmt.Sprintf("checkout: %s payment declined: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("checkout: %s payment declined", e.Method)
}

func (e *PaymentDeclinedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PersistenceError reports that the order could not be stored. When PaymentReference is set the
// customer was charged and the order must be confirmed before any further charge attempt.
type PersistenceError struct {
	PaymentReference string
	Err              error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	if e.PaymentReference != "" {
		return fmt.Sprintf("checkout: order not saved after charge %s: %v", e.PaymentReference, e.Err)
	}
	return fmt.Sprintf("checkout: order not saved: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Charged reports whether the customer may have been charged for the unsaved order.
func (e *PersistenceError) Charged() bool {
	return e != nil && e.PaymentReference != ""
}
