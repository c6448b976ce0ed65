package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/domain"
)

var (
	// ErrInvalidPolicy signals a fee policy that would break pricing invariants, such as a negative fee.
	ErrInvalidPolicy = errors.New("pricing: invalid fee policy")
	// ErrInvalidSubtotal signals a negative cart subtotal.
	ErrInvalidSubtotal = errors.New("pricing: invalid subtotal")
)

// FeePolicy carries the externally configured fees and the credits applied to a checkout.
// A zero DeliveryFee is the free delivery scheme; a positive one is the flat fee scheme.
type FeePolicy struct {
	DeliveryFee decimal.Decimal
	HandlingFee decimal.Decimal
	// FreeDeliveryThreshold waives the delivery fee when positive and the subtotal reaches it.
	FreeDeliveryThreshold decimal.Decimal
	Credits               []domain.Credit
}

// WithCredits returns a copy of the policy carrying credits.
func (p FeePolicy) WithCredits(credits []domain.Credit) FeePolicy {
	p.Credits = append([]domain.Credit(nil), credits...)
	return p
}

// Validate reports whether the fee inputs are usable.
func (p FeePolicy) Validate() error {
	if p.DeliveryFee.IsNegative() {
		return fmt.Errorf("%w: delivery fee must not be negative", ErrInvalidPolicy)
	}
	if p.HandlingFee.IsNegative() {
		return fmt.Errorf("%w: handling fee must not be negative", ErrInvalidPolicy)
	}
	if p.FreeDeliveryThreshold.IsNegative() {
		return fmt.Errorf("%w: free delivery threshold must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Engine computes payable totals. It holds no state besides its logger.
type Engine struct {
	logger func(context.Context, string, map[string]any)
}

// EngineDeps configures an Engine.
type EngineDeps struct {
	Logger func(context.Context, string, map[string]any)
}

// NewEngine constructs a pricing engine.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Engine{logger: logger}
}

// ComputeTotal prices a subtotal under policy. The result depends only on the inputs:
// discount is the sum of positive credits capped at subtotal plus fees, and the total is
// never negative. Every amount is rounded half-up to two decimal places.
func (e *Engine) ComputeTotal(ctx context.Context, subtotal decimal.Decimal, policy FeePolicy) (domain.PricingBreakdown, error) {
	if subtotal.IsNegative() {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: %s", ErrInvalidSubtotal, subtotal)
	}
	if err := policy.Validate(); err != nil {
		return domain.PricingBreakdown{}, err
	}

	subtotal = domain.RoundMoney(subtotal)
	delivery := domain.RoundMoney(policy.DeliveryFee)
	handling := domain.RoundMoney(policy.HandlingFee)

	threshold := domain.RoundMoney(policy.FreeDeliveryThreshold)
	if threshold.IsPositive() && subtotal.GreaterThanOrEqual(threshold) {
		delivery = decimal.Zero
	}

	gross := subtotal.Add(delivery).Add(handling)

	requested := decimal.Zero
	for _, credit := range policy.Credits {
		if credit.Amount.IsPositive() {
			requested = requested.Add(credit.Amount)
		}
	}
	requested = domain.RoundMoney(requested)

	discount := requested
	if discount.GreaterThan(gross) {
		e.logger(ctx, "pricing.discount_clamped", map[string]any{
			"subtotal": domain.FormatMoney(subtotal),
			"gross":    domain.FormatMoney(gross),
			"discount": domain.FormatMoney(requested),
		})
		discount = gross
	}

	total := gross.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.PricingBreakdown{
		Subtotal:     subtotal,
		DeliveryFee:  delivery,
		HandlingFee:  handling,
		Discount:     discount,
		Total:        domain.RoundMoney(total),
		FreeDelivery: delivery.IsZero(),
	}, nil
}
