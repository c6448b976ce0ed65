package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/domain"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrUnsupportedMethod is returned when a method never goes through a processor.
	ErrUnsupportedMethod = errors.New("payments: method is not processed externally")
	// ErrDeclined matches every DeclineError.
	ErrDeclined = errors.New("payments: declined")
)

// DeclineError reports that the provider refused the payment.
type DeclineError struct {
	Provider string
	Code     string
	Reason   string
}

func (e *DeclineError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payments: %s declined", e.Provider)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is(err, ErrDeclined) match.
func (e *DeclineError) Is(target error) bool {
	return target == ErrDeclined
}

// DeclineReason returns a customer facing explanation.
func (e *DeclineError) DeclineReason() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return e.Reason
	}
	return e.Code
}

// ChargeRequest is the provider-level charge payload. Amounts are in minor units.
type ChargeRequest struct {
	Method         domain.PaymentMethod
	Amount         int64
	Currency       string
	CardToken      string
	CardNumber     string
	UPIID          string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest defines a refund attempt, optionally partial.
type RefundRequest struct {
	Reference      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest identifies a payment for reconciliation.
type LookupRequest struct {
	Reference string
}

// PaymentDetails normalises PSP specific fields.
type PaymentDetails struct {
	Provider    string
	Reference   string
	Status      Status
	Amount      int64
	Currency    string
	RedirectURL string
	Brand       string
	Last4       string
}

// Provider defines the contract for PSP adapters.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
	methodRoutes    map[domain.PaymentMethod]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// WithMethodRoutes sends specific payment methods to specific providers.
func WithMethodRoutes(routes map[domain.PaymentMethod]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[domain.PaymentMethod]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[k] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[StripeProviderName]; ok {
		m.defaultProvider = StripeProviderName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Method            domain.PaymentMethod
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if key, ok := m.methodRoutes[ctx.Method]; ok {
		provider := strings.ToLower(key)
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Charge routes a checkout payment to a provider and normalises the outcome. A provider
// reporting the payment as failed yields a *DeclineError.
func (m *Manager) Charge(ctx context.Context, req domain.PaymentRequest) (domain.PaymentReceipt, error) {
	method := req.Selection.Method
	if !method.RequiresExternalConfirmation() {
		return domain.PaymentReceipt{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	amount := domain.MinorUnits(req.Amount)
	if amount <= 0 {
		return domain.PaymentReceipt{}, fmt.Errorf("payments: amount must be positive, got %s", domain.FormatMoney(req.Amount))
	}
	key, provider, err := m.resolveProvider(PaymentContext{Method: method, Currency: req.Currency})
	if err != nil {
		return domain.PaymentReceipt{}, err
	}

	details, err := provider.Charge(ctx, ChargeRequest{
		Method:         method,
		Amount:         amount,
		Currency:       req.Currency,
		CardToken:      req.Selection.Card.Token,
		CardNumber:     req.Selection.Card.Number,
		UPIID:          req.Selection.UPIID,
		Description:    "Storefront order",
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return domain.PaymentReceipt{}, err
	}

	receipt := domain.PaymentReceipt{
		Provider:    key,
		Reference:   details.Reference,
		RedirectURL: details.RedirectURL,
		Brand:       details.Brand,
		Last4:       details.Last4,
	}
	switch details.Status {
	case StatusSucceeded:
		receipt.Status = domain.PaymentStatusPaid
	case StatusPending:
		receipt.Status = domain.PaymentStatusPending
	default:
		return domain.PaymentReceipt{}, &DeclineError{Provider: key, Code: string(details.Status)}
	}
	return receipt, nil
}

// RefundOrder returns the paid amount of an order through the provider that charged it.
func (m *Manager) RefundOrder(ctx context.Context, order domain.Order, reason string) (PaymentDetails, error) {
	if strings.TrimSpace(order.Payment.Reference) == "" {
		return PaymentDetails{}, errors.New("payments: order has no payment reference")
	}
	_, provider, err := m.resolveProvider(PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Method:            order.Payment.Method,
		Currency:          order.Currency,
	})
	if err != nil {
		return PaymentDetails{}, err
	}
	amount := domain.MinorUnits(order.Total)
	return provider.Refund(ctx, RefundRequest{
		Reference:      order.Payment.Reference,
		Amount:         &amount,
		Reason:         reason,
		IdempotencyKey: "refund_" + order.ID,
		Metadata:       map[string]string{"orderId": order.ID},
	})
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}

// MajorUnits converts provider minor units back into a decimal amount.
func MajorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -domain.MoneyScale)
}
