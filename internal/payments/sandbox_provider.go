package payments

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/shopeasy/storefront/internal/domain"
)

// SandboxProviderName is the registration key of the sandbox provider.
const SandboxProviderName = "sandbox"

const (
	sandboxDeclineSuffix = "0002"
	sandboxDeclineToken  = "pm_card_chargeDeclined"
)

// SandboxProvider is an in-memory processor for local development when no PSP key is configured.
// Cards ending in 0002 and the pm_card_chargeDeclined token are declined; everything else succeeds.
type SandboxProvider struct {
	mu       sync.Mutex
	payments map[string]PaymentDetails
	keys     map[string]string
	redirect string
	newID    func() string
	logger   StripeLogger
}

// SandboxConfig configures the sandbox provider.
type SandboxConfig struct {
	RedirectBaseURL string
	IDGen           func() string
	Logger          StripeLogger
}

// NewSandboxProvider constructs a sandbox provider.
func NewSandboxProvider(cfg SandboxConfig) *SandboxProvider {
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = func() string {
			return "sbx_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	redirect := strings.TrimRight(strings.TrimSpace(cfg.RedirectBaseURL), "/")
	if redirect == "" {
		redirect = "https://sandbox.invalid/pay"
	}
	return &SandboxProvider{
		payments: make(map[string]PaymentDetails),
		keys:     make(map[string]string),
		redirect: redirect,
		newID:    idGen,
		logger:   logger,
	}
}

// Charge simulates a processor charge. Repeating an idempotency key returns the first result.
func (p *SandboxProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		if ref, ok := p.keys[key]; ok {
			return p.payments[ref], nil
		}
	}

	details := PaymentDetails{
		Provider:  SandboxProviderName,
		Reference: p.newID(),
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
	}

	switch req.Method {
	case domain.PaymentMethodCard:
		number := strings.NewReplacer(" ", "", "-", "").Replace(req.CardNumber)
		if strings.HasSuffix(number, sandboxDeclineSuffix) || strings.TrimSpace(req.CardToken) == sandboxDeclineToken {
			p.logger(ctx, "payments.sandbox.declined", map[string]any{"method": string(req.Method)})
			return PaymentDetails{}, &DeclineError{Provider: SandboxProviderName, Code: "card_declined", Reason: "Your card was declined."}
		}
		details.Status = StatusSucceeded
		if len(number) >= 4 {
			details.Last4 = number[len(number)-4:]
		}
	case domain.PaymentMethodWallet, domain.PaymentMethodNetbanking:
		details.Status = StatusPending
		details.RedirectURL = p.redirect + "/" + details.Reference
	default:
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
	}

	p.payments[details.Reference] = details
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		p.keys[key] = details.Reference
	}
	p.logger(ctx, "payments.sandbox.charged", map[string]any{
		"reference": details.Reference,
		"status":    string(details.Status),
	})
	return details, nil
}

// Refund marks a sandbox payment refunded.
func (p *SandboxProvider) Refund(_ context.Context, req RefundRequest) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	details, ok := p.payments[req.Reference]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("sandbox: payment %q not found", req.Reference)
	}
	details.Status = StatusRefunded
	p.payments[req.Reference] = details
	return details, nil
}

// LookupPayment returns a sandbox payment.
func (p *SandboxProvider) LookupPayment(_ context.Context, req LookupRequest) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	details, ok := p.payments[req.Reference]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("sandbox: payment %q not found", req.Reference)
	}
	return details, nil
}
