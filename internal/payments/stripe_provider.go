package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/shopeasy/storefront/internal/domain"
)

// StripeProviderName is the registration key of the Stripe provider.
const StripeProviderName = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	refunds        stripeRefundAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	ReturnURL string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeProvider charges through Stripe Payment Intents. Cards must arrive as a payment method
// created client side; raw card numbers are never sent to Stripe.
type StripeProvider struct {
	api       stripeClients
	account   string
	returnURL string
	logger    StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			refunds:        sc.Refunds,
			paymentMethods: sc.PaymentMethods,
		}
	}

	if clients.intents == nil || clients.refunds == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:       clients,
		account:   strings.TrimSpace(cfg.AccountID),
		returnURL: strings.TrimSpace(cfg.ReturnURL),
		logger:    logger,
	}, nil
}

// Charge creates a Payment Intent. Card intents are confirmed immediately; wallet and
// netbanking intents are left for the customer to complete and report as pending.
func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}
	params.AddMetadata("paymentMethod", string(req.Method))

	switch req.Method {
	case domain.PaymentMethodCard:
		token := strings.TrimSpace(req.CardToken)
		if token == "" {
			return PaymentDetails{}, &DeclineError{Provider: StripeProviderName, Code: "payment_method_required", Reason: "card must be tokenised before checkout"}
		}
		params.PaymentMethod = stripe.String(token)
		params.PaymentMethodTypes = []*string{stripe.String("card")}
		params.Confirm = stripe.Bool(true)
		if p.returnURL != "" {
			params.ReturnURL = stripe.String(p.returnURL)
		}
	case domain.PaymentMethodWallet, domain.PaymentMethodNetbanking:
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	default:
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		if decline := stripeDecline(err); decline != nil {
			p.logger(ctx, "payments.stripe.intent.declined", map[string]any{
				"code":   decline.Code,
				"method": string(req.Method),
			})
			return PaymentDetails{}, decline
		}
		return PaymentDetails{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"method":        string(req.Method),
	})

	details := stripePaymentDetails(intent)
	if details.Status == StatusFailed {
		return PaymentDetails{}, &DeclineError{Provider: StripeProviderName, Code: string(intent.Status)}
	}
	if req.Method == domain.PaymentMethodCard {
		p.attachCard(ctx, &details, req.CardToken)
	}
	return details, nil
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Reference),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}
	if _, err := p.api.refunds.New(params); err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.Reference,
	})
	return p.LookupPayment(ctx, LookupRequest{Reference: req.Reference})
}

// LookupPayment retrieves a Stripe Payment Intent.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(req.Reference, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

// attachCard copies brand and last4 from the payment method. Lookup failures only cost the
// display fields, never the charge.
func (p *StripeProvider) attachCard(ctx context.Context, details *PaymentDetails, token string) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	pm, err := p.api.paymentMethods.Get(strings.TrimSpace(token), params)
	if err != nil {
		p.logger(ctx, "payments.stripe.payment_method.lookup_failed", map[string]any{
			"paymentIntent": details.Reference,
			"error":         err.Error(),
		})
		return
	}
	if pm == nil || pm.Type != stripe.PaymentMethodTypeCard || pm.Card == nil {
		return
	}
	details.Brand = strings.ToLower(string(pm.Card.Brand))
	details.Last4 = strings.TrimSpace(pm.Card.Last4)
}

func stripeDecline(err error) *DeclineError {
	var serr *stripe.Error
	if !errors.As(err, &serr) || serr.Type != stripe.ErrorTypeCard {
		return nil
	}
	code := string(serr.DeclineCode)
	if code == "" {
		code = string(serr.Code)
	}
	return &DeclineError{Provider: StripeProviderName, Code: code, Reason: serr.Msg}
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation, stripe.PaymentIntentStatusRequiresCapture:
		status = StatusPending
	}

	if charge := intent.LatestCharge; charge != nil {
		if charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
			status = StatusRefunded
		}
	}

	redirect := ""
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		redirect = intent.NextAction.RedirectToURL.URL
	}

	return PaymentDetails{
		Provider:    StripeProviderName,
		Reference:   intent.ID,
		Status:      status,
		Amount:      intent.Amount,
		Currency:    strings.ToUpper(string(intent.Currency)),
		RedirectURL: redirect,
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer), "order_cancelled":
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
