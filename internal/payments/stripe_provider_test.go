package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/shopeasy/storefront/internal/domain"
)

type fakeIntents struct {
	newFunc func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	last    *stripe.PaymentIntentParams
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.last = params
	return f.newFunc(params)
}

func (f *fakeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, Amount: 8200, Currency: "inr"}, nil
}

type fakeRefunds struct {
	last *stripe.RefundParams
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.last = params
	return &stripe.Refund{ID: "re_1"}, nil
}

type fakePaymentMethods struct{}

func (fakePaymentMethods) Get(id string, _ *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	return &stripe.PaymentMethod{
		ID:   id,
		Type: stripe.PaymentMethodTypeCard,
		Card: &stripe.PaymentMethodCard{Brand: "visa", Last4: "4242"},
	}, nil
}

func newTestStripe(t *testing.T, intents *fakeIntents, refunds *fakeRefunds) *StripeProvider {
	t.Helper()
	p, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{
			intents:        intents,
			refunds:        refunds,
			paymentMethods: fakePaymentMethods{},
		},
		ReturnURL: "https://shop.example/return",
	})
	require.NoError(t, err)
	return p
}

func TestStripeChargeCardConfirmsWithToken(t *testing.T) {
	intents := &fakeIntents{newFunc: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded, Amount: *params.Amount, Currency: "inr"}, nil
	}}
	p := newTestStripe(t, intents, &fakeRefunds{})

	details, err := p.Charge(context.Background(), ChargeRequest{
		Method:         domain.PaymentMethodCard,
		Amount:         8200,
		Currency:       "INR",
		CardToken:      "pm_card_visa",
		CardNumber:     "4111111111111111",
		IdempotencyKey: "chk_1",
		Metadata:       map[string]string{"userId": "u1"},
	})
	require.NoError(t, err)
	params := intents.last
	require.NotNil(t, params.PaymentMethod)
	assert.Equal(t, "pm_card_visa", *params.PaymentMethod, "the token is the payment method")
	require.NotNil(t, params.Confirm)
	assert.True(t, *params.Confirm, "card intents are confirmed")
	assert.Equal(t, "inr", *params.Currency)
	assert.Equal(t, int64(8200), *params.Amount)
	require.NotNil(t, params.IdempotencyKey)
	assert.Equal(t, "chk_1", *params.IdempotencyKey)
	assert.Equal(t, "u1", params.Metadata["userId"])
	assert.Equal(t, "card", params.Metadata["paymentMethod"])
	assert.Equal(t, StatusSucceeded, details.Status)
	assert.Equal(t, "pi_1", details.Reference)
	assert.Equal(t, "visa", details.Brand)
	assert.Equal(t, "4242", details.Last4)
}

func TestStripeChargeCardWithoutTokenDeclines(t *testing.T) {
	intents := &fakeIntents{newFunc: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		t.Error("raw card numbers must not reach stripe")
		return nil, nil
	}}
	p := newTestStripe(t, intents, &fakeRefunds{})
	_, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodCard, Amount: 100, Currency: "INR", CardNumber: "4111111111111111"})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestStripeCardErrorBecomesDecline(t *testing.T) {
	intents := &fakeIntents{newFunc: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, DeclineCode: "insufficient_funds", Msg: "Your card has insufficient funds."}
	}}
	p := newTestStripe(t, intents, &fakeRefunds{})
	_, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodCard, Amount: 100, Currency: "INR", CardToken: "pm_x"})

	var decline *DeclineError
	require.ErrorAs(t, err, &decline)
	assert.Equal(t, "insufficient_funds", decline.Code)
	assert.Equal(t, "Your card has insufficient funds.", decline.DeclineReason())
}

func TestStripeAPIErrorIsNotDecline(t *testing.T) {
	intents := &fakeIntents{newFunc: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "boom"}
	}}
	p := newTestStripe(t, intents, &fakeRefunds{})
	_, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodCard, Amount: 100, Currency: "INR", CardToken: "pm_x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDeclined), "an API failure carries no verdict")
}

func TestStripeWalletIsPendingWithRedirect(t *testing.T) {
	intents := &fakeIntents{newFunc: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return &stripe.PaymentIntent{
			ID:     "pi_w",
			Status: stripe.PaymentIntentStatusRequiresAction,
			NextAction: &stripe.PaymentIntentNextAction{
				RedirectToURL: &stripe.PaymentIntentNextActionRedirectToURL{URL: "https://hooks.stripe.com/redirect"},
			},
		}, nil
	}}
	p := newTestStripe(t, intents, &fakeRefunds{})
	details, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodWallet, Amount: 500, Currency: "INR"})
	require.NoError(t, err)
	assert.Nil(t, intents.last.Confirm, "wallet intents are not confirmed server side")
	assert.NotNil(t, intents.last.AutomaticPaymentMethods)
	assert.Equal(t, StatusPending, details.Status)
	assert.NotEmpty(t, details.RedirectURL)
}

func TestStripeCanceledIntentDeclines(t *testing.T) {
	intents := &fakeIntents{newFunc: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return &stripe.PaymentIntent{ID: "pi_c", Status: stripe.PaymentIntentStatusCanceled}, nil
	}}
	p := newTestStripe(t, intents, &fakeRefunds{})
	_, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodNetbanking, Amount: 500, Currency: "INR"})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestStripeRefund(t *testing.T) {
	refunds := &fakeRefunds{}
	p := newTestStripe(t, &fakeIntents{}, refunds)
	amount := int64(8200)
	details, err := p.Refund(context.Background(), RefundRequest{Reference: "pi_1", Amount: &amount, Reason: "order_cancelled", IdempotencyKey: "refund_ord_1"})
	require.NoError(t, err)
	require.NotNil(t, refunds.last.PaymentIntent)
	assert.Equal(t, "pi_1", *refunds.last.PaymentIntent)
	require.NotNil(t, refunds.last.Reason)
	assert.Equal(t, string(stripe.RefundReasonRequestedByCustomer), *refunds.last.Reason)
	assert.Equal(t, "pi_1", details.Reference)
	assert.Equal(t, "INR", details.Currency)
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(StripeProviderConfig{})
	assert.Error(t, err)
}
