package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/domain"
)

func TestSandboxDeclinesTestCard(t *testing.T) {
	p := NewSandboxProvider(SandboxConfig{})
	_, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodCard, Amount: 100, Currency: "INR", CardNumber: "4000 0000 0000 0002"})
	assert.ErrorIs(t, err, ErrDeclined)

	_, err = p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodCard, Amount: 100, Currency: "INR", CardToken: "pm_card_chargeDeclined"})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestSandboxChargesTokenOnlyCard(t *testing.T) {
	p := NewSandboxProvider(SandboxConfig{})
	details, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodCard, Amount: 100, Currency: "INR", CardToken: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, details.Status)
	assert.Empty(t, details.Last4)
}

func TestSandboxChargeIsIdempotent(t *testing.T) {
	seq := 0
	p := NewSandboxProvider(SandboxConfig{IDGen: func() string {
		seq++
		return "sbx_" + string(rune('0'+seq))
	}})
	req := ChargeRequest{Method: domain.PaymentMethodCard, Amount: 8200, Currency: "inr", CardNumber: "4111111111111111", IdempotencyKey: "k1"}

	first, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference, "the second charge replays the first")
	assert.Equal(t, 1, seq)
	assert.Equal(t, StatusSucceeded, first.Status)
	assert.Equal(t, "1111", first.Last4)
	assert.Equal(t, "INR", first.Currency)

	refunded, err := p.Refund(context.Background(), RefundRequest{Reference: first.Reference})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
	looked, err := p.LookupPayment(context.Background(), LookupRequest{Reference: first.Reference})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, looked.Status)
}

func TestSandboxRedirectMethodsArePending(t *testing.T) {
	p := NewSandboxProvider(SandboxConfig{RedirectBaseURL: "https://pay.local/"})
	details, err := p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodWallet, Amount: 100, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, details.Status)
	assert.Equal(t, "https://pay.local/"+details.Reference, details.RedirectURL)

	_, err = p.Charge(context.Background(), ChargeRequest{Method: domain.PaymentMethodUPI})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}
