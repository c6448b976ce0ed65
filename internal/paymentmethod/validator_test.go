package paymentmethod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/domain"
)

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	return vErr.Field
}

func TestValidateCard(t *testing.T) {
	cases := []struct {
		name   string
		card   domain.CardDetails
		field  string
		wantOK bool
	}{
		{name: "valid", card: domain.CardDetails{Number: "4111111111111111", Expiry: "12/29", CVV: "123"}, wantOK: true},
		{name: "valid without slash", card: domain.CardDetails{Number: "4111 1111 1111 1111", Expiry: "0129", CVV: "123"}, wantOK: true},
		{name: "fourteen digits", card: domain.CardDetails{Number: "30569309025904", Expiry: "01/30", CVV: "999"}, wantOK: true},
		{name: "short cvv", card: domain.CardDetails{Number: "4111111111111111", Expiry: "12/29", CVV: "12"}, field: FieldCVV},
		{name: "long cvv", card: domain.CardDetails{Number: "4111111111111111", Expiry: "12/29", CVV: "1234"}, field: FieldCVV},
		{name: "month 13", card: domain.CardDetails{Number: "4111111111111111", Expiry: "13/29", CVV: "123"}, field: FieldExpiry},
		{name: "month 00", card: domain.CardDetails{Number: "4111111111111111", Expiry: "00/29", CVV: "123"}, field: FieldExpiry},
		{name: "four digit year", card: domain.CardDetails{Number: "4111111111111111", Expiry: "12/2029", CVV: "123"}, field: FieldExpiry},
		{name: "short number", card: domain.CardDetails{Number: "4111111111111", Expiry: "12/29", CVV: "123"}, field: FieldCardNumber},
		{name: "letters in number", card: domain.CardDetails{Number: "4111x11111111111", Expiry: "12/29", CVV: "123"}, field: FieldCardNumber},
		{name: "token only", card: domain.CardDetails{Token: "pm_card_visa"}, wantOK: true},
		{name: "token wins over partial raw input", card: domain.CardDetails{Number: "4111", Token: "tok_visa"}, wantOK: true},
		{name: "malformed token", card: domain.CardDetails{Token: "4111 1111 1111 1111"}, field: FieldCardToken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(domain.PaymentSelection{Method: domain.PaymentMethodCard, Card: tc.card})
			if tc.wantOK {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tc.field, fieldOf(t, err))
		})
	}
}

func TestValidatorAcceptsTokenisedCard(t *testing.T) {
	var v Validator
	require.NoError(t, v.SelectMethod(domain.PaymentMethodCard))
	v.SetCardToken(" pm_card_visa ")
	require.NoError(t, v.Validate())
	assert.Equal(t, "pm_card_visa", v.Selection().Card.Token)
	assert.Empty(t, v.Selection().Card.Number)
}

func TestValidateUPI(t *testing.T) {
	for _, id := range []string{"alice@upi", "9876543210@ybl"} {
		assert.NoError(t, Validate(domain.PaymentSelection{Method: domain.PaymentMethodUPI, UPIID: id}), id)
	}
	for _, id := range []string{"alice-upi", "@upi", "alice@", "a@b@c", ""} {
		err := Validate(domain.PaymentSelection{Method: domain.PaymentMethodUPI, UPIID: id})
		assert.Equal(t, FieldUPIID, fieldOf(t, err), id)
	}
}

func TestValidateInputlessMethods(t *testing.T) {
	for _, method := range []domain.PaymentMethod{domain.PaymentMethodWallet, domain.PaymentMethodNetbanking, domain.PaymentMethodPayOnDelivery} {
		assert.NoError(t, Validate(domain.PaymentSelection{Method: method}), string(method))
	}
	assert.Equal(t, FieldMethod, fieldOf(t, Validate(domain.PaymentSelection{})))
}

func TestValidatorSwitchingMethodResetsIrrelevantFields(t *testing.T) {
	var v Validator
	require.NoError(t, v.SelectMethod(domain.PaymentMethodCard))
	v.SetCard("4111111111111111", "12/29", "123")
	v.SetUPI("alice@upi")

	require.NoError(t, v.SelectMethod(domain.PaymentMethodCard))
	assert.NotEmpty(t, v.Selection().Card.Number, "re-selecting card keeps its inputs")
	assert.Empty(t, v.Selection().UPIID, "upi id is dropped for card")

	v.SetUPI("alice@upi")
	require.NoError(t, v.SelectMethod(domain.PaymentMethodUPI))
	sel := v.Selection()
	assert.Equal(t, domain.CardDetails{}, sel.Card)
	assert.Equal(t, "alice@upi", sel.UPIID)

	assert.Error(t, v.SelectMethod("cheque"))
	assert.Equal(t, domain.PaymentMethodUPI, v.Method(), "a failed switch keeps the previous method")
}

func TestCardHelpers(t *testing.T) {
	assert.Equal(t, "1234", Last4("4111 1111 1111 1234"))
	assert.Equal(t, "visa", Brand("4111111111111111"))
	assert.Equal(t, "mastercard", Brand("5555555555554444"))
	assert.Equal(t, "a****@upi", MaskUPI("alice@upi"))
}
