package paymentmethod

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopeasy/storefront/internal/domain"
)

// Field names reported by ValidationError.
const (
	FieldMethod     = "method"
	FieldCardNumber = "number"
	FieldExpiry     = "expiry"
	FieldCVV        = "cvv"
	FieldCardToken  = "token"
	FieldUPIID      = "upiId"
)

const minCardDigits = 14

var (
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/?([0-9]{2})$`)
	cvvPattern    = regexp.MustCompile(`^[0-9]{3}$`)
	tokenPattern  = regexp.MustCompile(`^[A-Za-z]+_[A-Za-z0-9_]{3,250}$`)
)

// ValidationError names the payment field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return fmt.Sprintf("payment details: invalid %s", e.Field)
	}
	return fmt.Sprintf("payment details: invalid %s: %s", e.Field, e.Reason)
}

// Validator holds the selected method and its inputs until the customer submits payment.
// Inputs are checked only by Validate, never while they are being typed.
type Validator struct {
	selection domain.PaymentSelection
}

// SelectMethod switches the payment method, dropping inputs that do not belong to it.
func (v *Validator) SelectMethod(method domain.PaymentMethod) error {
	if !method.Valid() {
		return &ValidationError{Field: FieldMethod, Reason: fmt.Sprintf("unsupported method %q", method)}
	}
	v.selection.Method = method
	if method != domain.PaymentMethodCard {
		v.selection.Card = domain.CardDetails{}
	}
	if method != domain.PaymentMethodUPI {
		v.selection.UPIID = ""
	}
	return nil
}

// SetCard records card inputs.
func (v *Validator) SetCard(number, expiry, cvv string) {
	v.selection.Card.Number = number
	v.selection.Card.Expiry = expiry
	v.selection.Card.CVV = cvv
}

// SetCardToken records a processor-issued card reference.
func (v *Validator) SetCardToken(token string) {
	v.selection.Card.Token = strings.TrimSpace(token)
}

// SetUPI records the UPI id.
func (v *Validator) SetUPI(id string) {
	v.selection.UPIID = id
}

// Method returns the selected method, empty when none is chosen.
func (v *Validator) Method() domain.PaymentMethod {
	return v.selection.Method
}

// Selection returns the current method and inputs.
func (v *Validator) Selection() domain.PaymentSelection {
	return v.selection
}

// Reset forgets the method and every input.
func (v *Validator) Reset() {
	v.selection = domain.PaymentSelection{}
}

// Validate checks the inputs for the selected method and returns a *ValidationError on failure.
func (v *Validator) Validate() error {
	return Validate(v.selection)
}

// Validate checks a payment selection.
func Validate(sel domain.PaymentSelection) error {
	switch sel.Method {
	case domain.PaymentMethodCard:
		return validateCard(sel.Card)
	case domain.PaymentMethodUPI:
		return validateUPI(sel.UPIID)
	case domain.PaymentMethodWallet, domain.PaymentMethodNetbanking, domain.PaymentMethodPayOnDelivery:
		return nil
	case "":
		return &ValidationError{Field: FieldMethod, Reason: "no payment method selected"}
	default:
		return &ValidationError{Field: FieldMethod, Reason: fmt.Sprintf("unsupported method %q", sel.Method)}
	}
}

// validateCard accepts either a processor token, in which case raw inputs are not required,
// or a raw number, expiry and CVV.
func validateCard(card domain.CardDetails) error {
	if card.Token != "" {
		if !tokenPattern.MatchString(card.Token) {
			return &ValidationError{Field: FieldCardToken, Reason: "must be a processor payment method reference"}
		}
		return nil
	}
	digits, ok := cardDigits(card.Number)
	if !ok || len(digits) < minCardDigits {
		return &ValidationError{Field: FieldCardNumber, Reason: fmt.Sprintf("must contain at least %d digits", minCardDigits)}
	}
	if !expiryPattern.MatchString(strings.TrimSpace(card.Expiry)) {
		return &ValidationError{Field: FieldExpiry, Reason: "must be MM/YY"}
	}
	if !cvvPattern.MatchString(strings.TrimSpace(card.CVV)) {
		return &ValidationError{Field: FieldCVV, Reason: "must be 3 digits"}
	}
	return nil
}

// cardDigits strips spaces and dashes; any other non-digit makes the number invalid.
func cardDigits(number string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(number) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", false
		}
	}
	return b.String(), true
}

func validateUPI(id string) error {
	id = strings.TrimSpace(id)
	if strings.Count(id, "@") != 1 {
		return &ValidationError{Field: FieldUPIID, Reason: "must look like handle@provider"}
	}
	handle, provider, _ := strings.Cut(id, "@")
	if handle == "" || provider == "" {
		return &ValidationError{Field: FieldUPIID, Reason: "must look like handle@provider"}
	}
	return nil
}

// Last4 returns the final four card digits, or "" when unavailable.
func Last4(number string) string {
	digits, ok := cardDigits(number)
	if !ok || len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}

// Brand guesses the card network from the leading digits.
func Brand(number string) string {
	digits, ok := cardDigits(number)
	if !ok || digits == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(digits, "4"):
		return "visa"
	case hasPrefixRange(digits, 51, 55) || hasPrefixRange4(digits, 2221, 2720):
		return "mastercard"
	case strings.HasPrefix(digits, "34") || strings.HasPrefix(digits, "37"):
		return "amex"
	case strings.HasPrefix(digits, "60") || strings.HasPrefix(digits, "65") || strings.HasPrefix(digits, "81") || strings.HasPrefix(digits, "82"):
		return "rupay"
	default:
		return "unknown"
	}
}

// MaskUPI keeps the provider and the first character of the handle.
func MaskUPI(id string) string {
	handle, provider, ok := strings.Cut(strings.TrimSpace(id), "@")
	if !ok || handle == "" {
		return ""
	}
	return handle[:1] + strings.Repeat("*", len(handle)-1) + "@" + provider
}

func hasPrefixRange(digits string, lo, hi int) bool {
	if len(digits) < 2 {
		return false
	}
	n := int(digits[0]-'0')*10 + int(digits[1]-'0')
	return n >= lo && n <= hi
}

func hasPrefixRange4(digits string, lo, hi int) bool {
	if len(digits) < 4 {
		return false
	}
	n := 0
	for i := 0; i < 4; i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return n >= lo && n <= hi
}
