package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view of a sellable item.
type Product struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	ImageRef  string
}

// CartLine is a single product entry in the shopping cart with its price frozen at add time.
type CartLine struct {
	ProductID         string
	Name              string
	UnitPriceSnapshot decimal.Decimal
	Quantity          int
	ImageRef          string
}

// LineTotal returns the unrounded extended price for the line.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// AddressType classifies saved delivery locations.
type AddressType string

const (
	// AddressTypeHome labels a home address.
	AddressTypeHome AddressType = "home"
	// AddressTypeWork labels a work address.
	AddressTypeWork AddressType = "work"
	// AddressTypeOther labels any other address.
	AddressTypeOther AddressType = "other"
)

// Address is a saved delivery location. Addresses are immutable once created.
type Address struct {
	ID        string
	UserID    string
	Type      AddressType
	Line1     string
	City      string
	State     string
	Zip       string
	Country   string
	IsDefault bool
	CreatedAt time.Time
}

// PaymentMethod enumerates the checkout payment options.
type PaymentMethod string

const (
	// PaymentMethodCard represents credit or debit cards.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodUPI represents UPI collect requests.
	PaymentMethodUPI PaymentMethod = "upi"
	// PaymentMethodWallet represents redirect-style wallets.
	PaymentMethodWallet PaymentMethod = "wallet"
	// PaymentMethodNetbanking represents redirect-style netbanking.
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	// PaymentMethodPayOnDelivery represents cash or card collected at the door.
	PaymentMethodPayOnDelivery PaymentMethod = "pay_on_delivery"
)

var paymentMethodNames = map[PaymentMethod]string{
	PaymentMethodCard:          "Credit / Debit Card",
	PaymentMethodUPI:           "UPI",
	PaymentMethodWallet:        "Wallets",
	PaymentMethodNetbanking:    "Netbanking",
	PaymentMethodPayOnDelivery: "Pay On Delivery",
}

// PaymentMethods lists the supported methods in display order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{
		PaymentMethodCard,
		PaymentMethodUPI,
		PaymentMethodWallet,
		PaymentMethodNetbanking,
		PaymentMethodPayOnDelivery,
	}
}

// Valid reports whether the method is one of the supported variants.
func (m PaymentMethod) Valid() bool {
	_, ok := paymentMethodNames[m]
	return ok
}

// DisplayName returns the customer facing label.
func (m PaymentMethod) DisplayName() string {
	return paymentMethodNames[m]
}

// RequiresExternalConfirmation reports whether a payment processor must approve the method before an order is placed.
func (m PaymentMethod) RequiresExternalConfirmation() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodWallet, PaymentMethodNetbanking:
		return true
	default:
		return false
	}
}

// CardDetails holds raw card input. It must never be persisted.
type CardDetails struct {
	Number string
	Expiry string
	CVV    string
	// Token is an optional processor-issued payment method reference produced client side.
	Token string
}

// PaymentSelection is the transient payment choice made during checkout.
type PaymentSelection struct {
	Method PaymentMethod
	Card   CardDetails
	UPIID  string
}

// PaymentMethodUsed is the non-sensitive record of how an order was paid.
type PaymentMethodUsed struct {
	Method    PaymentMethod
	Brand     string
	Last4     string
	UPIHandle string
	Provider  string
	Reference string
}

// PaymentStatus tracks the settlement state recorded on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment is collected later or awaits customer action.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the processor confirmed the charge.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates collection failed after placement.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a captured charge was returned after cancellation.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// CreditSource identifies where an applied credit came from.
type CreditSource string

const (
	// CreditSourceGiftCard marks gift card balance.
	CreditSourceGiftCard CreditSource = "gift_card"
	// CreditSourceWallet marks store wallet cash.
	CreditSourceWallet CreditSource = "wallet"
)

// WalletCreditCode is the code under which a user's wallet balance is applied.
const WalletCreditCode = "WALLET"

// Credit is a gift-card or wallet amount applied against the order total.
type Credit struct {
	Source CreditSource
	Code   string
	Amount decimal.Decimal
}

// PaymentRequest is forwarded to the payment processor once details pass validation.
type PaymentRequest struct {
	UserID         string
	Selection      PaymentSelection
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentReceipt is the processor's approval of a charge.
type PaymentReceipt struct {
	Provider    string
	Reference   string
	Status      PaymentStatus
	RedirectURL string
	Brand       string
	Last4       string
}

// PricingBreakdown captures the computed totals for a cart.
type PricingBreakdown struct {
	Subtotal     decimal.Decimal
	DeliveryFee  decimal.Decimal
	HandlingFee  decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	FreeDelivery bool
}
