package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/domain"
)

// Amounts are stored as fixed two-decimal strings so Firestore never rounds through float64.

type lineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice string `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	ImageRef  string `firestore:"imageRef,omitempty"`
}

type creditDocument struct {
	Source string `firestore:"source"`
	Code   string `firestore:"code"`
	Amount string `firestore:"amount"`
}

type paymentDocument struct {
	Method    string `firestore:"method"`
	Brand     string `firestore:"brand,omitempty"`
	Last4     string `firestore:"last4,omitempty"`
	UPIHandle string `firestore:"upiHandle,omitempty"`
	Provider  string `firestore:"provider,omitempty"`
	Reference string `firestore:"reference,omitempty"`
}

type addressDocument struct {
	Type      string    `firestore:"type"`
	Line1     string    `firestore:"line1"`
	City      string    `firestore:"city"`
	State     string    `firestore:"state"`
	Zip       string    `firestore:"zip"`
	Country   string    `firestore:"country"`
	IsDefault bool      `firestore:"isDefault"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	UserID        string           `firestore:"userId"`
	Lines         []lineDocument   `firestore:"lines"`
	Subtotal      string           `firestore:"subtotal"`
	DeliveryFee   string           `firestore:"deliveryFee"`
	HandlingFee   string           `firestore:"handlingFee"`
	Discount      string           `firestore:"discount"`
	Total         string           `firestore:"total"`
	Credits       []creditDocument `firestore:"credits,omitempty"`
	Currency      string           `firestore:"currency"`
	Address       addressDocument  `firestore:"address"`
	AddressID     string           `firestore:"addressId"`
	Payment       paymentDocument  `firestore:"payment"`
	PaymentStatus string           `firestore:"paymentStatus"`
	Status        string           `firestore:"status"`
	CreatedAt     time.Time        `firestore:"createdAt"`
	UpdatedAt     time.Time        `firestore:"updatedAt"`
}

type cartDocument struct {
	Lines     []lineDocument `firestore:"lines"`
	ItemCount int            `firestore:"itemCount"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

type productDocument struct {
	Name      string `firestore:"name"`
	UnitPrice string `firestore:"unitPrice"`
	ImageRef  string `firestore:"imageRef"`
	Active    *bool  `firestore:"active"`
}

type balanceDocument struct {
	Balance   string    `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func money(value string) decimal.Decimal {
	amount, err := domain.ParseMoney(value)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func fromAddress(a domain.Address) addressDocument {
	return addressDocument{
		Type:      string(a.Type),
		Line1:     a.Line1,
		City:      a.City,
		State:     a.State,
		Zip:       a.Zip,
		Country:   a.Country,
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt.UTC(),
	}
}

func (d addressDocument) toDomain(id, userID string) domain.Address {
	return domain.Address{
		ID:        id,
		UserID:    userID,
		Type:      domain.AddressType(d.Type),
		Line1:     d.Line1,
		City:      d.City,
		State:     d.State,
		Zip:       d.Zip,
		Country:   d.Country,
		IsDefault: d.IsDefault,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func fromOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID:      o.UserID,
		Subtotal:    domain.FormatMoney(o.Subtotal),
		DeliveryFee: domain.FormatMoney(o.DeliveryFee),
		HandlingFee: domain.FormatMoney(o.HandlingFee),
		Discount:    domain.FormatMoney(o.Discount),
		Total:       domain.FormatMoney(o.Total),
		Currency:    o.Currency,
		Address:     fromAddress(o.Address),
		AddressID:   o.Address.ID,
		Payment: paymentDocument{
			Method:    string(o.Payment.Method),
			Brand:     o.Payment.Brand,
			Last4:     o.Payment.Last4,
			UPIHandle: o.Payment.UPIHandle,
			Provider:  o.Payment.Provider,
			Reference: o.Payment.Reference,
		},
		PaymentStatus: string(o.PaymentStatus),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
	doc.Lines = fromLines(o.Lines)
	for _, credit := range o.Credits {
		doc.Credits = append(doc.Credits, creditDocument{
			Source: string(credit.Source),
			Code:   credit.Code,
			Amount: domain.FormatMoney(credit.Amount),
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:          id,
		UserID:      d.UserID,
		Subtotal:    money(d.Subtotal),
		DeliveryFee: money(d.DeliveryFee),
		HandlingFee: money(d.HandlingFee),
		Discount:    money(d.Discount),
		Total:       money(d.Total),
		Currency:    d.Currency,
		Address:     d.Address.toDomain(d.AddressID, d.UserID),
		Payment: domain.PaymentMethodUsed{
			Method:    domain.PaymentMethod(d.Payment.Method),
			Brand:     d.Payment.Brand,
			Last4:     d.Payment.Last4,
			UPIHandle: d.Payment.UPIHandle,
			Provider:  d.Payment.Provider,
			Reference: d.Payment.Reference,
		},
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Status:        domain.OrderStatus(d.Status),
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	order.Lines = toLines(d.Lines)
	for _, credit := range d.Credits {
		order.Credits = append(order.Credits, domain.Credit{
			Source: domain.CreditSource(credit.Source),
			Code:   credit.Code,
			Amount: money(credit.Amount),
		})
	}
	return order
}

func fromLines(lines []domain.CartLine) []lineDocument {
	var out []lineDocument
	for _, line := range lines {
		out = append(out, lineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: domain.FormatMoney(line.UnitPriceSnapshot),
			Quantity:  line.Quantity,
			ImageRef:  line.ImageRef,
		})
	}
	return out
}

func toLines(docs []lineDocument) []domain.CartLine {
	var out []domain.CartLine
	for _, line := range docs {
		out = append(out, domain.CartLine{
			ProductID:         line.ProductID,
			Name:              line.Name,
			UnitPriceSnapshot: money(line.UnitPrice),
			Quantity:          line.Quantity,
			ImageRef:          line.ImageRef,
		})
	}
	return out
}

func fromCart(lines []domain.CartLine, now time.Time) cartDocument {
	doc := cartDocument{Lines: fromLines(lines), UpdatedAt: now.UTC()}
	for _, line := range lines {
		doc.ItemCount += line.Quantity
	}
	return doc
}

func (d cartDocument) toDomain() []domain.CartLine {
	return toLines(d.Lines)
}
