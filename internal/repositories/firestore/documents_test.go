package firestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/domain"
)

func TestOrderDocumentKeepsMoneyExact(t *testing.T) {
	placed := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	order := domain.Order{
		UserID:        "u1",
		Lines:         []domain.CartLine{{ProductID: "milk", Name: "Milk", UnitPriceSnapshot: decimal.RequireFromString("0.10"), Quantity: 3}},
		Subtotal:      decimal.RequireFromString("0.30"),
		DeliveryFee:   decimal.Zero,
		HandlingFee:   decimal.RequireFromString("2"),
		Discount:      decimal.RequireFromString("1.15"),
		Total:         decimal.RequireFromString("1.15"),
		Credits:       []domain.Credit{{Source: domain.CreditSourceGiftCard, Code: "GIFT", Amount: decimal.RequireFromString("1.15")}},
		Currency:      "INR",
		Address:       domain.Address{ID: "a1", UserID: "u1", Type: domain.AddressTypeHome, Line1: "1 Main", City: "Pune", Zip: "411001", Country: "IN"},
		Payment:       domain.PaymentMethodUsed{Method: domain.PaymentMethodCard, Brand: "visa", Last4: "4242", Provider: "stripe", Reference: "pi_1"},
		PaymentStatus: domain.PaymentStatusPaid,
		Status:        domain.OrderStatusPlaced,
		CreatedAt:     placed,
		UpdatedAt:     placed,
	}

	doc := fromOrder(order)
	assert.Equal(t, "0.10", doc.Lines[0].UnitPrice)
	assert.Equal(t, "2.00", doc.HandlingFee)
	assert.Equal(t, "a1", doc.AddressID)

	got := doc.toDomain("ord_1")
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "ord_1", got.ID)
	assert.True(t, got.Total.Equal(order.Total))
	assert.True(t, got.Lines[0].UnitPriceSnapshot.Equal(order.Lines[0].UnitPriceSnapshot))
	assert.Equal(t, order.Address, got.Address)
	assert.Equal(t, order.Payment, got.Payment)
	assert.Equal(t, 3, got.ItemCount())
}

func TestMoneyToleratesCorruptValues(t *testing.T) {
	assert.True(t, money("abc").IsZero())
	assert.True(t, money("").IsZero())
	assert.Equal(t, "12.35", domain.FormatMoney(money("12.345")))
}

func TestCartDocumentRoundTrip(t *testing.T) {
	saved := time.Date(2025, 2, 10, 9, 30, 0, 0, time.FixedZone("IST", 19800))
	lines := []domain.CartLine{
		{ProductID: "milk", Name: "Milk", UnitPriceSnapshot: decimal.RequireFromString("40"), Quantity: 2, ImageRef: "img/milk.png"},
		{ProductID: "bread", Name: "Bread", UnitPriceSnapshot: decimal.RequireFromString("35.5"), Quantity: 1},
	}

	doc := fromCart(lines, saved)
	assert.Equal(t, 3, doc.ItemCount)
	assert.Equal(t, time.UTC, doc.UpdatedAt.Location())
	assert.Equal(t, "35.50", doc.Lines[1].UnitPrice)

	got := doc.toDomain()
	require.Len(t, got, 2)
	assert.Equal(t, "milk", got[0].ProductID)
	assert.Equal(t, "img/milk.png", got[0].ImageRef)
	assert.True(t, got[1].UnitPriceSnapshot.Equal(lines[1].UnitPriceSnapshot))
	assert.Empty(t, cartDocument{}.toDomain())
}
