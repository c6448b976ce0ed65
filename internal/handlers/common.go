package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/checkout"
	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/httpx"
)

const maxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// SessionSource resolves the active checkout machine of a user. session.Registry satisfies it.
type SessionSource interface {
	Machine(ctx context.Context, userID string) (*checkout.Machine, error)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads and unmarshals a JSON request body, writing the error response itself.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// machineFor resolves the caller's checkout machine, writing the error response on failure.
func machineFor(w http.ResponseWriter, r *http.Request, sessions SessionSource) (*checkout.Machine, bool) {
	ctx := r.Context()
	if sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	machine, err := sessions.Machine(ctx, identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", err.Error(), http.StatusServiceUnavailable))
		return nil, false
	}
	return machine, true
}

func money(value decimal.Decimal) string {
	return domain.FormatMoney(value)
}

type linePayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
	ImageRef  string `json:"imageRef,omitempty"`
}

func buildLinePayloads(lines []domain.CartLine) []linePayload {
	out := make([]linePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, linePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: money(line.UnitPriceSnapshot),
			Quantity:  line.Quantity,
			LineTotal: money(domain.RoundMoney(line.LineTotal())),
			ImageRef:  line.ImageRef,
		})
	}
	return out
}

type addressPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Line1     string `json:"line1"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	IsDefault bool   `json:"isDefault"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		ID:        addr.ID,
		Type:      string(addr.Type),
		Line1:     addr.Line1,
		City:      addr.City,
		State:     addr.State,
		Zip:       addr.Zip,
		Country:   addr.Country,
		IsDefault: addr.IsDefault,
	}
}

type creditPayload struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	Amount string `json:"amount"`
}

func buildCreditPayloads(credits []domain.Credit) []creditPayload {
	out := make([]creditPayload, 0, len(credits))
	for _, credit := range credits {
		out = append(out, creditPayload{Source: string(credit.Source), Code: credit.Code, Amount: money(credit.Amount)})
	}
	return out
}

type quotePayload struct {
	Subtotal     string `json:"subtotal"`
	DeliveryFee  string `json:"deliveryFee"`
	HandlingFee  string `json:"handlingFee"`
	Discount     string `json:"discount"`
	Total        string `json:"total"`
	FreeDelivery bool   `json:"freeDelivery"`
	Currency     string `json:"currency"`
}

func buildQuotePayload(b domain.PricingBreakdown, currency string) quotePayload {
	return quotePayload{
		Subtotal:     money(b.Subtotal),
		DeliveryFee:  money(b.DeliveryFee),
		HandlingFee:  money(b.HandlingFee),
		Discount:     money(b.Discount),
		Total:        money(b.Total),
		FreeDelivery: b.FreeDelivery,
		Currency:     currency,
	}
}
