package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/orders"
	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/httpx"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderService is the order history and fulfilment service. orders.Service satisfies it.
type OrderService interface {
	List(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	Get(ctx context.Context, viewer orders.Viewer, orderID string) (domain.Order, error)
	Transition(ctx context.Context, orderID string, next domain.OrderStatus, reason string) (domain.Order, error)
	CancelOwn(ctx context.Context, userID, orderID string) (domain.Order, error)
}

// OrderHandlers exposes order history to customers and status updates to staff.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders OrderService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, svc OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: svc}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Post("/{orderId}:cancel", h.cancelOrder)
	r.Post("/{orderId}:status", h.updateStatus)
}

type orderLinePayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
}

type orderPaymentPayload struct {
	Method    string `json:"method"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	UPIHandle string `json:"upiHandle,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status"`
}

type orderPayload struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	Lines       []orderLinePayload  `json:"lines"`
	ItemCount   int                 `json:"itemCount"`
	Subtotal    string              `json:"subtotal"`
	DeliveryFee string              `json:"deliveryFee"`
	HandlingFee string              `json:"handlingFee"`
	Discount    string              `json:"discount"`
	Total       string              `json:"total"`
	Currency    string              `json:"currency"`
	Credits     []creditPayload     `json:"credits,omitempty"`
	Address     addressPayload      `json:"address"`
	Payment     orderPaymentPayload `json:"payment"`
	CreatedAt   string              `json:"createdAt"`
	UpdatedAt   string              `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		Status:      string(order.Status),
		ItemCount:   order.ItemCount(),
		Subtotal:    money(order.Subtotal),
		DeliveryFee: money(order.DeliveryFee),
		HandlingFee: money(order.HandlingFee),
		Discount:    money(order.Discount),
		Total:       money(order.Total),
		Currency:    order.Currency,
		Address:     buildAddressPayload(order.Address),
		Payment: orderPaymentPayload{
			Method:    string(order.Payment.Method),
			Brand:     order.Payment.Brand,
			Last4:     order.Payment.Last4,
			UPIHandle: order.Payment.UPIHandle,
			Provider:  order.Payment.Provider,
			Reference: order.Payment.Reference,
			Status:    string(order.PaymentStatus),
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: money(line.UnitPriceSnapshot),
			Quantity:  line.Quantity,
			LineTotal: money(domain.RoundMoney(line.LineTotal())),
		})
	}
	if len(order.Credits) > 0 {
		payload.Credits = buildCreditPayloads(order.Credits)
	}
	return payload
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageSize must be a positive integer", http.StatusBadRequest))
			return
		}
		pageSize = min(size, maxOrderPageSize)
	}
	list, err := h.orders.List(ctx, identity.UID, pageSize)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(list))
	for _, order := range list {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, orders.Viewer{UserID: identity.UID, Staff: identity.HasRole(auth.RoleStaff)}, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOwn(ctx, identity.UID, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleStaff) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}
	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !next.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}
	order, err := h.orders.Transition(ctx, chi.URLParam(r, "orderId"), next, strings.TrimSpace(req.Reason))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(w, r)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, orders.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, orders.ErrRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", "the payment could not be refunded; the order was not cancelled", http.StatusBadGateway))
	case errors.Is(err, orders.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "order request failed", http.StatusInternalServerError))
	}
}
