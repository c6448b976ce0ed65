package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/domain"
)

func placeUPIOrder(t *testing.T, srv *testServer, user string) orderPayload {
	t.Helper()
	srv.readyToPay(t, user)
	expectStatus(t, srv.do(t, call{method: http.MethodPut, path: "/api/v1/checkout/payment", user: user, body: map[string]any{"method": "upi", "upiId": "asha@okbank"}}), http.StatusOK)
	rec := srv.do(t, call{method: http.MethodPost, path: "/api/v1/checkout:place-order", user: user, headers: map[string]string{"Idempotency-Key": "upi-" + user}})
	expectStatus(t, rec, http.StatusCreated)
	return decode[placeOrderResponse](t, rec).Order
}

func TestOrdersListAndGet(t *testing.T) {
	srv := newTestServer(t)
	placed := placeUPIOrder(t, srv, "u1")
	assert.Equal(t, string(domain.PaymentStatusPending), placed.Payment.Status)
	assert.Equal(t, string(domain.OrderStatusPlaced), placed.Status)

	list := decode[orderListResponse](t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/orders", user: "u1"}))
	require.Len(t, list.Items, 1)
	assert.Equal(t, placed.ID, list.Items[0].ID)

	got := srv.do(t, call{method: http.MethodGet, path: "/api/v1/orders/" + placed.ID, user: "u1"})
	expectStatus(t, got, http.StatusOK)
	assert.Equal(t, "82.00", decode[orderResponse](t, got).Order.Total)

	expectError(t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/orders/" + placed.ID, user: "u2"}), http.StatusNotFound, "order_not_found")
	expectStatus(t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/orders/" + placed.ID, user: "staff"}), http.StatusOK)
	expectError(t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/orders?pageSize=abc", user: "u1"}), http.StatusBadRequest, "invalid_request")
}

func TestOrdersStatusRequiresStaff(t *testing.T) {
	srv := newTestServer(t)
	placed := placeUPIOrder(t, srv, "u1")
	path := "/api/v1/orders/" + placed.ID + ":status"

	expectError(t, srv.do(t, call{method: http.MethodPost, path: path, user: "u1", body: map[string]any{"status": "processing"}}), http.StatusForbidden, "forbidden")

	rec := srv.do(t, call{method: http.MethodPost, path: path, user: "staff", body: map[string]any{"status": "processing"}})
	expectStatus(t, rec, http.StatusOK)
	assert.Equal(t, string(domain.OrderStatusProcessing), decode[orderResponse](t, rec).Order.Status)

	expectError(t, srv.do(t, call{method: http.MethodPost, path: path, user: "staff", body: map[string]any{"status": "placed"}}), http.StatusConflict, "invalid_status_transition")
	expectError(t, srv.do(t, call{method: http.MethodPost, path: path, user: "staff", body: map[string]any{"status": "lost"}}), http.StatusBadRequest, "invalid_request")
	expectError(t, srv.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + placed.ID + ":cancel", user: "u1"}), http.StatusConflict, "invalid_status_transition")
}

func TestOrdersStaffCancelRefundsCardPayment(t *testing.T) {
	srv := newTestServer(t)
	srv.readyToPay(t, "u1")
	expectStatus(t, srv.do(t, call{method: http.MethodPut, path: "/api/v1/checkout/payment", user: "u1", body: map[string]any{
		"method": "card", "card": map[string]any{"number": "4242424242424242", "expiry": "12/30", "cvv": "123"},
	}}), http.StatusOK)
	rec := srv.do(t, call{method: http.MethodPost, path: "/api/v1/checkout:place-order", user: "u1", headers: map[string]string{"Idempotency-Key": "card-1"}})
	expectStatus(t, rec, http.StatusCreated)
	placed := decode[placeOrderResponse](t, rec).Order

	rec = srv.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + placed.ID + ":status", user: "staff", body: map[string]any{"status": "cancelled", "reason": "out_of_stock"}})
	expectStatus(t, rec, http.StatusOK)
	cancelled := decode[orderResponse](t, rec).Order
	assert.Equal(t, string(domain.OrderStatusCancelled), cancelled.Status)
	assert.Equal(t, string(domain.PaymentStatusRefunded), cancelled.Payment.Status)
}

func TestOrdersCustomerCancel(t *testing.T) {
	srv := newTestServer(t)
	placed := placeUPIOrder(t, srv, "u1")

	expectError(t, srv.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + placed.ID + ":cancel", user: "u2"}), http.StatusNotFound, "order_not_found")
	rec := srv.do(t, call{method: http.MethodPost, path: "/api/v1/orders/" + placed.ID + ":cancel", user: "u1"})
	expectStatus(t, rec, http.StatusOK)
	assert.Equal(t, string(domain.OrderStatusCancelled), decode[orderResponse](t, rec).Order.Status)
}
