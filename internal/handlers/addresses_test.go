package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressBookLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, call{method: http.MethodPost, path: "/api/v1/addresses", user: "u1", body: map[string]any{
		"type": "work", "line1": "<b>5 Residency Rd</b>", "city": "Bengaluru", "zip": "560025", "country": "in",
	}})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[addressResponse](t, rec).Address
	assert.Equal(t, "5 Residency Rd", created.Line1, "markup is stripped")
	assert.Equal(t, "IN", created.Country)
	assert.Equal(t, "work", created.Type)
	assert.Equal(t, "/api/v1/addresses/"+created.ID, rec.Header().Get("Location"))

	list := decode[addressListResponse](t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/addresses", user: "u1"}))
	assert.Len(t, list.Items, 1)
	other := decode[addressListResponse](t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/addresses", user: "u2"}))
	assert.Empty(t, other.Items, "addresses are per user")

	expectStatus(t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/addresses/" + created.ID, user: "u1"}), http.StatusOK)
	expectStatus(t, srv.do(t, call{method: http.MethodDelete, path: "/api/v1/addresses/" + created.ID, user: "u1"}), http.StatusNoContent)
	expectError(t, srv.do(t, call{method: http.MethodDelete, path: "/api/v1/addresses/" + created.ID, user: "u1"}), http.StatusNotFound, "address_not_found")
}

func TestAddressCreateValidation(t *testing.T) {
	srv := newTestServer(t)
	expectError(t, srv.do(t, call{method: http.MethodPost, path: "/api/v1/addresses", user: "u1", body: map[string]any{"line1": "x"}}), http.StatusBadRequest, "invalid_address")
	expectError(t, srv.do(t, call{method: http.MethodPost, path: "/api/v1/addresses", user: "u1", body: map[string]any{"type": "boat", "line1": "x", "city": "y", "zip": "1"}}), http.StatusBadRequest, "invalid_address")
}
