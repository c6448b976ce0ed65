package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shopeasy/storefront/internal/domain"
	pfirestore "github.com/shopeasy/storefront/internal/platform/firestore"
)

func TestProductLookupIsPublic(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, call{method: http.MethodGet, path: "/api/v1/products/milk"})
	expectStatus(t, rec, http.StatusOK)
	product := decode[productResponse](t, rec).Product
	assert.Equal(t, "milk", product.ID)
	assert.Equal(t, "Milk 1L", product.Name)
	assert.Equal(t, "40.00", product.UnitPrice)
	assert.Equal(t, "img/milk.png", product.ImageRef)

	expectError(t, srv.do(t, call{method: http.MethodGet, path: "/api/v1/products/caviar"}), http.StatusNotFound, "product_not_found")
	expectError(t, srv.do(t, call{method: http.MethodPost, path: "/api/v1/products/milk"}), http.StatusMethodNotAllowed, "method_not_allowed")
}

type unavailableCatalog struct{}

func (unavailableCatalog) FindByID(context.Context, string) (domain.Product, error) {
	return domain.Product{}, pfirestore.WrapError("products.get", status.Error(codes.Unavailable, "backend down"))
}

func TestProductLookupCatalogUnavailable(t *testing.T) {
	router := NewRouter(WithProductRoutes(NewProductHandlers(unavailableCatalog{}).Routes))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/milk", nil))
	expectError(t, rec, http.StatusServiceUnavailable, "catalog_unavailable")

	router = NewRouter(WithProductRoutes(NewProductHandlers(nil).Routes))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/milk", nil))
	expectError(t, rec, http.StatusServiceUnavailable, "catalog_unavailable")
}
