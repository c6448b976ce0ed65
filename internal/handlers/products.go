package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopeasy/storefront/internal/platform/httpx"
	"github.com/shopeasy/storefront/internal/repositories"
)

// ProductHandlers serves read-only catalog lookups. The catalog is public, so no identity is required.
type ProductHandlers struct {
	products repositories.ProductRepository
}

// NewProductHandlers constructs catalog handlers.
func NewProductHandlers(products repositories.ProductRepository) *ProductHandlers {
	return &ProductHandlers{products: products}
}

// Routes wires the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productId}", h.getProduct)
}

type productPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	ImageRef  string `json:"imageRef,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	product, err := h.products.FindByID(ctx, productID)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: productPayload{
		ID:        product.ID,
		Name:      product.Name,
		UnitPrice: money(product.UnitPrice),
		ImageRef:  product.ImageRef,
	}})
}

func writeProductError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case repositories.IsNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case repositories.IsUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to load product", http.StatusInternalServerError))
	}
}
