package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopeasy/storefront/internal/cart"
	"github.com/shopeasy/storefront/internal/checkout"
	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/httpx"
	"github.com/shopeasy/storefront/internal/repositories"
)

// CartHandlers exposes the signed-in user's cart. Prices are taken from the catalog when an
// item is first added and frozen on the line afterwards.
type CartHandlers struct {
	authn    *auth.Authenticator
	sessions SessionSource
	products repositories.ProductRepository
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(authn *auth.Authenticator, sessions SessionSource, products repositories.ProductRepository) *CartHandlers {
	return &CartHandlers{authn: authn, sessions: sessions, products: products}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productId}", h.updateItem)
	r.Delete("/items/{productId}", h.removeItem)
}

type cartPayload struct {
	Lines     []linePayload `json:"lines"`
	ItemCount int           `json:"itemCount"`
	Subtotal  string        `json:"subtotal"`
	Currency  string        `json:"currency"`
	State     string        `json:"checkoutState"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func writeCart(w http.ResponseWriter, r *http.Request, machine *checkout.Machine) {
	snap := machine.Snapshot(r.Context())
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: cartPayload{
		Lines:     buildLinePayloads(snap.Lines),
		ItemCount: snap.ItemCount,
		Subtotal:  money(snap.Quote.Subtotal),
		Currency:  snap.Currency,
		State:     string(snap.State),
	}})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	writeCart(w, r, machine)
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	if req.Quantity > cart.MaxLineQuantity {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is too large", http.StatusBadRequest))
		return
	}

	product, err := h.products.FindByID(ctx, productID)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	if err := machine.WithCart(ctx, func(c *cart.Store) error {
		c.AddItem(product, req.Quantity)
		return nil
	}); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeCart(w, r, machine)
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	if *req.Quantity > cart.MaxLineQuantity {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is too large", http.StatusBadRequest))
		return
	}
	productID := chi.URLParam(r, "productId")
	if err := machine.WithCart(ctx, func(c *cart.Store) error {
		c.UpdateQuantity(productID, *req.Quantity)
		return nil
	}); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeCart(w, r, machine)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "productId")
	if err := machine.WithCart(ctx, func(c *cart.Store) error {
		c.RemoveItem(productID)
		return nil
	}); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeCart(w, r, machine)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	if err := machine.WithCart(ctx, func(c *cart.Store) error {
		c.Clear()
		return nil
	}); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeCart(w, r, machine)
}
