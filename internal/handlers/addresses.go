package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopeasy/storefront/internal/address"
	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/httpx"
)

// AddressBook is the saved-address service used by the handlers. address.Book satisfies it.
type AddressBook interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	Create(ctx context.Context, cmd address.CreateCommand) (domain.Address, error)
	Remove(ctx context.Context, userID, addressID string) error
}

// AddressHandlers exposes the signed-in user's address book.
type AddressHandlers struct {
	authn *auth.Authenticator
	book  AddressBook
}

// NewAddressHandlers constructs address handlers.
func NewAddressHandlers(authn *auth.Authenticator, book AddressBook) *AddressHandlers {
	return &AddressHandlers{authn: authn, book: book}
}

// Routes wires the /addresses endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Get("/", h.listAddresses)
	r.Post("/", h.createAddress)
	r.Get("/{addressId}", h.getAddress)
	r.Delete("/{addressId}", h.deleteAddress)
}

type addressListResponse struct {
	Items []addressPayload `json:"items"`
}

type addressResponse struct {
	Address addressPayload `json:"address"`
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	addrs, err := h.book.List(ctx, identity.UID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	items := make([]addressPayload, 0, len(addrs))
	for _, addr := range addrs {
		items = append(items, buildAddressPayload(addr))
	}
	httpx.WriteJSON(w, http.StatusOK, addressListResponse{Items: items})
}

func (h *AddressHandlers) getAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	addr, err := h.book.Get(ctx, identity.UID, chi.URLParam(r, "addressId"))
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

type createAddressRequest struct {
	Type      string `json:"type"`
	Line1     string `json:"line1"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	IsDefault bool   `json:"isDefault"`
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req createAddressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := h.book.Create(ctx, address.CreateCommand{
		UserID:    identity.UID,
		Type:      domain.AddressType(req.Type),
		Line1:     req.Line1,
		City:      req.City,
		State:     req.State,
		Zip:       req.Zip,
		Country:   req.Country,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/addresses/"+addr.ID)
	httpx.WriteJSON(w, http.StatusCreated, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.book.Remove(ctx, identity.UID, chi.URLParam(r, "addressId")); err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandlers) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if h.book == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("address_book_unavailable", "address book is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(w, r)
}
