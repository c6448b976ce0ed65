package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/address"
	"github.com/shopeasy/storefront/internal/checkout"
	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/paymentmethod"
	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/httpx"
	"github.com/shopeasy/storefront/internal/repositories"
)

// AddressLookup resolves a saved address of the user. address.Book satisfies it.
type AddressLookup interface {
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
}

// CheckoutHandlers exposes the checkout steps of the signed-in user.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	sessions    SessionSource
	addresses   AddressLookup
	credits     repositories.CreditRepository
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutAddresses sets the address book used by PUT /checkout/address.
func WithCheckoutAddresses(lookup AddressLookup) CheckoutOption {
	return func(h *CheckoutHandlers) { h.addresses = lookup }
}

// WithCheckoutCredits sets the gift card and wallet lookup.
func WithCheckoutCredits(credits repositories.CreditRepository) CheckoutOption {
	return func(h *CheckoutHandlers) { h.credits = credits }
}

// WithPlaceOrderMiddleware wraps the place-order route, typically with the idempotency middleware.
func WithPlaceOrderMiddleware(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) { h.idempotency = mw }
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, sessions SessionSource, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, sessions: sessions}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoints. Transitions use the custom-method style
// (/checkout:advance) so they are registered on the api root rather than a sub-route.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.Require())
		}
		g.Get("/checkout", h.getCheckout)
		g.Post("/checkout:advance", h.advance)
		g.Post("/checkout:back", h.back)
		g.Post("/checkout:cancel", h.cancel)
		g.Put("/checkout/address", h.selectAddress)
		g.Put("/checkout/payment", h.selectPayment)
		g.Post("/checkout/credits", h.applyCredit)
		g.Delete("/checkout/credits/{code}", h.removeCredit)

		place := g
		if h.idempotency != nil {
			place = g.With(h.idempotency)
		}
		place.Post("/checkout:place-order", h.placeOrder)
	})
}

type paymentMethodOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type checkoutPayload struct {
	SessionID         string                `json:"sessionId"`
	State             string                `json:"state"`
	Lines             []linePayload         `json:"lines"`
	ItemCount         int                   `json:"itemCount"`
	Address           *addressPayload       `json:"address,omitempty"`
	PaymentMethod     string                `json:"paymentMethod,omitempty"`
	PaymentMethods    []paymentMethodOption `json:"paymentMethods"`
	Credits           []creditPayload       `json:"credits"`
	Quote             quotePayload          `json:"quote"`
	Order             *orderPayload         `json:"order,omitempty"`
	PlacementInFlight bool                  `json:"placementInFlight"`
	ChargeUnconfirmed bool                  `json:"chargeUnconfirmed"`
	PaymentReference  string                `json:"paymentReference,omitempty"`
}

type checkoutResponse struct {
	Checkout checkoutPayload `json:"checkout"`
}

func buildCheckoutPayload(snap checkout.Snapshot) checkoutPayload {
	payload := checkoutPayload{
		SessionID:         snap.SessionID,
		State:             string(snap.State),
		Lines:             buildLinePayloads(snap.Lines),
		ItemCount:         snap.ItemCount,
		PaymentMethod:     string(snap.PaymentMethod),
		Credits:           buildCreditPayloads(snap.Credits),
		Quote:             buildQuotePayload(snap.Quote, snap.Currency),
		PlacementInFlight: snap.PlacementInFlight,
		ChargeUnconfirmed: snap.ChargeUnconfirmed,
		PaymentReference:  snap.PaymentReference,
	}
	for _, method := range domain.PaymentMethods() {
		payload.PaymentMethods = append(payload.PaymentMethods, paymentMethodOption{ID: string(method), Name: method.DisplayName()})
	}
	if snap.Address != nil {
		addr := buildAddressPayload(*snap.Address)
		payload.Address = &addr
	}
	if snap.Order != nil {
		order := buildOrderPayload(*snap.Order)
		payload.Order = &order
	}
	return payload
}

func writeSnapshot(w http.ResponseWriter, r *http.Request, machine *checkout.Machine, status int) {
	httpx.WriteJSON(w, status, checkoutResponse{Checkout: buildCheckoutPayload(machine.Snapshot(r.Context()))})
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	writeSnapshot(w, r, machine, http.StatusOK)
}

func (h *CheckoutHandlers) advance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Machine).Advance)
}

func (h *CheckoutHandlers) back(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Machine).Back)
}

func (h *CheckoutHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Machine).Cancel)
}

func (h *CheckoutHandlers) transition(w http.ResponseWriter, r *http.Request, step func(*checkout.Machine, context.Context) error) {
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	if err := step(machine, r.Context()); err != nil {
		writeCheckoutError(r.Context(), w, err)
		return
	}
	writeSnapshot(w, r, machine, http.StatusOK)
}

type selectAddressRequest struct {
	AddressID string `json:"addressId"`
}

func (h *CheckoutHandlers) selectAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	if h.addresses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("address_book_unavailable", "address book is unavailable", http.StatusServiceUnavailable))
		return
	}
	var req selectAddressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addressID := strings.TrimSpace(req.AddressID)
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "addressId is required", http.StatusBadRequest))
		return
	}
	identity, _ := auth.IdentityFromContext(ctx)
	addr, err := h.addresses.Get(ctx, identity.UID, addressID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	if err := machine.SelectAddress(addr); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeSnapshot(w, r, machine, http.StatusOK)
}

type cardRequest struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
	Token  string `json:"token"`
}

type selectPaymentRequest struct {
	Method string       `json:"method"`
	Card   *cardRequest `json:"card"`
	UPIID  *string      `json:"upiId"`
}

func (h *CheckoutHandlers) selectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	var req selectPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if err := machine.SelectPaymentMethod(method); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	if req.Card != nil {
		if err := machine.SetCardDetails(req.Card.Number, req.Card.Expiry, req.Card.CVV); err != nil {
			writeCheckoutError(ctx, w, err)
			return
		}
		if err := machine.SetCardToken(req.Card.Token); err != nil {
			writeCheckoutError(ctx, w, err)
			return
		}
	}
	if req.UPIID != nil {
		if err := machine.SetUPIID(*req.UPIID); err != nil {
			writeCheckoutError(ctx, w, err)
			return
		}
	}
	writeSnapshot(w, r, machine, http.StatusOK)
}

type applyCreditRequest struct {
	Source string  `json:"source"`
	Code   string  `json:"code"`
	Amount *string `json:"amount"`
}

func (h *CheckoutHandlers) applyCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	if h.credits == nil {
		httpx.WriteError(ctx, w, httpx.NewError("credits_unavailable", "credits are unavailable", http.StatusServiceUnavailable))
		return
	}
	var req applyCreditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	source := domain.CreditSource(strings.ToLower(strings.TrimSpace(req.Source)))
	code := strings.TrimSpace(req.Code)
	switch source {
	case domain.CreditSourceWallet:
		code = domain.WalletCreditCode
	case domain.CreditSourceGiftCard:
		if code == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required for gift cards", http.StatusBadRequest))
			return
		}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "source must be gift_card or wallet", http.StatusBadRequest))
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	credit, err := h.credits.Lookup(ctx, identity.UID, source, code)
	if err != nil {
		switch {
		case repositories.IsNotFound(err):
			httpx.WriteError(ctx, w, httpx.NewError("credit_not_found", "credit code not found", http.StatusNotFound))
		case repositories.IsUnavailable(err):
			httpx.WriteError(ctx, w, httpx.NewError("credits_unavailable", "credits are unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to look up credit", http.StatusInternalServerError))
		}
		return
	}
	if !credit.Amount.IsPositive() {
		httpx.WriteError(ctx, w, httpx.NewError("credit_exhausted", "credit has no remaining balance", http.StatusUnprocessableEntity))
		return
	}
	if req.Amount != nil {
		requested, err := domain.ParseMoney(*req.Amount)
		if err != nil || !requested.IsPositive() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a positive decimal", http.StatusBadRequest))
			return
		}
		if requested.GreaterThan(credit.Amount) {
			httpx.WriteError(ctx, w, httpx.NewError("credit_exceeds_balance", "amount exceeds the available balance", http.StatusUnprocessableEntity).
				WithDetail("available", money(credit.Amount)))
			return
		}
		credit.Amount = requested
	}
	credit.Amount = decimal.Max(domain.RoundMoney(credit.Amount), decimal.Zero)
	if err := machine.ApplyCredit(credit); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeSnapshot(w, r, machine, http.StatusOK)
}

func (h *CheckoutHandlers) removeCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	removed, err := machine.RemoveCredit(chi.URLParam(r, "code"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	if !removed {
		httpx.WriteError(ctx, w, httpx.NewError("credit_not_applied", "credit is not applied to this checkout", http.StatusNotFound))
		return
	}
	writeSnapshot(w, r, machine, http.StatusOK)
}

type placeOrderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	machine, ok := machineFor(w, r, h.sessions)
	if !ok {
		return
	}
	order, err := machine.PlaceOrder(ctx)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	w.Header().Set("Last-Modified", order.CreatedAt.UTC().Format(http.TimeFormat))
	httpx.WriteJSON(w, http.StatusCreated, placeOrderResponse{Order: buildOrderPayload(order)})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var validation *paymentmethod.ValidationError
	var declined *checkout.PaymentDeclinedError
	var persistence *checkout.PersistenceError

	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_details", validation.Error(), http.StatusUnprocessableEntity).
			WithDetail("field", validation.Field))
	case errors.As(err, &declined) && !declined.Definite:
		httpx.WriteError(ctx, w, httpx.NewError("payment_processor_error", "the payment processor did not confirm the charge; retrying is safe", http.StatusBadGateway).
			WithDetail("method", string(declined.Method)))
	case errors.As(err, &declined):
		apiErr := httpx.NewError("payment_declined", "the payment was declined; try again or choose another method", http.StatusPaymentRequired).
			WithDetail("method", string(declined.Method))
		if declined.Reason != "" {
			apiErr = apiErr.WithDetail("reason", declined.Reason)
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.As(err, &persistence):
		if persistence.Charged() {
			httpx.WriteError(ctx, w, httpx.NewError("order_may_be_charged", "payment succeeded but the order was not saved; retry to confirm it", http.StatusBadGateway).
				WithDetail("paymentReference", persistence.PaymentReference))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_not_saved", "the order could not be saved; retry", http.StatusServiceUnavailable))
	case errors.Is(err, checkout.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "the cart is empty", http.StatusConflict))
	case errors.Is(err, checkout.ErrMissingAddress):
		httpx.WriteError(ctx, w, httpx.NewError("missing_address", "select a delivery address first", http.StatusConflict))
	case errors.Is(err, checkout.ErrIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, checkout.ErrCheckoutConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_confirmed", "the order is already placed", http.StatusConflict))
	case errors.Is(err, checkout.ErrPlacementInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("placement_in_progress", "an order placement is already in progress", http.StatusConflict))
	case errors.Is(err, checkout.ErrChargeUnconfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("charge_unconfirmed", "a charged order awaits confirmation; place the order again or cancel checkout", http.StatusConflict))
	case errors.Is(err, checkout.ErrPlacementAbandoned):
		httpx.WriteError(ctx, w, httpx.NewError("placement_abandoned", "checkout was cancelled while the order was being placed", http.StatusConflict))
	case errors.Is(err, checkout.ErrCartNotSaved):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "the cart could not be saved; retry", http.StatusServiceUnavailable))
	case errors.Is(err, checkout.ErrInvalidCredit):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credit", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "checkout failed", http.StatusInternalServerError))
	}
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, address.ErrInvalidAddress):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", err.Error(), http.StatusBadRequest))
	case errors.Is(err, address.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, address.ErrAddressBookUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("address_book_unavailable", "address book is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "address request failed", http.StatusInternalServerError))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
