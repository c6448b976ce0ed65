package checkout

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shopeasy/storefront/internal/address"
	"github.com/shopeasy/storefront/internal/cart"
	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/paymentmethod"
	"github.com/shopeasy/storefront/internal/payments"
	"github.com/shopeasy/storefront/internal/pricing"
)

// State is a checkout step.
type State string

const (
	// StateCart is the initial step where the cart is reviewed.
	StateCart State = "cart"
	// StateAddressSelection is the step where a delivery address is chosen.
	StateAddressSelection State = "address_selection"
	// StatePaymentSelection is the step where payment is chosen and the order placed.
	StatePaymentSelection State = "payment_selection"
	// StateConfirmed is terminal; the order exists.
	StateConfirmed State = "confirmed"
)

const defaultCurrency = "INR"

// Deps wires a checkout machine.
type Deps struct {
	UserID    string
	Cart      *cart.Store
	Pricing   *pricing.Engine
	Policy    pricing.FeePolicy
	Currency  string
	Payments  PaymentProcessor
	Orders    OrderStore
	Carts     CartSaver
	Publisher OrderPublisher
	Clock     func() time.Time
	IDGen     func() string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// Snapshot is a read-only view of a checkout.
type Snapshot struct {
	SessionID         string
	State             State
	Lines             []domain.CartLine
	ItemCount         int
	Address           *domain.Address
	PaymentMethod     domain.PaymentMethod
	Credits           []domain.Credit
	Quote             domain.PricingBreakdown
	Currency          string
	Order             *domain.Order
	PlacementInFlight bool
	ChargeUnconfirmed bool
	PaymentReference  string
}

// unconfirmedCharge is a successful charge whose order failed to persist.
type unconfirmedCharge struct {
	order   domain.Order
	receipt domain.PaymentReceipt
}

// Machine drives one customer's checkout from cart review to a confirmed order.
//
// The machine owns the lock for its cart store; cart edits go through WithCart. The lock is
// released while collaborators are called, and a generation counter bumped by Cancel lets a
// late collaborator result be recognised and discarded.
type Machine struct {
	mu sync.Mutex

	userID    string
	sessionID string
	cart      *cart.Store
	pricing   *pricing.Engine
	policy    pricing.FeePolicy
	currency  string
	payments  PaymentProcessor
	orders    OrderStore
	carts     CartSaver
	publisher OrderPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)

	state      State
	selector   address.Selector
	validator  paymentmethod.Validator
	credits    []domain.Credit
	generation uint64
	attempts   int
	inFlight   bool
	pending    *unconfirmedCharge
	confirmed  *domain.Order
}

// New constructs a machine in the cart state.
func New(deps Deps) (*Machine, error) {
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, errors.New("checkout: user id is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout: order store is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout: payment processor is required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, err
	}

	store := deps.Cart
	if store == nil {
		store = cart.NewStore()
	}
	engine := deps.Pricing
	if engine == nil {
		engine = pricing.NewEngine(pricing.EngineDeps{Logger: deps.Logger})
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string {
			return "chk_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Machine{
		userID:    strings.TrimSpace(deps.UserID),
		sessionID: idGen(),
		cart:      store,
		pricing:   engine,
		policy:    deps.Policy.WithCredits(nil),
		currency:  currency,
		payments:  deps.Payments,
		orders:    deps.Orders,
		carts:     deps.Carts,
		publisher: deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		state:  StateCart,
	}, nil
}

// State returns the current step.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Advance moves to the next step. From payment selection the only way forward is PlaceOrder.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkTransitionLocked(); err != nil {
		return err
	}
	switch m.state {
	case StateCart:
		if m.cart.IsEmpty() {
			return ErrEmptyCart
		}
		m.setStateLocked(ctx, StateAddressSelection)
		return nil
	case StateAddressSelection:
		if _, err := m.selector.RequireSelection(); err != nil {
			return err
		}
		m.setStateLocked(ctx, StatePaymentSelection)
		return nil
	default:
		return fmt.Errorf("%w: %s has no next step, place the order instead", ErrIllegalTransition, m.state)
	}
}

// Back returns to the previous step without discarding selections.
func (m *Machine) Back(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkTransitionLocked(); err != nil {
		return err
	}
	switch m.state {
	case StatePaymentSelection:
		m.setStateLocked(ctx, StateAddressSelection)
		return nil
	case StateAddressSelection:
		m.setStateLocked(ctx, StateCart)
		return nil
	default:
		return fmt.Errorf("%w: %s has no previous step", ErrIllegalTransition, m.state)
	}
}

// Cancel abandons checkout and returns to the cart. Cart lines are kept; the address, payment
// and credit selections are dropped. A placement still in flight is abandoned and its result
// discarded when it arrives.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConfirmed {
		return ErrCheckoutConfirmed
	}
	if m.pending != nil {
		m.logger(ctx, "checkout.unconfirmed_charge_abandoned", map[string]any{
			"userId":           m.userID,
			"sessionId":        m.sessionID,
			"paymentReference": m.pending.receipt.Reference,
			"amount":           domain.FormatMoney(m.pending.order.Total),
		})
		m.pending = nil
	}
	m.generation++
	m.inFlight = false
	m.selector.Clear()
	m.validator.Reset()
	m.credits = nil
	m.setStateLocked(ctx, StateCart)
	return nil
}

// WithCart runs fn against the cart under the machine lock and saves the resulting lines. The
// cart is rolled back when fn fails or the save does.
func (m *Machine) WithCart(ctx context.Context, fn func(*cart.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	before := m.cart.Lines()
	if err := fn(m.cart); err != nil {
		m.cart.Replace(before)
		return err
	}
	after := m.cart.Lines()
	if m.carts == nil || sameLines(before, after) {
		return nil
	}
	if err := m.carts.Save(ctx, m.userID, after); err != nil {
		m.cart.Replace(before)
		m.logger(ctx, "checkout.cart_save_failed", map[string]any{
			"userId":    m.userID,
			"sessionId": m.sessionID,
			"error":     err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrCartNotSaved, err)
	}
	return nil
}

func sameLines(a, b []domain.CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity || !a[i].UnitPriceSnapshot.Equal(b[i].UnitPriceSnapshot) {
			return false
		}
	}
	return true
}

// SelectAddress records the delivery address.
func (m *Machine) SelectAddress(addr domain.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	m.selector.Select(addr)
	return nil
}

// SelectPaymentMethod switches the payment method.
func (m *Machine) SelectPaymentMethod(method domain.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	return m.validator.SelectMethod(method)
}

// SetCardDetails records raw card inputs. They are validated only when the order is placed.
func (m *Machine) SetCardDetails(number, expiry, cvv string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	m.validator.SetCard(number, expiry, cvv)
	return nil
}

// SetCardToken records the processor-side payment method created by the client.
func (m *Machine) SetCardToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	m.validator.SetCardToken(token)
	return nil
}

// SetUPIID records the UPI id.
func (m *Machine) SetUPIID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	m.validator.SetUPI(id)
	return nil
}

// ApplyCredit adds a gift card or wallet credit, replacing an earlier credit with the same code.
func (m *Machine) ApplyCredit(credit domain.Credit) error {
	credit.Code = strings.TrimSpace(credit.Code)
	if credit.Code == "" || !credit.Amount.IsPositive() {
		return fmt.Errorf("%w: code and positive amount are required", ErrInvalidCredit)
	}
	credit.Amount = domain.RoundMoney(credit.Amount)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	for i := range m.credits {
		if strings.EqualFold(m.credits[i].Code, credit.Code) {
			m.credits[i] = credit
			return nil
		}
	}
	m.credits = append(m.credits, credit)
	return nil
}

// RemoveCredit drops a credit by code. It reports whether the code was applied.
func (m *Machine) RemoveCredit(code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	for i := range m.credits {
		if strings.EqualFold(m.credits[i].Code, code) {
			m.credits = append(m.credits[:i], m.credits[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Quote prices the current cart with the configured fees and applied credits.
func (m *Machine) Quote(ctx context.Context) (domain.PricingBreakdown, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quoteLocked(ctx)
}

// Snapshot returns a copy of the checkout state.
func (m *Machine) Snapshot(ctx context.Context) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		SessionID:         m.sessionID,
		State:             m.state,
		Lines:             m.cart.Lines(),
		ItemCount:         m.cart.ItemCount(),
		PaymentMethod:     m.validator.Method(),
		Credits:           append([]domain.Credit(nil), m.credits...),
		Currency:          m.currency,
		PlacementInFlight: m.inFlight,
	}
	if addr, ok := m.selector.Selected(); ok {
		snap.Address = &addr
	}
	if quote, err := m.quoteLocked(ctx); err == nil {
		snap.Quote = quote
	}
	if m.confirmed != nil {
		order := *m.confirmed
		order.Lines = domain.CloneLines(order.Lines)
		snap.Order = &order
		snap.Quote = breakdownOf(order)
	}
	if m.pending != nil {
		snap.ChargeUnconfirmed = true
		snap.PaymentReference = m.pending.receipt.Reference
	}
	return snap
}

// PlaceOrder validates payment, prices the cart, charges when the method needs external
// confirmation, persists the order, and only then clears the cart and confirms.
//
// When a previous attempt charged the customer but failed to persist, PlaceOrder retries the
// persistence of that same order and never charges again.
func (m *Machine) PlaceOrder(ctx context.Context) (domain.Order, error) {
	m.mu.Lock()
	if err := m.checkTransitionLocked(); err != nil {
		m.mu.Unlock()
		return domain.Order{}, err
	}
	if m.state != StatePaymentSelection {
		state := m.state
		m.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: cannot place order from %s", ErrIllegalTransition, state)
	}
	if m.pending != nil {
		pending := *m.pending
		m.inFlight = true
		gen := m.generation
		m.mu.Unlock()
		m.logger(ctx, "checkout.persistence_retry", map[string]any{
			"userId":           m.userID,
			"sessionId":        m.sessionID,
			"paymentReference": pending.receipt.Reference,
		})
		return m.persist(ctx, gen, pending.order, pending.receipt, true)
	}

	if m.cart.IsEmpty() {
		m.mu.Unlock()
		return domain.Order{}, ErrEmptyCart
	}
	addr, err := m.selector.RequireSelection()
	if err != nil {
		m.mu.Unlock()
		return domain.Order{}, err
	}
	if err := m.validator.Validate(); err != nil {
		m.mu.Unlock()
		return domain.Order{}, err
	}
	breakdown, err := m.quoteLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return domain.Order{}, err
	}

	selection := m.validator.Selection()
	now := m.now()
	order := domain.Order{
		UserID:        m.userID,
		Lines:         m.cart.Lines(),
		Subtotal:      breakdown.Subtotal,
		DeliveryFee:   breakdown.DeliveryFee,
		HandlingFee:   breakdown.HandlingFee,
		Discount:      breakdown.Discount,
		Total:         breakdown.Total,
		Credits:       append([]domain.Credit(nil), m.credits...),
		Currency:      m.currency,
		Address:       addr,
		Payment:       paymentUsed(selection),
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPlaced,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	needsCharge := selection.Method.RequiresExternalConfirmation() && order.Total.IsPositive()
	if !needsCharge {
		if selection.Method.RequiresExternalConfirmation() {
			// Credits cover the whole amount.
			order.PaymentStatus = domain.PaymentStatusPaid
		}
		m.inFlight = true
		gen := m.generation
		m.mu.Unlock()
		return m.persist(ctx, gen, order, domain.PaymentReceipt{}, false)
	}

	req := domain.PaymentRequest{
		UserID:         m.userID,
		Selection:      selection,
		Amount:         order.Total,
		Currency:       m.currency,
		IdempotencyKey: chargeKey(m.userID, m.sessionID, m.attempts, selection, domain.FormatMoney(order.Total)),
		Metadata: map[string]string{
			"userId":    m.userID,
			"sessionId": m.sessionID,
			"itemCount": strconv.Itoa(order.ItemCount()),
		},
	}
	m.inFlight = true
	gen := m.generation
	m.mu.Unlock()

	receipt, chargeErr := m.payments.Charge(ctx, req)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		fields := map[string]any{
			"userId":    m.userID,
			"sessionId": m.sessionID,
			"stage":     "charge",
		}
		if chargeErr == nil {
			fields["paymentReference"] = receipt.Reference
		}
		m.logger(ctx, "checkout.late_result_discarded", fields)
		return domain.Order{}, ErrPlacementAbandoned
	}
	if chargeErr != nil {
		m.inFlight = false
		// Only a definite decline moves to a fresh idempotency key. After any other error the
		// charge may have gone through, so a retry must replay the same key.
		definite := errors.Is(chargeErr, payments.ErrDeclined)
		if definite {
			m.attempts++
		}
		m.mu.Unlock()
		m.logger(ctx, "checkout.payment_declined", map[string]any{
			"userId":    m.userID,
			"sessionId": m.sessionID,
			"method":    string(selection.Method),
			"definite":  definite,
			"error":     chargeErr.Error(),
		})
		return domain.Order{}, &PaymentDeclinedError{Method: selection.Method, Reason: declineReason(chargeErr), Definite: definite, Err: chargeErr}
	}
	m.mu.Unlock()

	applyReceipt(&order, receipt)
	return m.persist(ctx, gen, order, receipt, true)
}

// persist stores the order and completes the checkout. The caller has marked the placement
// in flight and released the lock.
func (m *Machine) persist(ctx context.Context, gen uint64, order domain.Order, receipt domain.PaymentReceipt, charged bool) (domain.Order, error) {
	id, saveErr := m.orders.Save(ctx, order)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		fields := map[string]any{
			"userId":    m.userID,
			"sessionId": m.sessionID,
			"stage":     "persist",
		}
		if charged {
			fields["paymentReference"] = receipt.Reference
		}
		if saveErr != nil {
			fields["error"] = saveErr.Error()
			m.logger(ctx, "checkout.late_result_discarded", fields)
			return domain.Order{}, ErrPlacementAbandoned
		}
		// The order exists but the session went back to the cart, which still holds its lines.
		// Support reconciles these by order id.
		fields["orderId"] = id
		fields["total"] = domain.FormatMoney(order.Total)
		fields["paymentStatus"] = string(order.PaymentStatus)
		m.logger(ctx, "checkout.order_orphaned", fields)
		return domain.Order{}, ErrPlacementAbandoned
	}
	m.inFlight = false

	if saveErr != nil {
		perr := &PersistenceError{Err: saveErr}
		if charged {
			m.pending = &unconfirmedCharge{order: order, receipt: receipt}
			perr.PaymentReference = receipt.Reference
		}
		m.mu.Unlock()
		m.logger(ctx, "checkout.persistence_failed", map[string]any{
			"userId":           m.userID,
			"sessionId":        m.sessionID,
			"charged":          charged,
			"paymentReference": receipt.Reference,
			"error":            saveErr.Error(),
		})
		return domain.Order{}, perr
	}

	order.ID = id
	m.pending = nil
	m.cart.Clear()
	m.validator.Reset()
	m.confirmed = &order
	m.setStateLocked(ctx, StateConfirmed)
	m.mu.Unlock()

	if m.carts != nil {
		if err := m.carts.Save(ctx, m.userID, nil); err != nil {
			m.logger(ctx, "checkout.cart_clear_failed", map[string]any{
				"userId":  m.userID,
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	m.logger(ctx, "checkout.order_placed", map[string]any{
		"userId":        m.userID,
		"sessionId":     m.sessionID,
		"orderId":       order.ID,
		"total":         domain.FormatMoney(order.Total),
		"currency":      order.Currency,
		"paymentMethod": string(order.Payment.Method),
		"paymentStatus": string(order.PaymentStatus),
	})
	if m.publisher != nil {
		if err := m.publisher.PublishOrderPlaced(ctx, order); err != nil {
			m.logger(ctx, "checkout.publish_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	result := order
	result.Lines = domain.CloneLines(order.Lines)
	return result, nil
}

func (m *Machine) checkTransitionLocked() error {
	if m.state == StateConfirmed {
		return ErrCheckoutConfirmed
	}
	if m.inFlight {
		return ErrPlacementInFlight
	}
	return nil
}

func (m *Machine) checkMutableLocked() error {
	if err := m.checkTransitionLocked(); err != nil {
		return err
	}
	if m.pending != nil {
		return ErrChargeUnconfirmed
	}
	return nil
}

func (m *Machine) quoteLocked(ctx context.Context) (domain.PricingBreakdown, error) {
	return m.pricing.ComputeTotal(ctx, m.cart.Subtotal(), m.policy.WithCredits(m.credits))
}

func (m *Machine) setStateLocked(ctx context.Context, next State) {
	if m.state == next {
		return
	}
	m.logger(ctx, "checkout.transition", map[string]any{
		"sessionId": m.sessionID,
		"from":      string(m.state),
		"to":        string(next),
	})
	m.state = next
}

func paymentUsed(sel domain.PaymentSelection) domain.PaymentMethodUsed {
	used := domain.PaymentMethodUsed{Method: sel.Method}
	switch sel.Method {
	case domain.PaymentMethodCard:
		used.Brand = paymentmethod.Brand(sel.Card.Number)
		used.Last4 = paymentmethod.Last4(sel.Card.Number)
	case domain.PaymentMethodUPI:
		used.UPIHandle = paymentmethod.MaskUPI(sel.UPIID)
	}
	return used
}

func applyReceipt(order *domain.Order, receipt domain.PaymentReceipt) {
	order.Payment.Provider = receipt.Provider
	order.Payment.Reference = receipt.Reference
	if receipt.Brand != "" {
		order.Payment.Brand = receipt.Brand
	}
	if receipt.Last4 != "" {
		order.Payment.Last4 = receipt.Last4
	}
	switch receipt.Status {
	case domain.PaymentStatusPaid, domain.PaymentStatusPending:
		order.PaymentStatus = receipt.Status
	default:
		order.PaymentStatus = domain.PaymentStatusPaid
	}
}

func breakdownOf(order domain.Order) domain.PricingBreakdown {
	return domain.PricingBreakdown{
		Subtotal:     order.Subtotal,
		DeliveryFee:  order.DeliveryFee,
		HandlingFee:  order.HandlingFee,
		Discount:     order.Discount,
		Total:        order.Total,
		FreeDelivery: order.DeliveryFee.IsZero(),
	}
}

func declineReason(err error) string {
	var reasoned interface{ DeclineReason() string }
	if errors.As(err, &reasoned) {
		return reasoned.DeclineReason()
	}
	return ""
}

// chargeKey is stable for a session, decline count and request shape. Changing the method,
// card or amount yields a new key because processors reject a reused key with new parameters.
func chargeKey(userID, sessionID string, attempt int, sel domain.PaymentSelection, amount string) string {
	parts := []string{
		userID,
		sessionID,
		strconv.Itoa(attempt),
		string(sel.Method),
		sel.Card.Token,
		paymentmethod.Last4(sel.Card.Number),
		amount,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "chk_" + hex.EncodeToString(sum[:16])
}
