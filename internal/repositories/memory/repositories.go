package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/domain"
)

// AddressRepository keeps addresses per user in memory. Useful for local development and tests.
type AddressRepository struct {
	mu    sync.RWMutex
	byKey map[string]map[string]domain.Address
	order map[string][]string
}

// NewAddressRepository constructs an empty address store.
func NewAddressRepository() *AddressRepository {
	return &AddressRepository{
		byKey: make(map[string]map[string]domain.Address),
		order: make(map[string][]string),
	}
}

// List returns the user's addresses in insertion order.
func (r *AddressRepository) List(_ context.Context, userID string) ([]domain.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.order[userID]
	out := make([]domain.Address, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byKey[userID][id])
	}
	return out, nil
}

// Get returns a single address.
func (r *AddressRepository) Get(_ context.Context, userID, addressID string) (domain.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.byKey[userID][addressID]
	if !ok {
		return domain.Address{}, notFound("addresses.get", addressID)
	}
	return addr, nil
}

// Insert stores a new address, clearing the default flag on siblings when needed.
func (r *AddressRepository) Insert(_ context.Context, addr domain.Address) error {
	if strings.TrimSpace(addr.ID) == "" || strings.TrimSpace(addr.UserID) == "" {
		return errors.New("memory address repository: id and user id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.byKey[addr.UserID]
	if !ok {
		bucket = make(map[string]domain.Address)
		r.byKey[addr.UserID] = bucket
	}
	if _, exists := bucket[addr.ID]; exists {
		return conflict("addresses.insert", addr.ID)
	}
	if addr.IsDefault {
		for id, existing := range bucket {
			existing.IsDefault = false
			bucket[id] = existing
		}
	}
	bucket[addr.ID] = addr
	r.order[addr.UserID] = append(r.order[addr.UserID], addr.ID)
	return nil
}

// Delete removes an address.
func (r *AddressRepository) Delete(_ context.Context, userID, addressID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[userID][addressID]; !ok {
		return notFound("addresses.delete", addressID)
	}
	delete(r.byKey[userID], addressID)
	ids := r.order[userID]
	for i, id := range ids {
		if id == addressID {
			r.order[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// OrderRepository keeps orders in memory.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	newID  func() string
}

// NewOrderRepository constructs an empty order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]domain.Order),
		newID: func() string {
			return "ord_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
		},
	}
}

// Save assigns an id when missing and stores the order.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := strings.TrimSpace(order.ID)
	if id == "" {
		id = r.newID()
	}
	if _, exists := r.orders[id]; exists {
		return "", conflict("orders.save", id)
	}
	order.ID = id
	order.Lines = domain.CloneLines(order.Lines)
	r.orders[id] = order
	return id, nil
}

// FindByID returns a stored order.
func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", orderID)
	}
	order.Lines = domain.CloneLines(order.Lines)
	return order, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			order.Lines = domain.CloneLines(order.Lines)
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus persists the status and payment status of an existing order.
func (r *OrderRepository) UpdateStatus(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.orders[order.ID]
	if !ok {
		return notFound("orders.updateStatus", order.ID)
	}
	existing.Status = order.Status
	existing.PaymentStatus = order.PaymentStatus
	existing.UpdatedAt = order.UpdatedAt
	r.orders[order.ID] = existing
	return nil
}

// CartRepository keeps cart lines per user.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string][]domain.CartLine
	saves int
}

// NewCartRepository constructs an empty cart store.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]domain.CartLine)}
}

// Load returns a copy of the user's saved lines.
func (r *CartRepository) Load(_ context.Context, userID string) ([]domain.CartLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.CloneLines(r.carts[userID]), nil
}

// Save replaces the user's lines; no lines removes the cart.
func (r *CartRepository) Save(_ context.Context, userID string, lines []domain.CartLine) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("memory cart repository: user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if len(lines) == 0 {
		delete(r.carts, userID)
		return nil
	}
	r.carts[userID] = domain.CloneLines(lines)
	return nil
}

// Saves reports how many writes the store accepted.
func (r *CartRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// ProductRepository serves a fixed catalog from memory.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewProductRepository seeds the catalog with products.
func NewProductRepository(products ...domain.Product) *ProductRepository {
	repo := &ProductRepository{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

// Put inserts or replaces a product.
func (r *ProductRepository) Put(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

// FindByID returns a product.
func (r *ProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", productID)
	}
	return p, nil
}

// CreditRepository holds gift card codes and per-user wallet balances.
type CreditRepository struct {
	mu      sync.RWMutex
	credits map[string]domain.Credit
}

// NewCreditRepository constructs an empty credit store.
func NewCreditRepository() *CreditRepository {
	return &CreditRepository{credits: make(map[string]domain.Credit)}
}

// PutGiftCard registers a gift card code with its remaining balance.
func (r *CreditRepository) PutGiftCard(code string, amount decimal.Decimal) {
	r.put("", domain.Credit{Source: domain.CreditSourceGiftCard, Code: code, Amount: amount})
}

// PutWallet sets the user's wallet balance.
func (r *CreditRepository) PutWallet(userID string, amount decimal.Decimal) {
	r.put(userID, domain.Credit{Source: domain.CreditSourceWallet, Code: domain.WalletCreditCode, Amount: amount})
}

func (r *CreditRepository) put(userID string, credit domain.Credit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credits[creditKey(userID, credit.Source, credit.Code)] = credit
}

// Lookup returns the available credit for the code.
func (r *CreditRepository) Lookup(_ context.Context, userID string, source domain.CreditSource, code string) (domain.Credit, error) {
	owner := ""
	if source == domain.CreditSourceWallet {
		owner, code = userID, domain.WalletCreditCode
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	credit, ok := r.credits[creditKey(owner, source, code)]
	if !ok {
		return domain.Credit{}, notFound("credits.lookup", string(source)+":"+code)
	}
	return credit, nil
}

func creditKey(userID string, source domain.CreditSource, code string) string {
	return userID + "|" + string(source) + "|" + strings.ToUpper(strings.TrimSpace(code))
}
