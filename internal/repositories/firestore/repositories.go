package firestore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	"github.com/shopeasy/storefront/internal/domain"
	pfirestore "github.com/shopeasy/storefront/internal/platform/firestore"
	"github.com/shopeasy/storefront/internal/repositories"
)

const (
	addressCollectionPattern = "users/%s/addresses"
	ordersCollection         = "orders"
	cartsCollection          = "carts"
	productsCollection       = "products"
	giftCardsCollection      = "giftCards"
	walletsCollection        = "wallets"
)

// AddressRepository stores addresses under users/{uid}/addresses.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, userID)), nil
}

// List returns the user's addresses oldest first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	docs, err := pfirestore.CollectAs(ctx, coll.OrderBy("createdAt", firestore.Asc), "addresses.list", func(_ *addressDocument, id string) {
		ids = append(ids, id)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, len(docs))
	for i, doc := range docs {
		out[i] = doc.toDomain(ids[i], userID)
	}
	return out, nil
}

// Get returns one address.
func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	doc, err := pfirestore.GetAs[addressDocument](ctx, coll.Doc(addressID), "addresses.get")
	if err != nil {
		return domain.Address{}, err
	}
	return doc.toDomain(addressID, userID), nil
}

// Insert creates the address and, when it is the new default, clears the flag on its siblings
// in the same transaction.
func (r *AddressRepository) Insert(ctx context.Context, addr domain.Address) error {
	coll, err := r.collection(ctx, addr.UserID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(addr.ID) == "" {
		return errors.New("address repository: address id is required")
	}
	ref := coll.Doc(addr.ID)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var defaults []*firestore.DocumentSnapshot
		if addr.IsDefault {
			snaps, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
			if err != nil {
				return err
			}
			defaults = snaps
		}
		for _, snap := range defaults {
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: "isDefault", Value: false}}); err != nil {
				return err
			}
		}
		return tx.Create(ref, fromAddress(addr))
	})
}

// Delete removes an address.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(addressID).Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// OrderRepository stores orders in the top-level orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	newID    func() string
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		newID: func() string {
			return "ord_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
		},
	}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

// Save creates the order document, assigning an id when the order has none.
func (r *OrderRepository) Save(ctx context.Context, order domain.Order) (string, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		id = r.newID()
	}
	if _, err := coll.Doc(id).Create(ctx, fromOrder(order)); err != nil {
		return "", pfirestore.WrapError("orders.save", err)
	}
	return id, nil
}

// FindByID returns an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := pfirestore.GetAs[orderDocument](ctx, coll.Doc(orderID), "orders.get")
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ids []string
	docs, err := pfirestore.CollectAs(ctx, query, "orders.list", func(_ *orderDocument, id string) {
		ids = append(ids, id)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, len(docs))
	for i, doc := range docs {
		out[i] = doc.toDomain(ids[i])
	}
	return out, nil
}

// UpdateStatus writes the status fields of an existing order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	_, err = coll.Doc(order.ID).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(order.Status)},
		{Path: "paymentStatus", Value: string(order.PaymentStatus)},
		{Path: "updatedAt", Value: order.UpdatedAt.UTC()},
	})
	return pfirestore.WrapError("orders.updateStatus", err)
}

// CartRepository stores one document per user in carts/{uid}.
type CartRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider, now: time.Now}, nil
}

func (r *CartRepository) doc(ctx context.Context, userID string) (*firestore.DocumentRef, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(cartsCollection).Doc(userID), nil
}

// Load returns the saved lines, or none when the user has no cart document.
func (r *CartRepository) Load(ctx context.Context, userID string) ([]domain.CartLine, error) {
	ref, err := r.doc(ctx, userID)
	if err != nil {
		return nil, err
	}
	doc, err := pfirestore.GetAs[cartDocument](ctx, ref, "carts.get")
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

// Save overwrites the cart document; no lines deletes it.
func (r *CartRepository) Save(ctx context.Context, userID string, lines []domain.CartLine) error {
	ref, err := r.doc(ctx, userID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		_, err = ref.Delete(ctx)
		return pfirestore.WrapError("carts.delete", err)
	}
	_, err = ref.Set(ctx, fromCart(lines, r.now()))
	return pfirestore.WrapError("carts.set", err)
}

// ProductRepository reads the catalog from the products collection.
type ProductRepository struct {
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed catalog reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

// FindByID returns an active product. Inactive products read as not found.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := pfirestore.GetAs[productDocument](ctx, client.Collection(productsCollection).Doc(productID), "products.get")
	if err != nil {
		return domain.Product{}, err
	}
	if doc.Active != nil && !*doc.Active {
		return domain.Product{}, &inactiveError{id: productID}
	}
	return domain.Product{
		ID:        productID,
		Name:      doc.Name,
		UnitPrice: money(doc.UnitPrice),
		ImageRef:  doc.ImageRef,
	}, nil
}

type inactiveError struct{ id string }

func (e *inactiveError) Error() string       { return "products.get: " + e.id + " is inactive" }
func (e *inactiveError) IsNotFound() bool    { return true }
func (e *inactiveError) IsConflict() bool    { return false }
func (e *inactiveError) IsUnavailable() bool { return false }

// CreditRepository reads gift card balances from giftCards/{CODE} and wallet balances from wallets/{uid}.
type CreditRepository struct {
	provider *pfirestore.Provider
}

// NewCreditRepository constructs a Firestore-backed credit lookup.
func NewCreditRepository(provider *pfirestore.Provider) (*CreditRepository, error) {
	if provider == nil {
		return nil, errors.New("credit repository requires firestore provider")
	}
	return &CreditRepository{provider: provider}, nil
}

// Lookup returns the available balance for a gift card code or the user's wallet.
func (r *CreditRepository) Lookup(ctx context.Context, userID string, source domain.CreditSource, code string) (domain.Credit, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Credit{}, err
	}
	var ref *firestore.DocumentRef
	switch source {
	case domain.CreditSourceWallet:
		code = domain.WalletCreditCode
		ref = client.Collection(walletsCollection).Doc(userID)
	case domain.CreditSourceGiftCard:
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return domain.Credit{}, errors.New("credit repository: gift card code is required")
		}
		ref = client.Collection(giftCardsCollection).Doc(code)
	default:
		return domain.Credit{}, fmt.Errorf("credit repository: unknown source %q", source)
	}
	doc, err := pfirestore.GetAs[balanceDocument](ctx, ref, "credits.lookup")
	if err != nil {
		return domain.Credit{}, err
	}
	return domain.Credit{Source: source, Code: code, Amount: money(doc.Balance)}, nil
}
