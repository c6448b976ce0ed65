package address

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/repositories"
)

var (
	// ErrInvalidAddress indicates missing or malformed address fields.
	ErrInvalidAddress = errors.New("address: invalid input")
	// ErrAddressNotFound indicates the address does not exist for the user.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressBookUnavailable indicates the backing store could not be reached.
	ErrAddressBookUnavailable = errors.New("address: address book unavailable")
)

const maxFieldLength = 200

// CreateCommand describes a new saved address.
type CreateCommand struct {
	UserID    string
	Type      domain.AddressType
	Line1     string
	City      string
	State     string
	Zip       string
	Country   string
	IsDefault bool
}

// Book manages a user's saved addresses on top of an address repository.
type Book struct {
	repo   repositories.AddressRepository
	policy *bluemonday.Policy
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// BookDeps configures a Book.
type BookDeps struct {
	Repository repositories.AddressRepository
	Clock      func() time.Time
	IDGen      func() string
	Logger     func(context.Context, string, map[string]any)
}

// NewBook constructs an address book service.
func NewBook(deps BookDeps) (*Book, error) {
	if deps.Repository == nil {
		return nil, errors.New("address book: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string {
			return "addr_" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Book{
		repo:   deps.Repository,
		policy: bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// List returns the user's saved addresses.
func (b *Book) List(ctx context.Context, userID string) ([]domain.Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidAddress)
	}
	addrs, err := b.repo.List(ctx, userID)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return addrs, nil
}

// Get loads a single address owned by the user.
func (b *Book) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return domain.Address{}, fmt.Errorf("%w: user id and address id are required", ErrInvalidAddress)
	}
	addr, err := b.repo.Get(ctx, userID, addressID)
	if err != nil {
		return domain.Address{}, translateRepoError(err)
	}
	return addr, nil
}

// Create validates, sanitises and stores a new address.
func (b *Book) Create(ctx context.Context, cmd CreateCommand) (domain.Address, error) {
	addr := domain.Address{
		UserID:    strings.TrimSpace(cmd.UserID),
		Type:      normaliseType(cmd.Type),
		Line1:     b.clean(cmd.Line1),
		City:      b.clean(cmd.City),
		State:     b.clean(cmd.State),
		Zip:       b.clean(cmd.Zip),
		Country:   strings.ToUpper(b.clean(cmd.Country)),
		IsDefault: cmd.IsDefault,
	}

	var missing []string
	if addr.UserID == "" {
		missing = append(missing, "userId")
	}
	if addr.Type == "" {
		missing = append(missing, "type")
	}
	if addr.Line1 == "" {
		missing = append(missing, "line1")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if addr.Zip == "" {
		missing = append(missing, "zip")
	}
	if len(missing) > 0 {
		return domain.Address{}, fmt.Errorf("%w: missing or invalid %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}

	addr.ID = b.newID()
	addr.CreatedAt = b.clock()

	if err := b.repo.Insert(ctx, addr); err != nil {
		b.logger(ctx, "address.insert_failed", map[string]any{"userId": addr.UserID, "error": err.Error()})
		return domain.Address{}, translateRepoError(err)
	}
	return addr, nil
}

// Remove deletes an address. Removing does not affect orders that captured it.
func (b *Book) Remove(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrInvalidAddress)
	}
	if err := b.repo.Delete(ctx, userID, addressID); err != nil {
		return translateRepoError(err)
	}
	return nil
}

func (b *Book) clean(value string) string {
	value = strings.TrimSpace(html.UnescapeString(b.policy.Sanitize(value)))
	if len(value) > maxFieldLength {
		value = value[:maxFieldLength]
	}
	return value
}

func normaliseType(t domain.AddressType) domain.AddressType {
	switch domain.AddressType(strings.ToLower(strings.TrimSpace(string(t)))) {
	case domain.AddressTypeHome:
		return domain.AddressTypeHome
	case domain.AddressTypeWork:
		return domain.AddressTypeWork
	case domain.AddressTypeOther, "":
		return domain.AddressTypeOther
	default:
		return ""
	}
}

func translateRepoError(err error) error {
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrAddressNotFound, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrAddressBookUnavailable, err)
	default:
		return err
	}
}
