package cart

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopeasy/storefront/internal/domain"
)

// MaxLineQuantity caps the quantity of a single line. Merges and updates beyond it are clamped.
const MaxLineQuantity = 99

// Store holds the lines of a single shopping cart in insertion order.
//
// A Store is owned by one checkout session and is not safe for concurrent use;
// callers serialise access (the checkout machine does so with its own lock).
type Store struct {
	lines []domain.CartLine
	index map[string]int
}

// NewStore returns an empty cart.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Restore rebuilds a cart from previously captured lines. Lines with a blank product id or a
// non-positive quantity are dropped, and duplicate product ids are merged.
func Restore(lines []domain.CartLine) *Store {
	s := NewStore()
	s.Replace(lines)
	return s
}

// Replace swaps the cart contents for lines, applying the same rules as Restore.
func (s *Store) Replace(lines []domain.CartLine) {
	s.Clear()
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Quantity <= 0 {
			continue
		}
		line.ProductID = id
		if pos, ok := s.index[id]; ok {
			s.lines[pos].Quantity = clampQuantity(s.lines[pos].Quantity + line.Quantity)
			continue
		}
		line.Quantity = clampQuantity(line.Quantity)
		s.index[id] = len(s.lines)
		s.lines = append(s.lines, line)
	}
}

// AddItem merges quantity into the product's line, or appends a new line priced at the
// product's current unit price. A quantity below one is treated as one, and the line never
// exceeds MaxLineQuantity.
func (s *Store) AddItem(product domain.Product, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	id := strings.TrimSpace(product.ID)
	if pos, ok := s.index[id]; ok {
		s.lines[pos].Quantity = clampQuantity(s.lines[pos].Quantity + quantity)
		return
	}
	quantity = clampQuantity(quantity)
	price := product.UnitPrice
	if price.IsNegative() {
		price = decimal.Zero
	}
	s.index[id] = len(s.lines)
	s.lines = append(s.lines, domain.CartLine{
		ProductID:         id,
		Name:              product.Name,
		UnitPriceSnapshot: price,
		Quantity:          quantity,
		ImageRef:          product.ImageRef,
	})
}

// UpdateQuantity sets the quantity of an existing line, clamped to MaxLineQuantity. A quantity
// of zero or less removes the line; unknown products are ignored.
func (s *Store) UpdateQuantity(productID string, quantity int) {
	pos, ok := s.index[strings.TrimSpace(productID)]
	if !ok {
		return
	}
	if quantity <= 0 {
		s.removeAt(pos)
		return
	}
	s.lines[pos].Quantity = clampQuantity(quantity)
}

// RemoveItem deletes the product's line if present.
func (s *Store) RemoveItem(productID string) {
	if pos, ok := s.index[strings.TrimSpace(productID)]; ok {
		s.removeAt(pos)
	}
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.lines = nil
	s.index = make(map[string]int)
}

// Lines returns a copy of the cart lines in insertion order.
func (s *Store) Lines() []domain.CartLine {
	return domain.CloneLines(s.lines)
}

// Line returns the line for productID.
func (s *Store) Line(productID string) (domain.CartLine, bool) {
	pos, ok := s.index[strings.TrimSpace(productID)]
	if !ok {
		return domain.CartLine{}, false
	}
	return s.lines[pos], true
}

// Subtotal sums price times quantity over all lines, rounded to currency precision.
func (s *Store) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.LineTotal())
	}
	return domain.RoundMoney(total)
}

// ItemCount sums quantities across lines.
func (s *Store) ItemCount() int {
	count := 0
	for _, line := range s.lines {
		count += line.Quantity
	}
	return count
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	return len(s.lines) == 0
}

func (s *Store) removeAt(pos int) {
	delete(s.index, s.lines[pos].ProductID)
	s.lines = append(s.lines[:pos], s.lines[pos+1:]...)
	for i := pos; i < len(s.lines); i++ {
		s.index[s.lines[i].ProductID] = i
	}
}

func clampQuantity(quantity int) int {
	return min(quantity, MaxLineQuantity)
}
