package address

import (
	"errors"

	"github.com/shopeasy/storefront/internal/domain"
)

// ErrMissingAddress indicates checkout tried to move past address selection without a chosen address.
var ErrMissingAddress = errors.New("checkout: delivery address not selected")

// Selector tracks which saved address is chosen for the active checkout.
// It references addresses; it does not own or persist them.
type Selector struct {
	selected *domain.Address
}

// Select replaces any prior selection.
func (s *Selector) Select(addr domain.Address) {
	chosen := addr
	s.selected = &chosen
}

// Selected returns the current selection.
func (s *Selector) Selected() (domain.Address, bool) {
	if s.selected == nil {
		return domain.Address{}, false
	}
	return *s.selected, true
}

// RequireSelection is the checkout guard for leaving the address step.
func (s *Selector) RequireSelection() (domain.Address, error) {
	addr, ok := s.Selected()
	if !ok {
		return domain.Address{}, ErrMissingAddress
	}
	return addr, nil
}

// Clear drops the selection.
func (s *Selector) Clear() {
	s.selected = nil
}
