package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopeasy/storefront/internal/cart"
	"github.com/shopeasy/storefront/internal/checkout"
	"github.com/shopeasy/storefront/internal/domain"
	"github.com/shopeasy/storefront/internal/pricing"
	"github.com/shopeasy/storefront/internal/repositories"
)

// ErrUserRequired indicates a lookup without a user id.
var ErrUserRequired = errors.New("session: user id is required")

// Deps wires a Registry. Every machine it creates shares these collaborators.
type Deps struct {
	Pricing   *pricing.Engine
	Policy    pricing.FeePolicy
	Currency  string
	Payments  checkout.PaymentProcessor
	Orders    checkout.OrderStore
	Carts     repositories.CartRepository
	Publisher checkout.OrderPublisher
	Clock     func() time.Time
	IdleTTL   time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type entry struct {
	machine  *checkout.Machine
	lastSeen time.Time
}

// Registry keeps one cart and checkout machine per signed-in user. A new machine starts from
// the user's saved cart when Carts is set. A machine whose order is confirmed is replaced by a
// fresh one on the next access.
type Registry struct {
	deps Deps
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry validates deps by building a throwaway machine.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = func(context.Context, string, map[string]any) {}
	}
	if deps.IdleTTL <= 0 {
		deps.IdleTTL = 6 * time.Hour
	}
	if _, err := checkout.New(deps.machineDeps("registry-check", nil)); err != nil {
		return nil, err
	}
	return &Registry{
		deps:     deps,
		now:      func() time.Time { return deps.Clock().UTC() },
		sessions: make(map[string]*entry),
	}, nil
}

func (d Deps) machineDeps(userID string, lines []domain.CartLine) checkout.Deps {
	return checkout.Deps{
		UserID:    userID,
		Cart:      cart.Restore(lines),
		Pricing:   d.Pricing,
		Policy:    d.Policy,
		Currency:  d.Currency,
		Payments:  d.Payments,
		Orders:    d.Orders,
		Carts:     d.Carts,
		Publisher: d.Publisher,
		Clock:     d.Clock,
		Logger:    d.Logger,
	}
}

// Machine returns the user's active checkout machine, creating one when none exists or the
// previous one is confirmed.
func (r *Registry) Machine(ctx context.Context, userID string) (*checkout.Machine, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserRequired
	}
	if machine, ok := r.active(userID); ok {
		return machine, nil
	}

	// The saved cart is read without holding the registry lock.
	var lines []domain.CartLine
	if r.deps.Carts != nil {
		loaded, err := r.deps.Carts.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("session: load cart: %w", err)
		}
		lines = loaded
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if e, ok := r.sessions[userID]; ok && e.machine.State() != checkout.StateConfirmed {
		// Another request created the session meanwhile.
		e.lastSeen = now
		return e.machine, nil
	}
	machine, err := checkout.New(r.deps.machineDeps(userID, lines))
	if err != nil {
		return nil, err
	}
	r.sessions[userID] = &entry{machine: machine, lastSeen: now}
	r.deps.Logger(ctx, "session.started", map[string]any{"userId": userID, "restoredLines": len(lines)})
	return machine, nil
}

func (r *Registry) active(userID string) (*checkout.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[userID]
	if !ok || e.machine.State() == checkout.StateConfirmed {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.machine, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than the TTL. Sessions with a placement in flight or a
// charge awaiting persistence are kept.
func (r *Registry) Evict(ctx context.Context) int {
	r.mu.Lock()
	candidates := make(map[string]*entry)
	cutoff := r.now().Add(-r.deps.IdleTTL)
	for userID, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			candidates[userID] = e
		}
	}
	r.mu.Unlock()

	evicted := 0
	for userID, e := range candidates {
		snap := e.machine.Snapshot(ctx)
		if snap.PlacementInFlight || snap.ChargeUnconfirmed {
			continue
		}
		r.mu.Lock()
		if current, ok := r.sessions[userID]; ok && current == e && current.lastSeen.Before(cutoff) {
			delete(r.sessions, userID)
			evicted++
		}
		r.mu.Unlock()
	}
	if evicted > 0 {
		r.deps.Logger(ctx, "session.evicted", map[string]any{"count": evicted})
	}
	return evicted
}

// RunEvictor calls Evict every interval until ctx is done.
func (r *Registry) RunEvictor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(ctx)
		}
	}
}
