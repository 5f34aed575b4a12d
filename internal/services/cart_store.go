package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/blackboard-training/api/internal/domain"
)

// ErrCartNotFound indicates the cart id is unknown or the cart has expired.
var ErrCartNotFound = errors.New("cart: not found")

// StoredCart is a customer cart held between pricing and checkout. Only raw
// lines are stored; prices are recomputed on every read path.
type StoredCart struct {
	ID         string
	Lines      []domain.CartLine
	Currency   domain.Currency
	CouponCode string
	UpdatedAt  time.Time
}

// CartStore persists carts for the duration of a checkout journey.
type CartStore interface {
	Save(ctx context.Context, cart StoredCart) (StoredCart, error)
	Load(ctx context.Context, cartID string) (StoredCart, error)
	Delete(ctx context.Context, cartID string) error
}

// MemoryCartStore is an in-memory CartStore with per-entry TTL. Carts are
// short-lived working state; losing them on restart only restarts checkout.
type MemoryCartStore struct {
	mu      sync.Mutex
	entries map[string]StoredCart
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryCartStore constructs a MemoryCartStore with the given TTL.
func NewMemoryCartStore(ttl time.Duration, clock func() time.Time) *MemoryCartStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCartStore{
		entries: make(map[string]StoredCart),
		ttl:     ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
	}
}

// Save stores the cart, minting an id when none is set.
func (s *MemoryCartStore) Save(_ context.Context, cart StoredCart) (StoredCart, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)

	if strings.TrimSpace(cart.ID) == "" {
		cart.ID = ulid.Make().String()
	}
	cart.UpdatedAt = now
	s.entries[cart.ID] = cart
	return cart, nil
}

// Load returns the cart for the given id if it has not expired.
func (s *MemoryCartStore) Load(_ context.Context, cartID string) (StoredCart, error) {
	cartID = strings.TrimSpace(cartID)
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)

	cart, ok := s.entries[cartID]
	if !ok {
		return StoredCart{}, ErrCartNotFound
	}
	return cart, nil
}

// Delete removes the cart. Deleting an unknown id is not an error.
func (s *MemoryCartStore) Delete(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(cartID))
	return nil
}

func (s *MemoryCartStore) evictExpiredLocked(now time.Time) {
	for id, cart := range s.entries {
		if now.Sub(cart.UpdatedAt) > s.ttl {
			delete(s.entries, id)
		}
	}
}
