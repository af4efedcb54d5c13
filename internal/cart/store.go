package cart

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"soko-orders/internal/domain"
)

// Mutation is the outcome of a successful cart operation. PersistErr is a
// non-fatal persistence warning: the in-memory mutation took effect and the
// cart stays usable for the rest of the session, but the durable copy may be
// stale.
type Mutation struct {
	Cart       domain.Cart
	PersistErr error
}

// Store owns the single active cart and enforces vendor exclusivity. All
// mutating operations are serialized by a mutex and write the resulting cart
// through the repository before returning.
type Store struct {
	mu   sync.Mutex
	cart domain.Cart
	repo Repository
	lg   *zap.Logger
}

// New builds a Store, rehydrating the persisted cart if one exists. A
// missing, unreadable or invariant-violating persisted cart degrades to the
// empty cart with a logged warning; it never blocks construction.
func New(ctx context.Context, repo Repository, lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	s := &Store{cart: domain.EmptyCart(), repo: repo, lg: lg}
	if repo == nil {
		return s
	}
	loaded, found, err := repo.Load(ctx)
	if err != nil {
		lg.Warn("cart_load_failed", zap.Error(err))
		return s
	}
	if !found {
		return s
	}
	if err := loaded.Validate(); err != nil {
		lg.Warn("cart_state_discarded", zap.Error(err))
		return s
	}
	s.cart = loaded
	return s
}

// AddItem merges one unit of item into the cart. If the cart already belongs
// to a different vendor the cart is left untouched and a *VendorConflictError
// is returned; resolution (abort vs ReplaceCart) is the caller's decision.
func (s *Store) AddItem(ctx context.Context, vendor domain.Vendor, item domain.MenuItem) (Mutation, error) {
	if err := validate(vendor, item); err != nil {
		return Mutation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cart.IsEmpty() && s.cart.VendorID != vendor.ID {
		return Mutation{}, &domain.VendorConflictError{
			Current:   domain.Vendor{ID: s.cart.VendorID, Name: s.cart.VendorName},
			Requested: vendor,
		}
	}

	next := s.cart.Clone()
	next.VendorID = vendor.ID
	next.VendorName = vendor.Name
	merged := false
	for i := range next.Items {
		if next.Items[i].ItemID == item.ID {
			next.Items[i].Qty++
			merged = true
			break
		}
	}
	if !merged {
		next.Items = append(next.Items, domain.CartLine{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Qty:       1,
		})
	}
	next.Total = next.ComputeTotal()
	return s.commit(ctx, next), nil
}

// ReplaceCart is the deterministic discard-and-replace path for a vendor
// switch: the current cart is dropped and a fresh one is started for vendor
// with a single unit of item.
func (s *Store) ReplaceCart(ctx context.Context, vendor domain.Vendor, item domain.MenuItem) (Mutation, error) {
	if err := validate(vendor, item); err != nil {
		return Mutation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := domain.Cart{
		VendorID:   vendor.ID,
		VendorName: vendor.Name,
		Items: []domain.CartLine{{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Qty:       1,
		}},
	}
	next.Total = next.ComputeTotal()
	return s.commit(ctx, next), nil
}

// RemoveItem decrements the quantity of itemID by one, dropping the line at
// zero. Removing the last unit of the last item resets the vendor fields.
// Unknown itemID is a no-op, not an error.
func (s *Store) RemoveItem(ctx context.Context, itemID string) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cart.LineIndex(itemID)
	if idx < 0 {
		return Mutation{Cart: s.cart.Clone()}, nil
	}
	next := s.cart.Clone()
	if next.Items[idx].Qty > 1 {
		next.Items[idx].Qty--
	} else {
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	}
	normalize(&next)
	return s.commit(ctx, next), nil
}

// RemoveLine drops the whole line for itemID regardless of quantity (the
// trash-can action). Unknown itemID is a no-op.
func (s *Store) RemoveLine(ctx context.Context, itemID string) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cart.LineIndex(itemID)
	if idx < 0 {
		return Mutation{Cart: s.cart.Clone()}, nil
	}
	next := s.cart.Clone()
	next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	normalize(&next)
	return s.commit(ctx, next), nil
}

// SetQuantity sets the quantity of an existing line. Negative quantities are
// rejected without mutation; zero removes the line. Unknown itemID is a
// no-op.
func (s *Store) SetQuantity(ctx context.Context, itemID string, qty int) (Mutation, error) {
	if qty < 0 {
		return Mutation{}, domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cart.LineIndex(itemID)
	if idx < 0 {
		return Mutation{Cart: s.cart.Clone()}, nil
	}
	next := s.cart.Clone()
	if qty == 0 {
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	} else {
		next.Items[idx].Qty = qty
	}
	normalize(&next)
	return s.commit(ctx, next), nil
}

// Clear resets to the empty cart unconditionally. Idempotent.
func (s *Store) Clear(ctx context.Context) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, domain.EmptyCart()), nil
}

// Snapshot returns the current cart by value for checkout handoff.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

func (s *Store) commit(ctx context.Context, next domain.Cart) Mutation {
	s.cart = next
	m := Mutation{Cart: next.Clone()}
	if s.repo == nil {
		return m
	}
	if err := s.repo.Save(ctx, next.Clone()); err != nil {
		s.lg.Warn("cart_persist_failed", zap.Error(err))
		m.PersistErr = err
	}
	return m
}

func validate(vendor domain.Vendor, item domain.MenuItem) error {
	if vendor.ID == "" || item.ID == "" || item.UnitPrice < 0 {
		return domain.ErrInvalidItem
	}
	return nil
}

// normalize restores the empty-cart invariant and the cached total after a
// line removal or quantity change.
func normalize(c *domain.Cart) {
	if c.IsEmpty() {
		*c = domain.EmptyCart()
		return
	}
	c.Total = c.ComputeTotal()
}
