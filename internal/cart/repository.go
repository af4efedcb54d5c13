package cart

import (
	"context"

	"soko-orders/internal/domain"
)

// Repository is the durable local store for the single pending cart.
// Load is called once at construction; Save after every mutation.
type Repository interface {
	Load(ctx context.Context) (domain.Cart, bool, error)
	Save(ctx context.Context, cart domain.Cart) error
}
