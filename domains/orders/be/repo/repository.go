package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
)

// Repository defines persistence operations for orders. Every method works on the
// tenant-bound handle of the caller's scope.
type Repository interface {
	Create(ctx context.Context, tx *persistence.TenantTx, o persistence.Order) (persistence.Order, error)
	Get(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Order, error)
	List(ctx context.Context, tx *persistence.TenantTx, limit, offset int) ([]persistence.Order, error)
	Transition(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.OrderStatus) error
}

type postgresRepository struct {
	store *persistence.OrderStore
}

// NewPostgresRepository builds a Repository backed by the shared OrderStore.
func NewPostgresRepository(store *persistence.OrderStore) Repository {
	if store == nil {
		panic("order store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Create(ctx context.Context, tx *persistence.TenantTx, o persistence.Order) (persistence.Order, error) {
	var created persistence.Order
	err := tx.Savepoint(ctx, func(ctx context.Context) error {
		var err error
		created, err = r.store.Create(ctx, tx, o)
		return err
	})
	return created, err
}

func (r *postgresRepository) Get(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Order, error) {
	return r.store.Get(ctx, tx, id)
}

func (r *postgresRepository) List(ctx context.Context, tx *persistence.TenantTx, limit, offset int) ([]persistence.Order, error) {
	return r.store.List(ctx, tx, limit, offset)
}

func (r *postgresRepository) Transition(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.OrderStatus) error {
	return r.store.Transition(ctx, tx, id, from, to)
}
