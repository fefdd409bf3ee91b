package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
)

// Repository exposes the inventory statements the service needs. Every call takes the
// tenant-bound handle; there is no way to reach stock rows without one.
type Repository interface {
	CreateProduct(ctx context.Context, tx *persistence.TenantTx, params persistence.CreateProductParams) (persistence.Product, error)
	GetProduct(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Product, error)
	ListProducts(ctx context.Context, tx *persistence.TenantTx, limit, offset int) ([]persistence.Product, error)
	LockProducts(ctx context.Context, tx *persistence.TenantTx, ids []uuid.UUID) ([]persistence.Product, error)
	SetStock(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, onHand int, threshold *int) (persistence.Product, error)
	Reserve(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID, lines []persistence.StockLine) error
	Release(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) error
	GetReservation(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Reservation, error)
	Decrement(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) ([]persistence.Product, error)
	Restock(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) error
	TransitionReservation(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.ReservationStatus) error
	Reconcile(ctx context.Context, tx *persistence.TenantTx, productIDs []uuid.UUID) (int64, error)
}

type postgresRepository struct {
	store *persistence.InventoryStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
// Writes run behind a savepoint so a failed statement leaves the surrounding
// transaction usable for compensations.
func NewPostgresRepository(store *persistence.InventoryStore) Repository {
	if store == nil {
		panic("inventory store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) CreateProduct(ctx context.Context, tx *persistence.TenantTx, params persistence.CreateProductParams) (persistence.Product, error) {
	var out persistence.Product
	err := tx.Savepoint(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.store.CreateProduct(ctx, tx, params)
		return err
	})
	return out, err
}

func (r *postgresRepository) GetProduct(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Product, error) {
	return r.store.GetProduct(ctx, tx, id)
}

func (r *postgresRepository) ListProducts(ctx context.Context, tx *persistence.TenantTx, limit, offset int) ([]persistence.Product, error) {
	return r.store.ListProducts(ctx, tx, limit, offset)
}

func (r *postgresRepository) LockProducts(ctx context.Context, tx *persistence.TenantTx, ids []uuid.UUID) ([]persistence.Product, error) {
	return r.store.LockProducts(ctx, tx, ids)
}

func (r *postgresRepository) SetStock(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, onHand int, threshold *int) (persistence.Product, error) {
	var out persistence.Product
	err := tx.Savepoint(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.store.SetStock(ctx, tx, id, onHand, threshold)
		return err
	})
	return out, err
}

func (r *postgresRepository) Reserve(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID, lines []persistence.StockLine) error {
	return tx.Savepoint(ctx, func(ctx context.Context) error {
		return r.store.Reserve(ctx, tx, reservationID, lines)
	})
}

func (r *postgresRepository) Release(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) error {
	return tx.Savepoint(ctx, func(ctx context.Context) error {
		return r.store.Release(ctx, tx, reservationID)
	})
}

func (r *postgresRepository) GetReservation(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Reservation, error) {
	return r.store.GetReservation(ctx, tx, id)
}

func (r *postgresRepository) Decrement(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) ([]persistence.Product, error) {
	var out []persistence.Product
	err := tx.Savepoint(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.store.Decrement(ctx, tx, reservationID)
		return err
	})
	return out, err
}

func (r *postgresRepository) Restock(ctx context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) error {
	return tx.Savepoint(ctx, func(ctx context.Context) error {
		return r.store.Restock(ctx, tx, reservationID)
	})
}

func (r *postgresRepository) TransitionReservation(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.ReservationStatus) error {
	return r.store.TransitionReservation(ctx, tx, id, from, to)
}

func (r *postgresRepository) Reconcile(ctx context.Context, tx *persistence.TenantTx, productIDs []uuid.UUID) (int64, error) {
	return r.store.Reconcile(ctx, tx, productIDs)
}
