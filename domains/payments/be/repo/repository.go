package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
)

// Repository exposes the order and payment ledger statements settlement needs.
type Repository interface {
	GetOrder(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Order, error)
	TransitionOrder(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.OrderStatus) error
	SetOrderTransaction(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, provider string, transactionID *string) error
	RecordPayment(ctx context.Context, tx *persistence.TenantTx, p persistence.Payment) (persistence.Payment, error)
	VoidPayment(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) error
	GetSettledPayment(ctx context.Context, tx *persistence.TenantTx, orderID uuid.UUID) (persistence.Payment, error)
}

type postgresRepository struct {
	orders   *persistence.OrderStore
	payments *persistence.PaymentStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(orders *persistence.OrderStore, payments *persistence.PaymentStore) Repository {
	if orders == nil {
		panic("order store is required")
	}
	if payments == nil {
		panic("payment store is required")
	}
	return &postgresRepository{orders: orders, payments: payments}
}

func (r *postgresRepository) GetOrder(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Order, error) {
	return r.orders.Get(ctx, tx, id)
}

func (r *postgresRepository) TransitionOrder(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.OrderStatus) error {
	return r.orders.Transition(ctx, tx, id, from, to)
}

func (r *postgresRepository) SetOrderTransaction(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID, provider string, transactionID *string) error {
	return r.orders.SetTransaction(ctx, tx, id, provider, transactionID)
}

func (r *postgresRepository) RecordPayment(ctx context.Context, tx *persistence.TenantTx, p persistence.Payment) (persistence.Payment, error) {
	var out persistence.Payment
	err := tx.Savepoint(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.payments.Record(ctx, tx, p)
		return err
	})
	return out, err
}

func (r *postgresRepository) VoidPayment(ctx context.Context, tx *persistence.TenantTx, id uuid.UUID) error {
	return r.payments.Void(ctx, tx, id)
}

func (r *postgresRepository) GetSettledPayment(ctx context.Context, tx *persistence.TenantTx, orderID uuid.UUID) (persistence.Payment, error) {
	return r.payments.GetSettledByOrder(ctx, tx, orderID)
}
