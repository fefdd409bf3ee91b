package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderStatus is the payment lifecycle of an order.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderAuthorized     OrderStatus = "authorized"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
)

type OrderLine struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice int64
}

type Order struct {
	ID              uuid.UUID
	CustomerEmail   string
	Status          OrderStatus
	Currency        string
	Total           int64
	PaymentProvider string
	TransactionID   *string
	ReservationID   uuid.UUID
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const orderColumns = `order_id, customer_email, status, currency, total, payment_provider, transaction_id, reservation_id, created_at, updated_at`

// OrderStore holds the order statements.
type OrderStore struct{}

func NewOrderStore() *OrderStore {
	return &OrderStore{}
}

// Create inserts the order header and its lines.
func (s *OrderStore) Create(ctx context.Context, tx *TenantTx, o Order) (Order, error) {
	if o.ID == uuid.Nil {
		return Order{}, errors.New("order id is required")
	}

	created, err := scanOrder(tx.QueryRow(ctx, `
        INSERT INTO commerce.orders (order_id, customer_email, status, currency, total, payment_provider, transaction_id, reservation_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+orderColumns,
		o.ID, o.CustomerEmail, o.Status, o.Currency, o.Total, o.PaymentProvider, o.TransactionID, o.ReservationID))
	if err != nil {
		return Order{}, mapConflict(err)
	}

	for _, line := range o.Lines {
		if _, err := tx.Exec(ctx, `
            INSERT INTO commerce.order_lines (order_id, product_id, quantity, unit_price)
            VALUES ($1, $2, $3, $4)`, o.ID, line.ProductID, line.Quantity, line.UnitPrice); err != nil {
			return Order{}, fmt.Errorf("insert order line: %w", mapConflict(err))
		}
	}
	created.Lines = o.Lines
	return created, nil
}

// Get loads an order with its lines.
func (s *OrderStore) Get(ctx context.Context, tx *TenantTx, id uuid.UUID) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM commerce.orders WHERE order_id = $1`, id))
	if err != nil {
		return Order{}, err
	}

	lines, err := Collect(ctx, tx, func(row pgx.CollectableRow) (OrderLine, error) {
		var l OrderLine
		err := row.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice)
		return l, err
	}, `SELECT product_id, quantity, unit_price FROM commerce.order_lines WHERE order_id = $1 ORDER BY product_id`, id)
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines
	return o, nil
}

// List returns order headers, newest first. Lines are not loaded.
func (s *OrderStore) List(ctx context.Context, tx *TenantTx, limit, offset int) ([]Order, error) {
	return Collect(ctx, tx, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	}, `SELECT `+orderColumns+` FROM commerce.orders ORDER BY created_at DESC, order_id LIMIT $1 OFFSET $2`, limit, offset)
}

// Transition moves an order from one status to another and fails with
// ErrStateConflict when the order is not in from.
func (s *OrderStore) Transition(ctx context.Context, tx *TenantTx, id uuid.UUID, from, to OrderStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE commerce.orders SET status = $3, updated_at = now()
        WHERE order_id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s is not %s", ErrStateConflict, id, from)
	}
	return nil
}

// SetTransaction records or clears the provider transaction reference.
func (s *OrderStore) SetTransaction(ctx context.Context, tx *TenantTx, id uuid.UUID, provider string, transactionID *string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE commerce.orders SET payment_provider = $2, transaction_id = $3, updated_at = now()
        WHERE order_id = $1`, id, provider, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerEmail, &o.Status, &o.Currency, &o.Total, &o.PaymentProvider,
		&o.TransactionID, &o.ReservationID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}
