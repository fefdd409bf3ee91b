package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PaymentStatus string

const (
	PaymentSettled PaymentStatus = "settled"
	PaymentVoided  PaymentStatus = "voided"
)

type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	TransactionID string
	Provider      string
	Amount        int64
	Currency      string
	Status        PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const paymentColumns = `payment_id, order_id, transaction_id, provider, amount, currency, status, created_at, updated_at`

// PaymentStore holds the payment ledger statements. An order has at most one settled
// payment; recording a second returns ErrConflict.
type PaymentStore struct{}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{}
}

func (s *PaymentStore) Record(ctx context.Context, tx *TenantTx, p Payment) (Payment, error) {
	if p.ID == uuid.Nil {
		return Payment{}, errors.New("payment id is required")
	}
	created, err := scanPayment(tx.QueryRow(ctx, `
        INSERT INTO commerce.payments (payment_id, order_id, transaction_id, provider, amount, currency, status)
        VALUES ($1, $2, $3, $4, $5, $6, 'settled')
        RETURNING `+paymentColumns, p.ID, p.OrderID, p.TransactionID, p.Provider, p.Amount, p.Currency))
	if err != nil {
		return Payment{}, mapConflict(err)
	}
	return created, nil
}

// Void marks a settled payment voided. Voiding twice is a no-op.
func (s *PaymentStore) Void(ctx context.Context, tx *TenantTx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
        UPDATE commerce.payments SET status = 'voided', updated_at = now()
        WHERE payment_id = $1 AND status = 'settled'`, id)
	return err
}

func (s *PaymentStore) GetSettledByOrder(ctx context.Context, tx *TenantTx, orderID uuid.UUID) (Payment, error) {
	return scanPayment(tx.QueryRow(ctx, `
        SELECT `+paymentColumns+` FROM commerce.payments
        WHERE order_id = $1 AND status = 'settled'`, orderID))
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	if err := row.Scan(&p.ID, &p.OrderID, &p.TransactionID, &p.Provider, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	return p, nil
}
