package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInsufficientStock is returned when a reservation or decrement would take
	// available stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStateConflict is returned when a row is not in the state a transition expects.
	ErrStateConflict = errors.New("unexpected row state")
)

// ReservationStatus is the lifecycle of a stock reservation.
type ReservationStatus string

const (
	ReservationOpen      ReservationStatus = "open"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

type Product struct {
	ID                uuid.UUID
	SKU               string
	Name              string
	UnitPrice         int64
	OnHand            int
	Reserved          int
	LowStockThreshold int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Available is stock that is neither sold nor held by an open reservation.
func (p Product) Available() int {
	return p.OnHand - p.Reserved
}

// LowOnStock reports whether the product reached its alert threshold.
func (p Product) LowOnStock() bool {
	return p.OnHand <= p.LowStockThreshold
}

type StockLine struct {
	ProductID uuid.UUID
	Quantity  int
}

type Reservation struct {
	ID        uuid.UUID
	Status    ReservationStatus
	Lines     []StockLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateProductParams struct {
	ID                uuid.UUID
	SKU               string
	Name              string
	UnitPrice         int64
	OnHand            int
	LowStockThreshold int
}

const productColumns = `product_id, sku, name, unit_price, on_hand, reserved, low_stock_threshold, created_at, updated_at`

// InventoryStore holds the product and reservation statements. Every method runs on
// a tenant-bound transaction, so row level security limits it to that tenant.
type InventoryStore struct{}

func NewInventoryStore() *InventoryStore {
	return &InventoryStore{}
}

func (s *InventoryStore) CreateProduct(ctx context.Context, tx *TenantTx, params CreateProductParams) (Product, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO commerce.products (product_id, sku, name, unit_price, on_hand, low_stock_threshold)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING `+productColumns,
		params.ID, params.SKU, params.Name, params.UnitPrice, params.OnHand, params.LowStockThreshold)
	p, err := scanProduct(row)
	if err != nil {
		return Product{}, mapInventoryError(err)
	}
	return p, nil
}

func (s *InventoryStore) GetProduct(ctx context.Context, tx *TenantTx, id uuid.UUID) (Product, error) {
	return scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM commerce.products WHERE product_id = $1`, id))
}

// LockProducts returns the requested products and holds their row locks until the
// transaction ends. Missing ids are simply absent from the result.
func (s *InventoryStore) LockProducts(ctx context.Context, tx *TenantTx, ids []uuid.UUID) ([]Product, error) {
	return Collect(ctx, tx, collectProduct, `
        SELECT `+productColumns+`
        FROM commerce.products
        WHERE product_id = ANY($1)
        ORDER BY product_id
        FOR UPDATE`, ids)
}

func (s *InventoryStore) ListProducts(ctx context.Context, tx *TenantTx, limit, offset int) ([]Product, error) {
	return Collect(ctx, tx, collectProduct, `
        SELECT `+productColumns+`
        FROM commerce.products
        ORDER BY sku
        LIMIT $1 OFFSET $2`, limit, offset)
}

// SetStock overwrites the on-hand quantity and, when given, the alert threshold.
func (s *InventoryStore) SetStock(ctx context.Context, tx *TenantTx, id uuid.UUID, onHand int, threshold *int) (Product, error) {
	row := tx.QueryRow(ctx, `
        UPDATE commerce.products
        SET on_hand = $2,
            low_stock_threshold = COALESCE($3, low_stock_threshold),
            updated_at = now()
        WHERE product_id = $1
        RETURNING `+productColumns, id, onHand, threshold)
	p, err := scanProduct(row)
	if err != nil {
		return Product{}, mapInventoryError(err)
	}
	return p, nil
}

// Reserve opens a reservation and holds stock for every line. It fails with
// ErrInsufficientStock naming the first product that cannot be covered.
func (s *InventoryStore) Reserve(ctx context.Context, tx *TenantTx, reservationID uuid.UUID, lines []StockLine) error {
	if _, err := tx.Exec(ctx, `INSERT INTO commerce.stock_reservations (reservation_id) VALUES ($1)`, reservationID); err != nil {
		return mapInventoryError(err)
	}

	for _, line := range lines {
		tag, err := tx.Exec(ctx, `
            UPDATE commerce.products
            SET reserved = reserved + $2, updated_at = now()
            WHERE product_id = $1 AND on_hand - reserved >= $2`, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("reserve product %s: %w", line.ProductID, mapInventoryError(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: product %s", ErrInsufficientStock, line.ProductID)
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO commerce.stock_reservation_lines (reservation_id, product_id, quantity)
            VALUES ($1, $2, $3)`, reservationID, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("record reservation line: %w", mapInventoryError(err))
		}
	}
	return nil
}

// Release returns the stock of an open reservation. Releasing a reservation that is
// no longer open does nothing, so it is safe to repeat.
func (s *InventoryStore) Release(ctx context.Context, tx *TenantTx, reservationID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
        WITH released AS (
            UPDATE commerce.stock_reservations
            SET status = 'released', updated_at = now()
            WHERE reservation_id = $1 AND status = 'open'
            RETURNING tenant_id, reservation_id
        )
        UPDATE commerce.products p
        SET reserved = p.reserved - l.quantity, updated_at = now()
        FROM commerce.stock_reservation_lines l
        JOIN released r ON r.tenant_id = l.tenant_id AND r.reservation_id = l.reservation_id
        WHERE p.tenant_id = l.tenant_id AND p.product_id = l.product_id`, reservationID)
	if err != nil {
		return fmt.Errorf("release reservation %s: %w", reservationID, err)
	}
	return nil
}

func (s *InventoryStore) GetReservation(ctx context.Context, tx *TenantTx, id uuid.UUID) (Reservation, error) {
	var r Reservation
	err := tx.QueryRow(ctx, `
        SELECT reservation_id, status, created_at, updated_at
        FROM commerce.stock_reservations
        WHERE reservation_id = $1`, id).Scan(&r.ID, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}

	lines, err := Collect(ctx, tx, func(row pgx.CollectableRow) (StockLine, error) {
		var l StockLine
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	}, `
        SELECT product_id, quantity
        FROM commerce.stock_reservation_lines
        WHERE reservation_id = $1
        ORDER BY product_id`, id)
	if err != nil {
		return Reservation{}, err
	}
	r.Lines = lines
	return r, nil
}

// TransitionReservation moves a reservation from one status to another.
func (s *InventoryStore) TransitionReservation(ctx context.Context, tx *TenantTx, id uuid.UUID, from, to ReservationStatus) error {
	tag, err := tx.Exec(ctx, `
        UPDATE commerce.stock_reservations
        SET status = $3, updated_at = now()
        WHERE reservation_id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reservation %s is not %s", ErrStateConflict, id, from)
	}
	return nil
}

// Decrement consumes the reserved stock of a reservation: both on-hand and reserved
// drop by each line's quantity. It returns the updated products.
func (s *InventoryStore) Decrement(ctx context.Context, tx *TenantTx, reservationID uuid.UUID) ([]Product, error) {
	products, err := Collect(ctx, tx, collectProduct, `
        UPDATE commerce.products p
        SET on_hand = p.on_hand - l.quantity,
            reserved = p.reserved - l.quantity,
            updated_at = now()
        FROM commerce.stock_reservation_lines l
        WHERE l.reservation_id = $1 AND p.tenant_id = l.tenant_id AND p.product_id = l.product_id
        RETURNING p.product_id, p.sku, p.name, p.unit_price, p.on_hand, p.reserved,
                  p.low_stock_threshold, p.created_at, p.updated_at`, reservationID)
	if err != nil {
		return nil, mapInventoryError(err)
	}
	return products, nil
}

// Restock undoes Decrement for the same reservation.
func (s *InventoryStore) Restock(ctx context.Context, tx *TenantTx, reservationID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
        UPDATE commerce.products p
        SET on_hand = p.on_hand + l.quantity,
            reserved = p.reserved + l.quantity,
            updated_at = now()
        FROM commerce.stock_reservation_lines l
        WHERE l.reservation_id = $1 AND p.tenant_id = l.tenant_id AND p.product_id = l.product_id`, reservationID)
	if err != nil {
		return fmt.Errorf("restock reservation %s: %w", reservationID, mapInventoryError(err))
	}
	return nil
}

// Reconcile recomputes reserved stock from open reservations and returns how many
// products were corrected. An empty id list reconciles every product.
func (s *InventoryStore) Reconcile(ctx context.Context, tx *TenantTx, productIDs []uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE commerce.products p
        SET reserved = held.quantity, updated_at = now()
        FROM (
            SELECT pr.product_id,
                   COALESCE(SUM(l.quantity) FILTER (WHERE r.status = 'open'), 0) AS quantity
            FROM commerce.products pr
            LEFT JOIN commerce.stock_reservation_lines l
                   ON l.tenant_id = pr.tenant_id AND l.product_id = pr.product_id
            LEFT JOIN commerce.stock_reservations r
                   ON r.tenant_id = l.tenant_id AND r.reservation_id = l.reservation_id
            WHERE COALESCE(cardinality($1::uuid[]), 0) = 0 OR pr.product_id = ANY($1::uuid[])
            GROUP BY pr.product_id
        ) held
        WHERE p.product_id = held.product_id AND p.reserved <> held.quantity`, productIDs)
	if err != nil {
		return 0, fmt.Errorf("reconcile reserved stock: %w", mapInventoryError(err))
	}
	return tag.RowsAffected(), nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.OnHand, &p.Reserved, &p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func collectProduct(row pgx.CollectableRow) (Product, error) {
	return scanProduct(row)
}

// mapInventoryError turns check violations into ErrInsufficientStock and unique
// violations into ErrConflict.
func mapInventoryError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514":
			return fmt.Errorf("%w: %s", ErrInsufficientStock, pgErr.ConstraintName)
		case "23505":
			return ErrConflict
		}
	}
	return err
}
