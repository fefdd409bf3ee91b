package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
)

// MemoryRepository keeps stock in process, partitioned by the tenant of the handle.
// It is meant for tests; nothing it holds is rolled back with the transaction.
type MemoryRepository struct {
	mu           sync.Mutex
	products     map[uuid.UUID]map[uuid.UUID]persistence.Product
	reservations map[uuid.UUID]map[uuid.UUID]persistence.Reservation
	now          func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products:     make(map[uuid.UUID]map[uuid.UUID]persistence.Product),
		reservations: make(map[uuid.UUID]map[uuid.UUID]persistence.Reservation),
		now:          time.Now,
	}
}

// Seed stores a product for tenantID as is.
func (r *MemoryRepository) Seed(tenantID uuid.UUID, p persistence.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenantProducts(tenantID)[p.ID] = p
}

// Product returns the stored product of tenantID.
func (r *MemoryRepository) Product(tenantID, id uuid.UUID) (persistence.Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.tenantProducts(tenantID)[id]
	return p, ok
}

// Reservation returns the stored reservation of tenantID.
func (r *MemoryRepository) Reservation(tenantID, id uuid.UUID) (persistence.Reservation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.tenantReservations(tenantID)[id]
	return res, ok
}

func (r *MemoryRepository) CreateProduct(_ context.Context, tx *persistence.TenantTx, params persistence.CreateProductParams) (persistence.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := r.tenantProducts(tx.TenantID())
	for _, p := range products {
		if p.SKU == params.SKU {
			return persistence.Product{}, persistence.ErrConflict
		}
	}
	now := r.now()
	p := persistence.Product{
		ID:                params.ID,
		SKU:               params.SKU,
		Name:              params.Name,
		UnitPrice:         params.UnitPrice,
		OnHand:            params.OnHand,
		LowStockThreshold: params.LowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	products[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) GetProduct(_ context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.tenantProducts(tx.TenantID())[id]
	if !ok {
		return persistence.Product{}, persistence.ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) ListProducts(_ context.Context, tx *persistence.TenantTx, limit, offset int) ([]persistence.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]persistence.Product, 0)
	for _, p := range r.tenantProducts(tx.TenantID()) {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })

	start := min(offset, len(items))
	end := min(start+limit, len(items))
	return items[start:end], nil
}

func (r *MemoryRepository) LockProducts(_ context.Context, tx *persistence.TenantTx, ids []uuid.UUID) ([]persistence.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := r.tenantProducts(tx.TenantID())
	var out []persistence.Product
	for _, id := range ids {
		if p, ok := products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetStock(_ context.Context, tx *persistence.TenantTx, id uuid.UUID, onHand int, threshold *int) (persistence.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := r.tenantProducts(tx.TenantID())
	p, ok := products[id]
	if !ok {
		return persistence.Product{}, persistence.ErrNotFound
	}
	if onHand < p.Reserved {
		return persistence.Product{}, persistence.ErrInsufficientStock
	}
	p.OnHand = onHand
	if threshold != nil {
		p.LowStockThreshold = *threshold
	}
	p.UpdatedAt = r.now()
	products[id] = p
	return p, nil
}

func (r *MemoryRepository) Reserve(_ context.Context, tx *persistence.TenantTx, reservationID uuid.UUID, lines []persistence.StockLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := r.tenantProducts(tx.TenantID())
	reservations := r.tenantReservations(tx.TenantID())
	if _, ok := reservations[reservationID]; ok {
		return persistence.ErrConflict
	}
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok || p.Available() < line.Quantity {
			return fmt.Errorf("%w: product %s", persistence.ErrInsufficientStock, line.ProductID)
		}
	}
	for _, line := range lines {
		p := products[line.ProductID]
		p.Reserved += line.Quantity
		products[line.ProductID] = p
	}
	now := r.now()
	reservations[reservationID] = persistence.Reservation{
		ID:        reservationID,
		Status:    persistence.ReservationOpen,
		Lines:     append([]persistence.StockLine(nil), lines...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (r *MemoryRepository) Release(_ context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservations := r.tenantReservations(tx.TenantID())
	res, ok := reservations[reservationID]
	if !ok || res.Status != persistence.ReservationOpen {
		return nil
	}
	products := r.tenantProducts(tx.TenantID())
	for _, line := range res.Lines {
		p := products[line.ProductID]
		p.Reserved -= line.Quantity
		products[line.ProductID] = p
	}
	res.Status = persistence.ReservationReleased
	reservations[reservationID] = res
	return nil
}

func (r *MemoryRepository) GetReservation(_ context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.tenantReservations(tx.TenantID())[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return res, nil
}

func (r *MemoryRepository) Decrement(_ context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) ([]persistence.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.tenantReservations(tx.TenantID())[reservationID]
	if !ok {
		return nil, nil
	}
	products := r.tenantProducts(tx.TenantID())
	out := make([]persistence.Product, 0, len(res.Lines))
	for _, line := range res.Lines {
		p := products[line.ProductID]
		p.OnHand -= line.Quantity
		p.Reserved -= line.Quantity
		products[line.ProductID] = p
		out = append(out, p)
	}
	return out, nil
}

func (r *MemoryRepository) Restock(_ context.Context, tx *persistence.TenantTx, reservationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.tenantReservations(tx.TenantID())[reservationID]
	if !ok {
		return nil
	}
	products := r.tenantProducts(tx.TenantID())
	for _, line := range res.Lines {
		p := products[line.ProductID]
		p.OnHand += line.Quantity
		p.Reserved += line.Quantity
		products[line.ProductID] = p
	}
	return nil
}

func (r *MemoryRepository) TransitionReservation(_ context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.ReservationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservations := r.tenantReservations(tx.TenantID())
	res, ok := reservations[id]
	if !ok || res.Status != from {
		return fmt.Errorf("%w: reservation %s is not %s", persistence.ErrStateConflict, id, from)
	}
	res.Status = to
	reservations[id] = res
	return nil
}

func (r *MemoryRepository) Reconcile(_ context.Context, tx *persistence.TenantTx, productIDs []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := make(map[uuid.UUID]int)
	for _, res := range r.tenantReservations(tx.TenantID()) {
		if res.Status != persistence.ReservationOpen {
			continue
		}
		for _, line := range res.Lines {
			held[line.ProductID] += line.Quantity
		}
	}

	products := r.tenantProducts(tx.TenantID())
	wanted := make(map[uuid.UUID]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}

	var fixed int64
	for id, p := range products {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		if p.Reserved != held[id] {
			p.Reserved = held[id]
			products[id] = p
			fixed++
		}
	}
	return fixed, nil
}

func (r *MemoryRepository) tenantProducts(tenantID uuid.UUID) map[uuid.UUID]persistence.Product {
	m, ok := r.products[tenantID]
	if !ok {
		m = make(map[uuid.UUID]persistence.Product)
		r.products[tenantID] = m
	}
	return m
}

func (r *MemoryRepository) tenantReservations(tenantID uuid.UUID) map[uuid.UUID]persistence.Reservation {
	m, ok := r.reservations[tenantID]
	if !ok {
		m = make(map[uuid.UUID]persistence.Reservation)
		r.reservations[tenantID] = m
	}
	return m
}
