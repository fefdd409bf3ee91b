package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
)

// MemoryRepository is an in-process Repository for tests, partitioned by the tenant
// of the transaction handle.
type MemoryRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]map[uuid.UUID]persistence.Order
	payments map[uuid.UUID]map[uuid.UUID]persistence.Payment
	now      func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   make(map[uuid.UUID]map[uuid.UUID]persistence.Order),
		payments: make(map[uuid.UUID]map[uuid.UUID]persistence.Payment),
		now:      time.Now,
	}
}

// SeedOrder stores an order for tenantID as is.
func (r *MemoryRepository) SeedOrder(tenantID uuid.UUID, o persistence.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenantOrders(tenantID)[o.ID] = o
}

// Order returns the stored order of tenantID.
func (r *MemoryRepository) Order(tenantID, id uuid.UUID) (persistence.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.tenantOrders(tenantID)[id]
	return o, ok
}

// Payments returns every payment row of tenantID, voided ones included.
func (r *MemoryRepository) Payments(tenantID uuid.UUID) []persistence.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persistence.Payment, 0, len(r.payments[tenantID]))
	for _, p := range r.payments[tenantID] {
		out = append(out, p)
	}
	return out
}

func (r *MemoryRepository) GetOrder(_ context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.tenantOrders(tx.TenantID())[id]
	if !ok {
		return persistence.Order{}, persistence.ErrNotFound
	}
	return o, nil
}

func (r *MemoryRepository) TransitionOrder(_ context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := r.tenantOrders(tx.TenantID())
	o, ok := orders[id]
	if !ok || o.Status != from {
		return fmt.Errorf("%w: order %s is not %s", persistence.ErrStateConflict, id, from)
	}
	o.Status = to
	o.UpdatedAt = r.now()
	orders[id] = o
	return nil
}

func (r *MemoryRepository) SetOrderTransaction(_ context.Context, tx *persistence.TenantTx, id uuid.UUID, provider string, transactionID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := r.tenantOrders(tx.TenantID())
	o, ok := orders[id]
	if !ok {
		return persistence.ErrNotFound
	}
	o.PaymentProvider = provider
	o.TransactionID = transactionID
	o.UpdatedAt = r.now()
	orders[id] = o
	return nil
}

func (r *MemoryRepository) RecordPayment(_ context.Context, tx *persistence.TenantTx, p persistence.Payment) (persistence.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payments := r.tenantPayments(tx.TenantID())
	for _, existing := range payments {
		if existing.OrderID == p.OrderID && existing.Status == persistence.PaymentSettled {
			return persistence.Payment{}, persistence.ErrConflict
		}
	}
	now := r.now()
	p.Status = persistence.PaymentSettled
	p.CreatedAt = now
	p.UpdatedAt = now
	payments[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) VoidPayment(_ context.Context, tx *persistence.TenantTx, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payments := r.tenantPayments(tx.TenantID())
	if p, ok := payments[id]; ok && p.Status == persistence.PaymentSettled {
		p.Status = persistence.PaymentVoided
		p.UpdatedAt = r.now()
		payments[id] = p
	}
	return nil
}

func (r *MemoryRepository) GetSettledPayment(_ context.Context, tx *persistence.TenantTx, orderID uuid.UUID) (persistence.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.tenantPayments(tx.TenantID()) {
		if p.OrderID == orderID && p.Status == persistence.PaymentSettled {
			return p, nil
		}
	}
	return persistence.Payment{}, persistence.ErrNotFound
}

func (r *MemoryRepository) tenantOrders(tenantID uuid.UUID) map[uuid.UUID]persistence.Order {
	orders, ok := r.orders[tenantID]
	if !ok {
		orders = make(map[uuid.UUID]persistence.Order)
		r.orders[tenantID] = orders
	}
	return orders
}

func (r *MemoryRepository) tenantPayments(tenantID uuid.UUID) map[uuid.UUID]persistence.Payment {
	payments, ok := r.payments[tenantID]
	if !ok {
		payments = make(map[uuid.UUID]persistence.Payment)
		r.payments[tenantID] = payments
	}
	return payments
}
