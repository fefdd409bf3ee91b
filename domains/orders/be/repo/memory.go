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

// MemoryRepository keeps orders in process, partitioned by the tenant of the handle.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]map[uuid.UUID]persistence.Order
	now    func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[uuid.UUID]map[uuid.UUID]persistence.Order),
		now:    time.Now,
	}
}

// Count returns how many orders tenantID has.
func (r *MemoryRepository) Count(tenantID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders[tenantID])
}

func (r *MemoryRepository) Create(_ context.Context, tx *persistence.TenantTx, o persistence.Order) (persistence.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := r.tenantOrders(tx.TenantID())
	if _, ok := orders[o.ID]; ok {
		return persistence.Order{}, persistence.ErrConflict
	}
	now := r.now()
	o.Lines = append([]persistence.OrderLine(nil), o.Lines...)
	o.CreatedAt = now
	o.UpdatedAt = now
	orders[o.ID] = o
	return o, nil
}

func (r *MemoryRepository) Get(_ context.Context, tx *persistence.TenantTx, id uuid.UUID) (persistence.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.tenantOrders(tx.TenantID())[id]
	if !ok {
		return persistence.Order{}, persistence.ErrNotFound
	}
	return o, nil
}

func (r *MemoryRepository) List(_ context.Context, tx *persistence.TenantTx, limit, offset int) ([]persistence.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]persistence.Order, 0, len(r.orders[tx.TenantID()]))
	for _, o := range r.orders[tx.TenantID()] {
		o.Lines = nil
		items = append(items, o)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	if offset >= len(items) {
		return []persistence.Order{}, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], nil
}

func (r *MemoryRepository) Transition(_ context.Context, tx *persistence.TenantTx, id uuid.UUID, from, to persistence.OrderStatus) error {
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

func (r *MemoryRepository) tenantOrders(tenantID uuid.UUID) map[uuid.UUID]persistence.Order {
	orders, ok := r.orders[tenantID]
	if !ok {
		orders = make(map[uuid.UUID]persistence.Order)
		r.orders[tenantID] = orders
	}
	return orders
}
