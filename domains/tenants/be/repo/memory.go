package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and local runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]tenant.Tenant
	bySlug  map[string]uuid.UUID
	domains map[string]tenant.Domain
	now     func() time.Time
}

var (
	_ service.Repository = (*MemoryRepository)(nil)
	_ tenant.Directory   = (*MemoryRepository)(nil)
)

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]tenant.Tenant),
		bySlug:  make(map[string]uuid.UUID),
		domains: make(map[string]tenant.Domain),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]tenant.Tenant, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]tenant.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Slug < items[j].Slug
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	if offset >= total {
		return []tenant.Tenant{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (r *MemoryRepository) Create(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySlug[t.Slug]; exists {
		return tenant.Tenant{}, service.ErrConflictSlug
	}
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.byID[t.ID] = t
	r.bySlug[t.Slug] = t.ID
	return t, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return tenant.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, id uuid.UUID, status tenant.Status) (tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return tenant.Tenant{}, service.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = r.now()
	r.byID[id] = t
	return t, nil
}

func (r *MemoryRepository) AddDomain(_ context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.domains[domain]; exists {
		return tenant.Domain{}, service.ErrConflictDomain
	}
	now := r.now()
	d := tenant.Domain{Domain: domain, TenantID: tenantID, Status: tenant.DomainPending, CreatedAt: now, UpdatedAt: now}
	r.domains[domain] = d
	return d, nil
}

func (r *MemoryRepository) SetDomainStatus(_ context.Context, domain string, status tenant.DomainStatus) (tenant.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.domains[domain]
	if !ok {
		return tenant.Domain{}, service.ErrDomainNotFound
	}
	d.Status = status
	d.UpdatedAt = r.now()
	r.domains[domain] = d
	return d, nil
}

func (r *MemoryRepository) ListDomains(_ context.Context, tenantID uuid.UUID) ([]tenant.Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tenant.Domain
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// FindBySlug lets the repository back a tenant.Resolver in local runs.
func (r *MemoryRepository) FindBySlug(_ context.Context, slug string) (tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySlug[slug]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) FindByDomain(_ context.Context, domain string) (tenant.Tenant, tenant.Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[domain]
	if !ok {
		return tenant.Tenant{}, tenant.Domain{}, tenant.ErrNotFound
	}
	return r.byID[d.TenantID], d, nil
}
