package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// PostgresRepository implements the tenant repository on top of the registry store.
type PostgresRepository struct {
	store *persistence.TenantStore
}

var _ service.Repository = (*PostgresRepository)(nil)

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]tenant.Tenant, int, error) {
	return r.store.List(ctx, limit, offset)
}

func (r *PostgresRepository) Create(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	created, err := r.store.Create(ctx, t)
	if errors.Is(err, persistence.ErrConflict) {
		return tenant.Tenant{}, service.ErrConflictSlug
	}
	return created, err
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	t, err := r.store.GetByID(ctx, id)
	return t, mapTenantErr(err)
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (tenant.Tenant, error) {
	t, err := r.store.SetStatus(ctx, id, status)
	return t, mapTenantErr(err)
}

func (r *PostgresRepository) AddDomain(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error) {
	d, err := r.store.AddDomain(ctx, tenantID, domain)
	if errors.Is(err, persistence.ErrConflict) {
		return tenant.Domain{}, service.ErrConflictDomain
	}
	return d, err
}

func (r *PostgresRepository) SetDomainStatus(ctx context.Context, domain string, status tenant.DomainStatus) (tenant.Domain, error) {
	d, err := r.store.SetDomainStatus(ctx, domain, status)
	if errors.Is(err, persistence.ErrNotFound) {
		return tenant.Domain{}, service.ErrDomainNotFound
	}
	return d, err
}

func (r *PostgresRepository) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error) {
	return r.store.ListDomains(ctx, tenantID)
}

func mapTenantErr(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}
