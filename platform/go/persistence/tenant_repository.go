package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

const (
	// TenantsTable defines the fully-qualified table for the tenant registry.
	TenantsTable = "platform.tenants"
	// DomainsTable holds custom domains mapped to tenants.
	DomainsTable = "platform.tenant_domains"
)

var (
	// ErrNotFound is returned when a registry row does not exist.
	ErrNotFound = tenant.ErrNotFound
	// ErrConflict is returned when a slug or domain is already taken.
	ErrConflict = errors.New("tenant registry conflict")
)

const tenantColumns = `tenant_id, slug, display_name, plan, currency, status, created_at, updated_at`

// TenantStore provides access to the tenant registry. Registry tables sit outside row
// level security; this is the one place allowed to read across tenants.
type TenantStore struct {
	pool *pgxpool.Pool
}

var _ tenant.Directory = (*TenantStore)(nil)

// NewTenantStore creates a store; assumes the platform schema has been bootstrapped.
func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

// Create inserts a tenant.
func (s *TenantStore) Create(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	if t.ID == uuid.Nil {
		return tenant.Tenant{}, errors.New("tenant id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (tenant_id, slug, display_name, plan, currency, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING %s
    `, TenantsTable, tenantColumns)

	row := s.pool.QueryRow(ctx, query, t.ID, t.Slug, t.DisplayName, t.Plan, t.Currency, t.Status)
	created, err := scanTenant(row)
	if err != nil {
		return tenant.Tenant{}, mapConflict(err)
	}
	return created, nil
}

// GetByID fetches a tenant regardless of status.
func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1`, tenantColumns, TenantsTable)
	return scanTenant(s.pool.QueryRow(ctx, query, id))
}

// FindBySlug returns the tenant owning slug, regardless of status.
func (s *TenantStore) FindBySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1`, tenantColumns, TenantsTable)
	return scanTenant(s.pool.QueryRow(ctx, query, slug))
}

// FindByDomain joins a resolvable custom domain to its active tenant.
func (s *TenantStore) FindByDomain(ctx context.Context, domain string) (tenant.Tenant, tenant.Domain, error) {
	query := fmt.Sprintf(`
        SELECT t.tenant_id, t.slug, t.display_name, t.plan, t.currency, t.status, t.created_at, t.updated_at,
               d.domain, d.tenant_id, d.status, d.created_at, d.updated_at
        FROM %s d
        JOIN %s t ON t.tenant_id = d.tenant_id
        WHERE d.domain = $1
          AND d.status IN ('verified', 'active')
          AND t.status = 'active'
    `, DomainsTable, TenantsTable)

	var t tenant.Tenant
	var d tenant.Domain
	err := s.pool.QueryRow(ctx, query, domain).Scan(
		&t.ID, &t.Slug, &t.DisplayName, &t.Plan, &t.Currency, &t.Status, &t.CreatedAt, &t.UpdatedAt,
		&d.Domain, &d.TenantID, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.Tenant{}, tenant.Domain{}, ErrNotFound
		}
		return tenant.Tenant{}, tenant.Domain{}, err
	}
	return t, d, nil
}

// List returns tenants ordered by creation time with the total count.
func (s *TenantStore) List(ctx context.Context, limit, offset int) ([]tenant.Tenant, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", TenantsTable)).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1 OFFSET $2`, tenantColumns, TenantsTable)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []tenant.Tenant
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// SetStatus enables or disables a tenant.
func (s *TenantStore) SetStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (tenant.Tenant, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET status = $2, updated_at = now()
        WHERE tenant_id = $1
        RETURNING %s
    `, TenantsTable, tenantColumns)
	return scanTenant(s.pool.QueryRow(ctx, query, id, status))
}

// AddDomain registers a custom domain in pending status.
func (s *TenantStore) AddDomain(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (domain, tenant_id, status) VALUES ($1, $2, 'pending')
        RETURNING domain, tenant_id, status, created_at, updated_at
    `, DomainsTable)
	d, err := scanDomain(s.pool.QueryRow(ctx, query, domain, tenantID))
	if err != nil {
		return tenant.Domain{}, mapConflict(err)
	}
	return d, nil
}

// SetDomainStatus moves a domain through its verification lifecycle.
func (s *TenantStore) SetDomainStatus(ctx context.Context, domain string, status tenant.DomainStatus) (tenant.Domain, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET status = $2, updated_at = now()
        WHERE domain = $1
        RETURNING domain, tenant_id, status, created_at, updated_at
    `, DomainsTable)
	return scanDomain(s.pool.QueryRow(ctx, query, domain, status))
}

// ListDomains returns every domain of a tenant.
func (s *TenantStore) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error) {
	query := fmt.Sprintf(`
        SELECT domain, tenant_id, status, created_at, updated_at
        FROM %s WHERE tenant_id = $1 ORDER BY domain
    `, DomainsTable)
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tenant.Domain, error) {
		return scanDomain(row)
	})
}

func scanTenant(row pgx.Row) (tenant.Tenant, error) {
	var t tenant.Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.DisplayName, &t.Plan, &t.Currency, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.Tenant{}, ErrNotFound
		}
		return tenant.Tenant{}, err
	}
	return t, nil
}

func scanDomain(row pgx.Row) (tenant.Domain, error) {
	var d tenant.Domain
	if err := row.Scan(&d.Domain, &d.TenantID, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.Domain{}, ErrNotFound
		}
		return tenant.Domain{}, err
	}
	return d, nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
