package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound       = errors.New("tenant not found")
	ErrDomainNotFound = errors.New("domain not found")
	ErrConflictSlug   = errors.New("tenant slug already exists")
	ErrConflictDomain = errors.New("domain already registered")
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// CreateInput represents the request to create a tenant.
type CreateInput struct {
	Slug        string
	DisplayName string
	Plan        string
	Currency    string
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []tenant.Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// ListOptions captures pagination.
type ListOptions struct {
	Page     int
	PageSize int
}

// Repository abstracts the tenant registry. Implementations translate storage
// errors into ErrNotFound, ErrConflictSlug and ErrConflictDomain.
type Repository interface {
	List(ctx context.Context, limit, offset int) ([]tenant.Tenant, int, error)
	Create(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	SetStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (tenant.Tenant, error)
	AddDomain(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error)
	SetDomainStatus(ctx context.Context, domain string, status tenant.DomainStatus) (tenant.Domain, error)
	ListDomains(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error)
}

// Invalidator drops cached resolutions. *tenant.Resolver satisfies it.
type Invalidator interface {
	InvalidateSlug(ctx context.Context, slug string)
	InvalidateDomain(ctx context.Context, domain string)
}

// Service provides tenant registry administration.
type Service struct {
	repo   Repository
	cache  Invalidator
	logger *zap.Logger
}

// New constructs a Service. cache may be nil when no resolver cache is in use.
func New(repo Repository, cache Invalidator, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns one page of tenants, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}

	items, total, err := s.repo.List(ctx, size, (page-1)*size)
	if err != nil {
		return ListResult{}, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + size - 1) / size
	}
	return ListResult{Tenants: items, Page: page, PageSize: size, TotalItems: total, TotalPages: totalPages}, nil
}

// Create registers a new active tenant.
func (s *Service) Create(ctx context.Context, input CreateInput) (tenant.Tenant, error) {
	fields := FieldErrors{}

	slug, err := tenant.NormalizeSlug(input.Slug)
	if err != nil {
		fields.add("slug", err.Error())
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		fields.add("displayName", "display name is required")
	}

	plan := tenant.Plan(strings.ToLower(strings.TrimSpace(input.Plan)))
	if plan == "" {
		plan = tenant.PlanStarter
	}
	if !plan.Valid() {
		fields.add("plan", "must be one of starter, growth, enterprise")
	}

	currency, err := tenant.NormalizeCurrency(input.Currency)
	if err != nil {
		fields.add("currency", err.Error())
	}

	if len(fields) > 0 {
		return tenant.Tenant{}, &ValidationError{Fields: fields}
	}

	created, err := s.repo.Create(ctx, tenant.Tenant{
		ID:          uuid.New(),
		Slug:        slug,
		DisplayName: displayName,
		Plan:        plan,
		Currency:    currency,
		Status:      tenant.StatusActive,
	})
	if err != nil {
		return tenant.Tenant{}, err
	}

	platformlogging.FromContextOr(ctx, s.logger).Info("tenant created",
		zap.String("tenant_id", created.ID.String()),
		zap.String("slug", created.Slug),
	)
	return created, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	return s.repo.Get(ctx, id)
}

// Disable stops a tenant from resolving. Tenants are never deleted.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	return s.setStatus(ctx, id, tenant.StatusDisabled)
}

// Enable reactivates a disabled tenant.
func (s *Service) Enable(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	return s.setStatus(ctx, id, tenant.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (tenant.Tenant, error) {
	updated, err := s.repo.SetStatus(ctx, id, status)
	if err != nil {
		return tenant.Tenant{}, err
	}

	// Domain resolutions cache the whole tenant record, so they go stale too.
	s.invalidateSlug(ctx, updated.Slug)
	domains, err := s.repo.ListDomains(ctx, id)
	if err != nil {
		platformlogging.FromContextOr(ctx, s.logger).Warn("could not list domains for cache invalidation",
			zap.String("tenant_id", id.String()),
			zap.Error(err),
		)
	}
	for _, d := range domains {
		s.invalidateDomain(ctx, d.Domain)
	}

	platformlogging.FromContextOr(ctx, s.logger).Info("tenant status changed",
		zap.String("tenant_id", id.String()),
		zap.String("status", string(status)),
	)
	return updated, nil
}

// AddDomain registers a custom domain for a tenant in pending status. Pending domains
// do not resolve until an operator verifies them.
func (s *Service) AddDomain(ctx context.Context, tenantID uuid.UUID, domain string) (tenant.Domain, error) {
	normalized, err := tenant.NormalizeDomain(domain)
	if err != nil {
		return tenant.Domain{}, &ValidationError{Fields: FieldErrors{"domain": {err.Error()}}}
	}
	if _, err := s.repo.Get(ctx, tenantID); err != nil {
		return tenant.Domain{}, err
	}
	return s.repo.AddDomain(ctx, tenantID, normalized)
}

// SetDomainStatus moves a domain through pending, verified, active and revoked.
func (s *Service) SetDomainStatus(ctx context.Context, domain, status string) (tenant.Domain, error) {
	fields := FieldErrors{}
	normalized, err := tenant.NormalizeDomain(domain)
	if err != nil {
		fields.add("domain", err.Error())
	}
	next, err := tenant.ParseDomainStatus(strings.ToLower(strings.TrimSpace(status)))
	if err != nil {
		fields.add("status", err.Error())
	}
	if len(fields) > 0 {
		return tenant.Domain{}, &ValidationError{Fields: fields}
	}

	updated, err := s.repo.SetDomainStatus(ctx, normalized, next)
	if err != nil {
		return tenant.Domain{}, err
	}
	s.invalidateDomain(ctx, normalized)
	return updated, nil
}

// ListDomains returns the domains registered for a tenant.
func (s *Service) ListDomains(ctx context.Context, tenantID uuid.UUID) ([]tenant.Domain, error) {
	if _, err := s.repo.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListDomains(ctx, tenantID)
}

func (s *Service) invalidateSlug(ctx context.Context, slug string) {
	if s.cache != nil {
		s.cache.InvalidateSlug(ctx, slug)
	}
}

func (s *Service) invalidateDomain(ctx context.Context, domain string) {
	if s.cache != nil {
		s.cache.InvalidateDomain(ctx, domain)
	}
}
