package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

type fixture struct {
	svc      *service.Service
	resolver *tenant.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := repo.NewMemoryRepository()
	resolver := tenant.NewResolver(tenant.ResolverConfig{Directory: store, Cache: tenant.NewMemoryCache(time.Hour)})
	return fixture{
		svc:      service.New(store, resolver, zaptest.NewLogger(t)),
		resolver: resolver,
	}
}

func TestCreateNormalizesInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), service.CreateInput{
		Slug:        "  Acme-Shop ",
		DisplayName: " Acme Shop ",
		Currency:    "eur",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.Equal(t, "acme-shop", created.Slug)
	require.Equal(t, "Acme Shop", created.DisplayName)
	require.Equal(t, tenant.PlanStarter, created.Plan)
	require.Equal(t, "EUR", created.Currency)
	require.Equal(t, tenant.StatusActive, created.Status)

	_, err = f.svc.Create(context.Background(), service.CreateInput{Slug: "ACME-SHOP", DisplayName: "Dup", Currency: "USD"})
	require.ErrorIs(t, err, service.ErrConflictSlug)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), service.CreateInput{Slug: "not a slug", Plan: "platinum", Currency: "euro"})
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "slug")
	require.Contains(t, validationErr.Fields, "displayName")
	require.Contains(t, validationErr.Fields, "plan")
	require.Contains(t, validationErr.Fields, "currency")
}

func TestListPaginates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, slug := range []string{"a", "b", "c"} {
		_, err := f.svc.Create(ctx, service.CreateInput{Slug: slug, DisplayName: slug, Plan: "growth", Currency: "USD"})
		require.NoError(t, err)
	}

	first, err := f.svc.List(ctx, service.ListOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Tenants, 2)
	require.Equal(t, 3, first.TotalItems)
	require.Equal(t, 2, first.TotalPages)

	second, err := f.svc.List(ctx, service.ListOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, second.Tenants, 1)

	beyond, err := f.svc.List(ctx, service.ListOptions{Page: 5, PageSize: 2})
	require.NoError(t, err)
	require.Empty(t, beyond.Tenants)
}

func TestDisableInvalidatesCachedResolutions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	acme, err := f.svc.Create(ctx, service.CreateInput{Slug: "acme", DisplayName: "Acme", Currency: "EUR"})
	require.NoError(t, err)
	_, err = f.svc.AddDomain(ctx, acme.ID, "Shop.Example.com")
	require.NoError(t, err)
	_, err = f.svc.SetDomainStatus(ctx, "shop.example.com", "verified")
	require.NoError(t, err)

	_, err = f.resolver.ResolveBySlug(ctx, "acme")
	require.NoError(t, err)
	_, err = f.resolver.ResolveByDomain(ctx, "shop.example.com")
	require.NoError(t, err)

	disabled, err := f.svc.Disable(ctx, acme.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.StatusDisabled, disabled.Status)

	_, err = f.resolver.ResolveBySlug(ctx, "acme")
	require.ErrorIs(t, err, tenant.ErrNotFound)
	_, err = f.resolver.ResolveByDomain(ctx, "shop.example.com")
	require.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = f.svc.Enable(ctx, acme.ID)
	require.NoError(t, err)
	_, err = f.resolver.ResolveBySlug(ctx, "acme")
	require.NoError(t, err)

	_, err = f.svc.Disable(ctx, uuid.New())
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestDomainLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	acme, err := f.svc.Create(ctx, service.CreateInput{Slug: "acme", DisplayName: "Acme", Currency: "EUR"})
	require.NoError(t, err)

	d, err := f.svc.AddDomain(ctx, acme.ID, "shop.example.com.")
	require.NoError(t, err)
	require.Equal(t, "shop.example.com", d.Domain)
	require.Equal(t, tenant.DomainPending, d.Status)

	_, err = f.svc.AddDomain(ctx, acme.ID, "shop.example.com")
	require.ErrorIs(t, err, service.ErrConflictDomain)

	_, err = f.resolver.ResolveByDomain(ctx, "shop.example.com")
	require.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = f.svc.SetDomainStatus(ctx, "shop.example.com", "Active")
	require.NoError(t, err)
	got, err := f.resolver.ResolveByDomain(ctx, "shop.example.com")
	require.NoError(t, err)
	require.Equal(t, acme.ID, got.ID)

	revoked, err := f.svc.SetDomainStatus(ctx, "shop.example.com", "revoked")
	require.NoError(t, err)
	require.Equal(t, tenant.DomainRevoked, revoked.Status)
	_, err = f.resolver.ResolveByDomain(ctx, "shop.example.com")
	require.ErrorIs(t, err, tenant.ErrNotFound)

	domains, err := f.svc.ListDomains(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, domains, 1)
}

func TestDomainRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddDomain(ctx, uuid.New(), "shop.example.com")
	require.ErrorIs(t, err, service.ErrNotFound)

	var validationErr *service.ValidationError
	_, err = f.svc.AddDomain(ctx, uuid.New(), "bad_host!")
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "domain")

	_, err = f.svc.SetDomainStatus(ctx, "shop.example.com", "parked")
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "status")

	_, err = f.svc.SetDomainStatus(ctx, "unknown.example.com", "verified")
	require.ErrorIs(t, err, service.ErrDomainNotFound)

	_, err = f.svc.ListDomains(ctx, uuid.New())
	require.ErrorIs(t, err, service.ErrNotFound)
}
