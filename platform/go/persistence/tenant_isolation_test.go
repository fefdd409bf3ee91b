package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

func TestTenantIsolationWithRowLevelSecurity(t *testing.T) {
	pool := mustBootstrappedPool(t)
	ctx := context.Background()

	store, err := NewTenantStore(pool)
	require.NoError(t, err)

	acme, err := store.Create(ctx, tenant.Tenant{ID: uuid.New(), Slug: "acme", DisplayName: "Acme", Plan: tenant.PlanGrowth, Currency: "EUR", Status: tenant.StatusActive})
	require.NoError(t, err)
	beta, err := store.Create(ctx, tenant.Tenant{ID: uuid.New(), Slug: "beta", DisplayName: "Beta", Plan: tenant.PlanStarter, Currency: "USD", Status: tenant.StatusActive})
	require.NoError(t, err)

	_, err = store.Create(ctx, tenant.Tenant{ID: uuid.New(), Slug: "acme", DisplayName: "Dup", Plan: tenant.PlanStarter, Currency: "USD", Status: tenant.StatusActive})
	require.ErrorIs(t, err, ErrConflict)

	guard := NewTenantGuard(TenantGuardConfig{Pool: pool, Role: "commerce_tenant"})

	productID := uuid.New()
	err = guard.Run(ctx, acme.ID.String(), func(ctx context.Context, tx *TenantTx) error {
		_, err := tx.Exec(ctx, `INSERT INTO commerce.products (product_id, sku, name, unit_price, on_hand) VALUES ($1, 'SKU-1', 'Widget', 1000, 3)`, productID)
		return err
	})
	require.NoError(t, err)

	countProducts := func(tenantID uuid.UUID) int {
		n, err := RunInTenantScope(ctx, guard, tenantID.String(), func(ctx context.Context, tx *TenantTx) (int, error) {
			var n int
			err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM commerce.products`).Scan(&n)
			return n, err
		})
		require.NoError(t, err)
		return n
	}
	require.Equal(t, 1, countProducts(acme.ID))
	require.Equal(t, 0, countProducts(beta.ID))

	// Writing a row for another tenant is rejected by the policy's WITH CHECK.
	err = guard.Run(ctx, beta.ID.String(), func(ctx context.Context, tx *TenantTx) error {
		_, err := tx.Exec(ctx, `INSERT INTO commerce.products (tenant_id, product_id, sku, name, unit_price) VALUES ($1, $2, 'SKU-X', 'Smuggled', 1)`, acme.ID, uuid.New())
		return err
	})
	require.Error(t, err)

	// The marker does not survive the transaction on the pooled connection.
	var leaked *string
	require.NoError(t, pool.QueryRow(ctx, `SELECT NULLIF(current_setting('app.tenant_id', true), '')`).Scan(&leaked))
	require.Nil(t, leaked)

	rows, err := Collect(ctx, mustScope(t, guard, acme.ID), pgx.RowTo[string], `SELECT sku FROM commerce.products`)
	require.ErrorIs(t, err, ErrScopeClosed)
	require.Nil(t, rows)
}

func TestTenantStoreDomainResolution(t *testing.T) {
	pool := mustBootstrappedPool(t)
	ctx := context.Background()

	store, err := NewTenantStore(pool)
	require.NoError(t, err)

	acme, err := store.Create(ctx, tenant.Tenant{ID: uuid.New(), Slug: "acme", DisplayName: "Acme", Plan: tenant.PlanGrowth, Currency: "EUR", Status: tenant.StatusActive})
	require.NoError(t, err)

	d, err := store.AddDomain(ctx, acme.ID, "shop.example.com")
	require.NoError(t, err)
	require.Equal(t, tenant.DomainPending, d.Status)

	_, err = store.AddDomain(ctx, acme.ID, "shop.example.com")
	require.ErrorIs(t, err, ErrConflict)

	resolver := tenant.NewResolver(tenant.ResolverConfig{Directory: store})

	_, err = resolver.ResolveByDomain(ctx, "shop.example.com")
	require.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = store.SetDomainStatus(ctx, "shop.example.com", tenant.DomainVerified)
	require.NoError(t, err)

	got, err := resolver.ResolveByDomain(ctx, "shop.example.com")
	require.NoError(t, err)
	require.Equal(t, acme.ID, got.ID)

	bySlug, err := resolver.ResolveBySlug(ctx, "ACME")
	require.NoError(t, err)
	require.Equal(t, got, bySlug)

	domains, err := store.ListDomains(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, domains, 1)

	_, err = store.SetStatus(ctx, acme.ID, tenant.StatusDisabled)
	require.NoError(t, err)
	_, err = resolver.ResolveBySlug(ctx, "acme")
	require.ErrorIs(t, err, tenant.ErrNotFound)
}

func mustScope(t *testing.T, guard *TenantGuard, id uuid.UUID) *TenantTx {
	t.Helper()
	var retained *TenantTx
	require.NoError(t, guard.Run(context.Background(), id.String(), func(_ context.Context, tx *TenantTx) error {
		retained = tx
		return nil
	}))
	return retained
}
