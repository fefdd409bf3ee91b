package tenantcmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
)

func memoryOpener(t *testing.T) (Opener, *repo.MemoryRepository) {
	t.Helper()
	store := repo.NewMemoryRepository()
	svc := service.New(store, nil, zaptest.NewLogger(t))
	return func(context.Context) (*service.Service, func(), error) {
		return svc, func() {}, nil
	}, store
}

func run(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	cmd := newCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateAndList(t *testing.T) {
	t.Parallel()
	open, store := memoryOpener(t)

	out, err := run(t, open, "create", "--slug", "Acme", "--name", "Acme Shop", "--currency", "eur")
	require.NoError(t, err)
	require.Contains(t, out, "Tenant created: acme")

	created, err := store.FindBySlug(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, "EUR", created.Currency)

	out, err = run(t, open, "list")
	require.NoError(t, err)
	require.Contains(t, out, created.ID.String())
	require.Contains(t, out, "page 1/1, 1 tenants")
}

func TestCreateReportsValidationErrors(t *testing.T) {
	t.Parallel()
	open, _ := memoryOpener(t)

	_, err := run(t, open, "create", "--slug=-bad-", "--name", "Bad", "--currency", "euro", "--plan", "gold")
	require.Error(t, err)
	msg := err.Error()
	require.True(t, strings.HasPrefix(msg, "invalid input: "))
	require.Less(t, strings.Index(msg, "currency:"), strings.Index(msg, "plan:"))
	require.Less(t, strings.Index(msg, "plan:"), strings.Index(msg, "slug:"))
}

func TestDisableEnableAndDomains(t *testing.T) {
	t.Parallel()
	open, store := memoryOpener(t)

	_, err := run(t, open, "create", "--slug", "acme", "--name", "Acme", "--currency", "USD")
	require.NoError(t, err)
	created, err := store.FindBySlug(context.Background(), "acme")
	require.NoError(t, err)
	id := created.ID.String()

	out, err := run(t, open, "disable", id)
	require.NoError(t, err)
	require.Contains(t, out, "Tenant acme is now disabled")

	out, err = run(t, open, "enable", id)
	require.NoError(t, err)
	require.Contains(t, out, "Tenant acme is now active")

	out, err = run(t, open, "domain", "add", id, "Shop.Acme.Test")
	require.NoError(t, err)
	require.Contains(t, out, "Domain shop.acme.test registered (pending)")

	out, err = run(t, open, "domain", "status", "shop.acme.test", "active")
	require.NoError(t, err)
	require.Contains(t, out, "Domain shop.acme.test is now active")

	out, err = run(t, open, "get", id)
	require.NoError(t, err)
	require.Contains(t, out, "acme")
	require.Contains(t, out, "shop.acme.test")

	_, err = run(t, open, "disable", "not-a-uuid")
	require.Error(t, err)
}
