package persistence

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence/pgxtest"
)

func TestSplitStatementsKeepsDollarQuotedBodies(t *testing.T) {
	t.Parallel()

	script := `
-- header comment
CREATE SCHEMA IF NOT EXISTS commerce;

DO $$
BEGIN
    PERFORM 1;
    PERFORM 2;
END$$;

GRANT USAGE ON SCHEMA commerce TO commerce_tenant;
-- trailing comment
`
	statements := splitStatements(script)
	require.Len(t, statements, 3)
	require.True(t, strings.HasSuffix(statements[0], "CREATE SCHEMA IF NOT EXISTS commerce"))
	require.Contains(t, statements[1], "PERFORM 1;")
	require.Contains(t, statements[1], "PERFORM 2;")
	require.True(t, strings.HasPrefix(statements[2], "GRANT USAGE"))
}

func TestBootstrapSchemaAppliesEmbeddedDDLInOneTransaction(t *testing.T) {
	t.Parallel()

	pool := &pgxtest.Pool{}
	require.NoError(t, BootstrapSchema(context.Background(), pool))

	require.Equal(t, 1, pool.Begins)
	ftx := pool.Last()
	require.Equal(t, 1, ftx.Commits)

	executed := strings.Join(ftx.Executed(), "\n")
	require.Contains(t, executed, "CREATE TABLE IF NOT EXISTS platform.tenants")
	require.Contains(t, executed, "CREATE TABLE IF NOT EXISTS platform.tenant_domains")
	require.Contains(t, executed, "FORCE ROW LEVEL SECURITY")
	require.Less(t, strings.Index(executed, "platform.tenants ("), strings.Index(executed, "commerce.products ("))
}
