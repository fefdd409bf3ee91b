package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContractsLoad(t *testing.T) {
	t.Parallel()
	for _, name := range []string{Commerce, Tenants} {
		doc, err := Load(name)
		require.NoError(t, err, name)
		require.NotEmpty(t, doc.Paths.Map(), name)
		require.Contains(t, doc.Components.SecuritySchemes, "bearerAuth", name)
	}
}

func TestLoadUnknownContract(t *testing.T) {
	t.Parallel()
	_, err := Load("missing.yaml")
	require.Error(t, err)
}
