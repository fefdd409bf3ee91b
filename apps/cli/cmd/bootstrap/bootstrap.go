package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
)

// Command applies the registry and commerce DDL. Safe to run repeatedly.
func Command() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "bootstrap",
		Short: "Apply the tenant registry and commerce schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapSchema(ctx, pool); err != nil {
				return fmt.Errorf("bootstrap schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema bootstrap complete.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")
	return c
}
