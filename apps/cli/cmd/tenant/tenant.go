package tenantcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	platformcache "github.com/zenGate-Global/palmyra-commerce/platform/go/cache"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// Opener builds the tenant service for one command invocation. The returned func
// releases whatever the service holds.
type Opener func(ctx context.Context) (*service.Service, func(), error)

// Command groups tenant registry administration.
func Command() *cobra.Command {
	var opts connectionOptions
	cmd := newCommand(opts.open)
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&opts.cacheURL, "tenant-cache-redis-url", "", "Redis URL of the API's tenant cache; entries are invalidated on status changes")
	_ = cmd.MarkPersistentFlagRequired("database-url")
	return cmd
}

func newCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant registry utilities (create, disable, domains)",
	}

	cmd.AddCommand(
		createCommand(open),
		listCommand(open),
		getCommand(open),
		statusCommand(open, "disable", "Disable a tenant; its slug and domains stop resolving", (*service.Service).Disable),
		statusCommand(open, "enable", "Re-enable a disabled tenant", (*service.Service).Enable),
		domainCommand(open),
	)
	return cmd
}

type connectionOptions struct {
	databaseURL string
	cacheURL    string
}

func (o *connectionOptions) open(ctx context.Context) (*service.Service, func(), error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: o.databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}
	store, err := persistence.NewTenantStore(pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init tenant store: %w", err)
	}

	logger := zap.NewNop()
	closers := []func(){func() { persistence.ClosePool(pool) }}

	var invalidator service.Invalidator
	if o.cacheURL != "" {
		client, err := platformcache.NewRedisClient(o.cacheURL)
		if err != nil {
			persistence.ClosePool(pool)
			return nil, nil, fmt.Errorf("init tenant cache: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		// TTL is irrelevant here: the CLI only deletes entries.
		invalidator = tenant.NewResolver(tenant.ResolverConfig{
			Directory: store,
			Cache:     platformcache.NewTenantCache(client, time.Minute, logger),
			Logger:    logger,
		})
	}

	svc := service.New(repo.NewPostgresRepository(store), invalidator, logger)
	return svc, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

func createCommand(open Opener) *cobra.Command {
	var input service.CreateInput

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a new active tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			t, err := svc.Create(cmd.Context(), input)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant created: %s (%s)\n", t.Slug, t.ID)
			return nil
		},
	}

	c.Flags().StringVar(&input.Slug, "slug", "", "Tenant slug")
	c.Flags().StringVar(&input.DisplayName, "name", "", "Display name")
	c.Flags().StringVar(&input.Plan, "plan", string(tenant.PlanStarter), "Plan (starter, growth, enterprise)")
	c.Flags().StringVar(&input.Currency, "currency", "", "ISO 4217 currency code")
	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("currency")
	return c
}

func listCommand(open Opener) *cobra.Command {
	var opts service.ListOptions

	c := &cobra.Command{
		Use:   "list",
		Short: "List tenants, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := svc.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printTenants(cmd.OutOrStdout(), res.Tenants)
			fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d tenants\n", res.Page, res.TotalPages, res.TotalItems)
			return nil
		},
	}

	c.Flags().IntVar(&opts.Page, "page", 1, "Page number")
	c.Flags().IntVar(&opts.PageSize, "page-size", 20, "Page size")
	return c
}

func getCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show one tenant and its domains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			t, err := svc.Get(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			domains, err := svc.ListDomains(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			printTenants(cmd.OutOrStdout(), []tenant.Tenant{t})
			if len(domains) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				printDomains(cmd.OutOrStdout(), domains)
			}
			return nil
		},
	}
}

type statusFunc func(*service.Service, context.Context, uuid.UUID) (tenant.Tenant, error)

func statusCommand(open Opener, use, short string, apply statusFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tenant-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := tenant.ParseID(args[0])
			if err != nil {
				return err
			}
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			t, err := apply(svc, cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s is now %s\n", t.Slug, t.Status)
			return nil
		},
	}
}
