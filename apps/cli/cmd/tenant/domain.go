package tenantcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

func domainCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Custom domain utilities",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <tenant-id> <domain>",
			Short: "Register a custom domain in pending status",
			Args:  cobra.ExactArgs(2),
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

				d, err := svc.AddDomain(cmd.Context(), id, args[1])
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Domain %s registered (%s)\n", d.Domain, d.Status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <domain> <pending|verified|active|revoked>",
			Short: "Move a domain to a new status",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, done, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer done()

				d, err := svc.SetDomainStatus(cmd.Context(), args[0], args[1])
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Domain %s is now %s\n", d.Domain, d.Status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list <tenant-id>",
			Short: "List a tenant's domains",
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

				domains, err := svc.ListDomains(cmd.Context(), id)
				if err != nil {
					return describe(err)
				}
				printDomains(cmd.OutOrStdout(), domains)
				return nil
			},
		},
	)
	return cmd
}
