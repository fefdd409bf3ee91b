package tenantcmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/zenGate-Global/palmyra-commerce/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

func printTenants(w io.Writer, tenants []tenant.Tenant) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tNAME\tPLAN\tCURRENCY\tSTATUS\tCREATED")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Slug, t.DisplayName, t.Plan, t.Currency, t.Status, t.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printDomains(w io.Writer, domains []tenant.Domain) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tSTATUS\tUPDATED")
	for _, d := range domains {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Domain, d.Status, d.UpdatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

// describe flattens validation errors into one line for the terminal.
func describe(err error) error {
	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	fields := make([]string, 0, len(verr.Fields))
	for field := range verr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(verr.Fields[field], ", "))
	}
	return fmt.Errorf("invalid input: %s", strings.Join(parts, "; "))
}
