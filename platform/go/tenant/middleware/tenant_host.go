package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-commerce/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/problem"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// Resolver is the lookup capability required to map a host to a tenant.
type Resolver interface {
	ResolveBySlug(ctx context.Context, slug string) (tenant.Tenant, error)
	ResolveByDomain(ctx context.Context, domain string) (tenant.Tenant, error)
}

// Config controls middleware behavior.
type Config struct {
	// RootDomain is the platform domain; "<slug>.<RootDomain>" resolves by slug and
	// requests for RootDomain itself carry no tenant.
	RootDomain string
}

// WithTenantFromHost resolves the request's tenant from its Host header and attaches it
// to the context. Storefront subdomains resolve by slug, every other host by custom
// domain. Unknown hosts get a generic 404 so nothing about the registry leaks.
func WithTenantFromHost(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	root, err := tenant.NormalizeDomain(cfg.RootDomain)
	if err != nil {
		panic("tenant middleware: valid root domain is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			host, err := tenant.NormalizeDomain(r.Host)
			if err != nil {
				unknownTenant(w)
				return
			}
			if host == root {
				next.ServeHTTP(w, r)
				return
			}

			var resolved tenant.Tenant
			if slug, ok := strings.CutSuffix(host, "."+root); ok && !strings.Contains(slug, ".") {
				resolved, err = resolver.ResolveBySlug(ctx, slug)
			} else {
				resolved, err = resolver.ResolveByDomain(ctx, host)
			}
			if err != nil {
				unknownTenant(w)
				return
			}

			if creds, ok := platformauth.UserFromContext(ctx); ok && creds != nil && creds.TenantID != nil && !creds.IsAdmin {
				if credID, err := tenant.ParseID(*creds.TenantID); err != nil || credID != resolved.ID {
					problem.Write(w, problem.New(problem.TypeForbidden, http.StatusForbidden, "Forbidden", "credentials belong to another tenant"))
					return
				}
			}

			tenantID := resolved.ID.String()
			ctx = tenant.WithTenant(ctx, resolved)
			if audit, ok := requesttrace.FromContext(ctx); ok {
				ctx = requesttrace.IntoContext(ctx, audit.WithTenant(tenantID))
			}
			if logger, ok := platformlogging.FromContext(ctx); ok {
				ctx = platformlogging.WithLogger(ctx, logger.With(zap.String("tenant_id", tenantID)))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unknownTenant(w http.ResponseWriter) {
	problem.Write(w, problem.New(problem.TypeNotFound, http.StatusNotFound, "Not Found", "unknown tenant"))
}
