package tenant

import (
	"context"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/requesttrace"
)

type ctxKey string

const tenantKey ctxKey = "PALMYRA_TENANT"

// WithTenant returns a derived context carrying the resolved tenant.
// Host middleware attaches it once the request's tenant has been resolved.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// FromContext extracts the resolved tenant and a boolean indicating presence.
func FromContext(ctx context.Context) (Tenant, bool) {
	if ctx == nil {
		return Tenant{}, false
	}
	v := ctx.Value(tenantKey)
	if v == nil {
		return Tenant{}, false
	}

	t, ok := v.(Tenant)
	return t, ok
}

// AmbientID returns the tenant id carried by request metadata: the host-resolved
// tenant first, then the tenant recorded on the request's audit info. Empty when
// neither is present.
func AmbientID(ctx context.Context) string {
	if t, ok := FromContext(ctx); ok {
		return t.ID.String()
	}
	if audit, ok := requesttrace.FromContext(ctx); ok && audit.TenantID != nil {
		return *audit.TenantID
	}
	return ""
}
