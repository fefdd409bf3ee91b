package tenant

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
)

// ErrNotFound is the only error the resolver returns. Unknown, disabled, unverified
// and unreachable tenants are indistinguishable to callers.
var ErrNotFound = errors.New("tenant not found")

// Directory performs the registry lookups behind the resolver. These are the only
// reads allowed to see across all tenants. Implementations return ErrNotFound when
// no row matches.
type Directory interface {
	FindBySlug(ctx context.Context, slug string) (Tenant, error)
	FindByDomain(ctx context.Context, domain string) (Tenant, Domain, error)
}

// Cache stores positive resolutions keyed by "slug:<slug>" or "domain:<host>".
type Cache interface {
	Get(ctx context.Context, key string) (Tenant, bool)
	Set(ctx context.Context, key string, t Tenant)
	Delete(ctx context.Context, keys ...string)
}

// ResolverConfig wires the resolver dependencies. Cache and Registerer are optional.
type ResolverConfig struct {
	Directory  Directory
	Cache      Cache
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Resolver maps slugs and custom domains to tenants.
type Resolver struct {
	directory Directory
	cache     Cache
	logger    *zap.Logger
	failures  *prometheus.CounterVec
}

// NewResolver builds a resolver; it panics when the directory is missing.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Directory == nil {
		panic("tenant resolver requires a directory")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_resolution_errors_total",
		Help: "Tenant lookups that failed with a data-access error and were reported as not found",
	}, []string{"by"})
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(failures)
	}

	return &Resolver{
		directory: cfg.Directory,
		cache:     cfg.Cache,
		logger:    logger,
		failures:  failures,
	}
}

// ResolveBySlug returns the active tenant owning slug.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (Tenant, error) {
	normalized, err := NormalizeSlug(slug)
	if err != nil {
		return Tenant{}, ErrNotFound
	}

	key := slugKey(normalized)
	if t, ok := r.cacheGet(ctx, key); ok {
		return t, nil
	}

	t, err := r.directory.FindBySlug(ctx, normalized)
	if err != nil {
		return Tenant{}, r.degrade(ctx, "slug", normalized, err)
	}
	if !t.Active() {
		return Tenant{}, ErrNotFound
	}

	r.cacheSet(ctx, key, t)
	return t, nil
}

// ResolveByDomain returns the active tenant owning a verified or active custom domain.
func (r *Resolver) ResolveByDomain(ctx context.Context, domain string) (Tenant, error) {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return Tenant{}, ErrNotFound
	}

	key := domainKey(normalized)
	if t, ok := r.cacheGet(ctx, key); ok {
		return t, nil
	}

	t, d, err := r.directory.FindByDomain(ctx, normalized)
	if err != nil {
		return Tenant{}, r.degrade(ctx, "domain", normalized, err)
	}
	if !d.Status.Resolvable() || d.TenantID != t.ID || !t.Active() {
		return Tenant{}, ErrNotFound
	}

	r.cacheSet(ctx, key, t)
	return t, nil
}

// InvalidateSlug drops any cached resolution for slug.
func (r *Resolver) InvalidateSlug(ctx context.Context, slug string) {
	if r.cache == nil {
		return
	}
	if normalized, err := NormalizeSlug(slug); err == nil {
		r.cache.Delete(ctx, slugKey(normalized))
	}
}

// InvalidateDomain drops any cached resolution for domain.
func (r *Resolver) InvalidateDomain(ctx context.Context, domain string) {
	if r.cache == nil {
		return
	}
	if normalized, err := NormalizeDomain(domain); err == nil {
		r.cache.Delete(ctx, domainKey(normalized))
	}
}

func (r *Resolver) degrade(ctx context.Context, by, key string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}

	r.failures.WithLabelValues(by).Inc()
	r.loggerFrom(ctx).Error("tenant lookup failed; reporting tenant as not found",
		zap.String("by", by),
		zap.String("key", key),
		zap.Error(err),
	)
	return ErrNotFound
}

func (r *Resolver) cacheGet(ctx context.Context, key string) (Tenant, bool) {
	if r.cache == nil {
		return Tenant{}, false
	}
	return r.cache.Get(ctx, key)
}

func (r *Resolver) cacheSet(ctx context.Context, key string, t Tenant) {
	if r.cache == nil {
		return
	}
	r.cache.Set(ctx, key, t)
}

func (r *Resolver) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return r.logger
}

func slugKey(slug string) string     { return "slug:" + slug }
func domainKey(domain string) string { return "domain:" + domain }
