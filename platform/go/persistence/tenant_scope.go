package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

// TenantSetting is the transaction-local Postgres setting row level security policies key on.
const TenantSetting = "app.tenant_id"

var (
	// ErrInvalidTenant is returned before any transaction is opened when the tenant id is malformed.
	ErrInvalidTenant = errors.New("invalid tenant id")
	// ErrTenantContextUnavailable is returned when no tenant id can be found on the request.
	ErrTenantContextUnavailable = errors.New("tenant context unavailable")
	// ErrNestedScope is returned when a scope is opened from inside another scope's callback.
	ErrNestedScope = errors.New("tenant scope already open on this context")
	// ErrCommitFailed wraps the driver error when fn succeeded but the commit did not.
	// Nothing fn wrote is kept; effects outside the database are the caller's to undo.
	ErrCommitFailed = errors.New("commit tx")
)

// TxBeginner exposes the minimal pgx pool behaviour needed by TenantGuard.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TenantGuardConfig wires a TenantGuard.
type TenantGuardConfig struct {
	Pool TxBeginner
	// Role, when set, is assumed with SET LOCAL ROLE after the tenant marker so row
	// level security applies even if the pool connects as the table owner.
	Role   string
	Logger *zap.Logger
}

// TenantGuard hands out tenant-bound transactions. It is the only way domain code
// obtains a TenantTx.
type TenantGuard struct {
	pool   TxBeginner
	role   string
	logger *zap.Logger
}

func NewTenantGuard(cfg TenantGuardConfig) *TenantGuard {
	if cfg.Pool == nil {
		panic("TenantGuard requires pool")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantGuard{pool: cfg.Pool, role: strings.TrimSpace(cfg.Role), logger: logger}
}

// Run executes fn inside a transaction bound to tenantID.
func (g *TenantGuard) Run(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *TenantTx) error) error {
	_, err := RunInTenantScope(ctx, g, tenantID, func(ctx context.Context, tx *TenantTx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}

// RunFromRequest is Run with the tenant id taken from override or, when it is empty,
// from the request metadata on ctx.
func (g *TenantGuard) RunFromRequest(ctx context.Context, fn func(ctx context.Context, tx *TenantTx) error, override ...string) error {
	_, err := RunInTenantScopeFromRequest(ctx, g, func(ctx context.Context, tx *TenantTx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	}, override...)
	return err
}

// RunInTenantScope opens exactly one transaction, binds it to tenantID and passes the
// bound handle to fn. The marker is set before fn runs and disappears with the
// transaction: fn returning nil commits, an error or panic rolls back. The handle is
// closed once fn returns.
func RunInTenantScope[T any](ctx context.Context, g *TenantGuard, tenantID string, fn func(ctx context.Context, tx *TenantTx) (T, error)) (T, error) {
	var zero T

	id, err := tenant.ParseID(tenantID)
	if err != nil {
		return zero, ErrInvalidTenant
	}
	if _, open := scopeFromContext(ctx); open {
		return zero, ErrNestedScope
	}

	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) // nolint:errcheck

	if err := g.bind(ctx, tx, id); err != nil {
		return zero, err
	}

	handle := &TenantTx{tx: tx, tenantID: id}
	defer handle.close()

	out, err := fn(withScope(ctx, handle), handle)
	handle.close()
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return out, nil
}

// RunInTenantScopeFromRequest resolves the tenant id from override, then from the
// ambient request metadata, and delegates to RunInTenantScope.
func RunInTenantScopeFromRequest[T any](ctx context.Context, g *TenantGuard, fn func(ctx context.Context, tx *TenantTx) (T, error), override ...string) (T, error) {
	var tenantID string
	if len(override) > 0 {
		tenantID = strings.TrimSpace(override[0])
	}
	if tenantID == "" {
		tenantID = tenant.AmbientID(ctx)
	}
	if tenantID == "" {
		var zero T
		g.logger.Error("no tenant id on request metadata")
		return zero, ErrTenantContextUnavailable
	}
	return RunInTenantScope(ctx, g, tenantID, fn)
}

func (g *TenantGuard) bind(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT set_config('`+TenantSetting+`', $1, true)`, id.String()); err != nil {
		return fmt.Errorf("set tenant marker: %w", err)
	}
	if g.role != "" {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ROLE %s", pgx.Identifier{g.role}.Sanitize())); err != nil {
			return fmt.Errorf("set role: %w", err)
		}
	}
	return nil
}

type scopeKey struct{}

func withScope(ctx context.Context, tx *TenantTx) context.Context {
	return context.WithValue(ctx, scopeKey{}, tx)
}

func scopeFromContext(ctx context.Context) (*TenantTx, bool) {
	tx, ok := ctx.Value(scopeKey{}).(*TenantTx)
	return tx, ok && tx != nil
}

// ScopedTenantID returns the tenant bound to the scope ctx was derived from.
func ScopedTenantID(ctx context.Context) (uuid.UUID, bool) {
	tx, ok := scopeFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return tx.TenantID(), true
}

// TxFromContext returns the handle of the scope ctx was derived from. Workflow steps
// use it to reach the run's transaction. The handle fails with ErrScopeClosed once
// the scope has ended.
func TxFromContext(ctx context.Context) (*TenantTx, error) {
	tx, ok := scopeFromContext(ctx)
	if !ok {
		return nil, ErrTenantContextUnavailable
	}
	return tx, nil
}
