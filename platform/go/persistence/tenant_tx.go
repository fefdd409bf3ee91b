package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrScopeClosed is returned by a TenantTx used outside its guard callback.
var ErrScopeClosed = errors.New("tenant transaction used outside its scope")

// TenantTx is a transaction bound to one tenant. Only TenantGuard creates usable
// values; the zero value and any handle whose callback has returned fail every call
// with ErrScopeClosed.
//
// Calls are serialized so steps running in parallel can share the handle. A row
// returned by QueryRow holds the handle until Scan is called, so Scan must always be
// called. Savepoint holds the handle for its whole block: statements issued with the
// context it passes to fn go through, every other caller waits for the block to end.
type TenantTx struct {
	mu       sync.Mutex
	tx       pgx.Tx
	tenantID uuid.UUID
	closed   atomic.Bool
	savepts  atomic.Uint64
}

// TenantID is the tenant the transaction is bound to.
func (t *TenantTx) TenantID() uuid.UUID {
	return t.tenantID
}

func (t *TenantTx) usable() error {
	if t == nil || t.tx == nil || t.closed.Load() {
		return ErrScopeClosed
	}
	return nil
}

func (t *TenantTx) close() {
	t.closed.Store(true)
}

type savepointOwner struct{}

// lock takes the handle unless ctx comes from one of its savepoint blocks, which
// already holds it.
func (t *TenantTx) lock(ctx context.Context) (unlock func()) {
	if owner, _ := ctx.Value(savepointOwner{}).(*TenantTx); owner == t {
		return func() {}
	}
	t.mu.Lock()
	return t.mu.Unlock
}

// Exec runs a statement that returns no rows.
func (t *TenantTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.usable(); err != nil {
		return pgconn.CommandTag{}, err
	}
	unlock := t.lock(ctx)
	defer unlock()
	if err := t.usable(); err != nil {
		return pgconn.CommandTag{}, err
	}
	return t.tx.Exec(ctx, sql, args...)
}

// QueryRow runs a query expected to return at most one row.
func (t *TenantTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := t.usable(); err != nil {
		return errRow{err: err}
	}
	unlock := t.lock(ctx)
	if err := t.usable(); err != nil {
		unlock()
		return errRow{err: err}
	}
	return &lockedRow{row: t.tx.QueryRow(ctx, sql, args...), unlock: unlock}
}

// Savepoint runs fn behind a savepoint and rolls back to it when fn fails, so a
// failed statement does not abort the whole transaction and later statements of the
// same scope (compensations included) can still run.
//
// The handle stays locked until the block ends, so a rollback never discards work
// of a parallel step. fn must issue its statements, nested savepoints included, with
// the context it receives and must not hand that context to other goroutines.
func (t *TenantTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := t.usable(); err != nil {
		return err
	}
	unlock := t.lock(ctx)
	defer unlock()
	ctx = context.WithValue(ctx, savepointOwner{}, t)

	name := fmt.Sprintf("sp_%d", t.savepts.Add(1))
	if _, err := t.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := t.Exec(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	_, err := t.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// Collect runs a query and maps every row with fn while holding the handle.
func Collect[T any](ctx context.Context, t *TenantTx, fn pgx.RowToFunc[T], sql string, args ...any) ([]T, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	unlock := t.lock(ctx)
	defer unlock()
	if err := t.usable(); err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

type lockedRow struct {
	row    pgx.Row
	once   sync.Once
	unlock func()
}

func (r *lockedRow) Scan(dest ...any) error {
	defer r.once.Do(r.unlock)
	return r.row.Scan(dest...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
