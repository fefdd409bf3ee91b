// Package pgxtest provides an in-memory pgx.Tx for exercising code that sits on top of
// a transaction without a database.
package pgxtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Statement is one recorded call.
type Statement struct {
	SQL  string
	Args []any
}

// Tx satisfies pgx.Tx, records statements and tracks how the transaction ended.
type Tx struct {
	mu sync.Mutex

	Statements []Statement
	Commits    int
	Rollbacks  int

	ExecErr      func(sql string) error
	QueryRowFunc func(sql string, args []any) pgx.Row
	CommitErr    error

	// OnExec observes each Exec; it runs after the statement has been recorded.
	OnExec func(sql string)

	done bool
}

var _ pgx.Tx = (*Tx)(nil)

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

func (f *Tx) Commit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return pgx.ErrTxClosed
	}
	f.done = true
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Commits++
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return pgx.ErrTxClosed
	}
	f.done = true
	f.Rollbacks++
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (f *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return &pgconn.StatementDescription{}, errors.New("not implemented")
}

func (f *Tx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.record(sql, args)
	return nil, errors.New("not implemented")
}

func (f *Tx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.record(sql, args)
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(sql, args)
	}
	return Row{Err: pgx.ErrNoRows}
}

func (f *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.record(sql, args)
	if f.OnExec != nil {
		f.OnExec(sql)
	}
	if f.ExecErr != nil {
		if err := f.ExecErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (f *Tx) Conn() *pgx.Conn { return nil }

// Executed returns a copy of the recorded SQL text in call order.
func (f *Tx) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Statements))
	for _, stmt := range f.Statements {
		out = append(out, stmt.SQL)
	}
	return out
}

func (f *Tx) record(sql string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statements = append(f.Statements, Statement{SQL: sql, Args: args})
}

// Pool hands out transactions and counts BeginTx calls.
type Pool struct {
	mu sync.Mutex

	// NewTx builds the transaction for each BeginTx; defaults to a fresh Tx.
	NewTx    func() *Tx
	BeginErr error

	Begins int
	Txs    []*Tx
}

func (p *Pool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Begins++
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	if p.NewTx != nil {
		tx = p.NewTx()
	}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recently begun transaction.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

// Row is a canned pgx.Row.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.Values))
	}
	for i, value := range r.Values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if value == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(value)
		if !v.Type().AssignableTo(elem.Type()) {
			return fmt.Errorf("scan: cannot assign %s to %s", v.Type(), elem.Type())
		}
		elem.Set(v)
	}
	return nil
}
