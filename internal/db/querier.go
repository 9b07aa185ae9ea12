package db

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// CommandTag reports what an Exec changed.
type CommandTag struct {
	rowsAffected int64
}

func (c CommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

// Row defers errors to Scan, like sql.Row.
type Row struct {
	row *sql.Row
	err error
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	*sql.Rows
}

func (r *Rows) Close() {
	_ = r.Rows.Close()
}

// Querier is the raw SQL surface shared by the pool and its transactions.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
}

// Tx is a Querier bound to one open transaction.
type Tx interface {
	Querier
}

// runner executes raw SQL on a gorm handle, either the pool or a transaction.
type runner struct {
	db *gorm.DB
}

func (r runner) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if r.db == nil {
		return &Row{err: errPoolClosed}
	}
	return &Row{row: r.db.WithContext(ctx).Raw(query, args...).Row()}
}

func (r runner) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if r.db == nil {
		return nil, errPoolClosed
	}
	rows, err := r.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{Rows: rows}, nil
}

func (r runner) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if r.db == nil {
		return CommandTag{}, errPoolClosed
	}
	res := r.db.WithContext(ctx).Exec(query, args...)
	return CommandTag{rowsAffected: res.RowsAffected}, res.Error
}
