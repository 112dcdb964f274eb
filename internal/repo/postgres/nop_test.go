package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// nopDB fails every call; validation tests must return before touching it.
type nopDB struct{}

func (nopDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("unexpected exec")
}

func (nopDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (nopDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
