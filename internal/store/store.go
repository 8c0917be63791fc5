// Package store holds the Postgres repositories the reminder engine reads
// from and the transaction helper it writes through.
package store

import (
	"context"
	"database/sql"
	"errors"

	apperrors "reminder-engine/internal/common/errors"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("NOT_FOUND")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

// Postgres is the transaction runner backed by a *sql.DB.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the pool for non-transactional reads.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// WithTx commits when fn returns nil and rolls back otherwise. fn's error is
// returned unchanged, or joined with the rollback error when rollback fails;
// begin and commit failures are fatal engine errors.
func (p *Postgres) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("begin transaction", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return apperrors.NewStorageError("rollback", errors.Join(err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewCommitFailedError(err)
	}
	return nil
}
