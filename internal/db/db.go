// Package db provides PostgreSQL-backed repositories for entitlement
// state, processed webhook events, coupons and the trial ledger. All
// repositories accept a DBTX interface satisfied by both *pgxpool.Pool
// and pgx.Tx, so the same code runs inside or outside a transaction.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolDB is what the Store needs from the connection pool: plain
// queries plus the ability to open transactions.
type PoolDB interface {
	DBTX
	TxBeginner
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func WithTx(ctx context.Context, beginner TxBeginner, fn func(tx DBTX) error) error {
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
