package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// WithTx returns a context carrying tx. Repositories that find it join the
// transaction instead of opening their own, so their writes commit or roll
// back with the caller's.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction carried by ctx, if any.
func TxFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// Begin starts a transaction on pool, or a savepoint inside the transaction
// carried by ctx.
func Begin(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, error) {
	if outer, ok := TxFrom(ctx); ok {
		return outer.Begin(ctx)
	}
	return pool.Begin(ctx)
}
