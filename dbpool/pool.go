// Package dbpool owns the SQL connection pool the entity adapters use to
// load uncached rows. It is a thin wrapper over pgxpool so adapters depend
// on a small interface rather than the pgx package directly.
package dbpool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of *pgxpool.Pool the entity adapters need. Narrowed
// to an interface so loader SQL can be tested against a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
}

// pgconnCommandTag avoids importing pgconn just for the Exec return type in
// this narrowed interface; pgxpool.Pool.Exec already returns pgconn.CommandTag,
// which satisfies this alias.
type pgconnCommandTag = interface {
	RowsAffected() int64
}

// Pool wraps *pgxpool.Pool.
type Pool struct {
	pool *pgxpool.Pool
}

// Open connects using the given DSN. The pool is the system of record for
// every entity adapter's loader SQL; cache layer correctness never depends
// on pool internals beyond "queries eventually return."
func Open(ctx context.Context, dsn string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dbpool: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// FromPgxPool wraps an already-constructed pool.
func FromPgxPool(pool *pgxpool.Pool) *Pool {
	return &Pool{pool: pool}
}

func (p *Pool) Close() { p.pool.Close() }

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag, err
}

var _ Querier = (*Pool)(nil)
