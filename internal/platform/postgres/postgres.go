package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/lumenshop/orders-api/internal/platform/config"
)

// Querier is the subset of pgx operations repositories need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, which lets repositories run inside or outside a
// transaction without knowing the difference.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

// DB wraps the connection pool and exposes transactional execution.
type DB struct {
	pool *pgxpool.Pool
}

// Connect opens the pool, verifies connectivity and applies pending goose
// migrations.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if cfg.MigrationsDir != "" {
		if err := goose.SetDialect("postgres"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: set goose dialect: %w", err)
		}
		db := stdlib.OpenDBFromPool(pool)
		if err := goose.Up(db, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: migrate: %w", err)
		}
		if err := db.Close(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: close migration handle: %w", err)
		}
	}

	return &DB{pool: pool}, nil
}

// Close releases the pool for graceful shutdown.
func (d *DB) Close() {
	d.pool.Close()
}

// Ping verifies connectivity, used by readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// RunInTx executes fn inside a single transaction. The transaction handle is
// carried on the context so that repository calls made within fn join it.
// Nested calls reuse the already-open transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

// Querier returns the transaction bound to ctx when present, otherwise the
// shared pool.
func (d *DB) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return d.pool
}
