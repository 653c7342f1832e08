// Package storage gives services transactional access to PostgreSQL through
// a pgx connection pool.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drblury/relayflow/internal/runtime/logging"
)

// Querier is the part of a pgx transaction repositories need.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPool is the pool constructor used by Open. Tests override it.
var NewPool = func(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// DB hands out transactional sessions.
type DB struct {
	beginner Beginner
	closer   func()
	logger   logging.ServiceLogger
}

// Open connects to databaseURL.
func Open(ctx context.Context, databaseURL string, logger logging.ServiceLogger) (*DB, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	db := New(pool, logger)
	db.closer = pool.Close
	db.logger.Info("Database connection established", nil)
	return db, nil
}

// New wraps an existing transaction source. Close on the result does not
// close b.
func New(b Beginner, logger logging.ServiceLogger) *DB {
	return &DB{beginner: b, logger: logging.OrNop(logger)}
}

// WithSession runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn fails or panics. Panics are re-raised
// after the rollback.
func (db *DB) WithSession(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := db.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			db.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		db.rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func (db *DB) rollback(ctx context.Context, tx pgx.Tx) {
	err := tx.Rollback(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		db.logger.Error("Rollback failed", err, nil)
	}
}

// Close releases the pool opened by Open.
func (db *DB) Close() {
	if db.closer != nil {
		db.closer()
	}
}
