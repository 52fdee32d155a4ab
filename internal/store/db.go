// Package store implements the persistence gateway on top of pgx. All
// multi-step writes go through WithTx so composed operations share one
// transaction carried on the context.
package store

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/ariavoice/aria/internal/backoff"
	"github.com/ariavoice/aria/internal/domain"
)

type Store struct {
	db DB
}

// DB is the querying surface the store needs. *pgxpool.Pool satisfies it in
// production; tests substitute a pgxmock pool.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a traced pgx pool and verifies connectivity. Vector types
// are registered on every connection for face embedding columns.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}

	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

type txKey struct{}

// WithTx runs fn inside a transaction. Nested calls join the transaction
// already on the context.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	ctx = context.WithValue(ctx, txKey{}, tx)

	if err := fn(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// withRetry wraps a write with the transient-storage retry policy and maps
// exhaustion to ErrStorageUnavailable. Never used inside WithTx bodies: a
// failed transaction must not be partially retried.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := backoff.Retry(ctx, backoff.Storage, func(ctx context.Context, _ int) error {
		return fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
	}
	return nil
}
