// Package postgres provides the pgx backed database.Connection.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
)

func init() {
	database.RegisterPostgresDriver(NewConnection)
}

const applicationName = "circulum"

// Connection is a pgxpool.Pool exposed as a database.Connection.
type Connection struct {
	runner
	pool *pgxpool.Pool

	stdOnce sync.Once
	std     *sql.DB
}

// NewConnection connects to cfg.URL and verifies the server is reachable.
func NewConnection(ctx context.Context, cfg database.Config) (database.Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database url is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(min(cfg.MaxConns, math.MaxInt32))
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach postgres: %w", err)
	}

	return &Connection{runner: runner{q: pool}, pool: pool}, nil
}

// Pool returns the underlying pool.
func (c *Connection) Pool() *pgxpool.Pool { return c.pool }

// SQLDB returns a database/sql view over the pool for goose. It shares the
// pool's connections and is closed with the Connection.
func (c *Connection) SQLDB() (*sql.DB, error) {
	c.stdOnce.Do(func() {
		c.std = stdlib.OpenDBFromPool(c.pool)
	})
	return c.std, nil
}

// Driver reports database.DriverPostgres.
func (c *Connection) Driver() database.Driver { return database.DriverPostgres }

func (c *Connection) Close() error {
	if c.std != nil {
		_ = c.std.Close()
	}
	c.pool.Close()
	return nil
}

func (c *Connection) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin postgres tx: %w", err)
	}
	return &Transaction{runner: runner{q: tx}, tx: tx}, nil
}

// Transaction wraps pgx.Tx.
type Transaction struct {
	runner
	tx pgx.Tx
}

func (t *Transaction) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Transaction) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type runner struct {
	q querier
}

func (r runner) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTag{tag: tag}, nil
}

func (r runner) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return r.q.QueryRow(ctx, query, args...)
}

func (r runner) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows: rows}, nil
}

// commandTag reports rows affected. Postgres ids come from RETURNING.
type commandTag struct {
	tag pgconn.CommandTag
}

func (r commandTag) RowsAffected() (int64, error) { return r.tag.RowsAffected(), nil }

func (r commandTag) LastInsertId() (int64, error) {
	return 0, errors.New("postgres: LastInsertId is unsupported, use RETURNING")
}

type pgxRows struct {
	rows pgx.Rows
}

func (r pgxRows) Next() bool             { return r.rows.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error             { return r.rows.Err() }

func (r pgxRows) Close() error {
	r.rows.Close()
	return nil
}
