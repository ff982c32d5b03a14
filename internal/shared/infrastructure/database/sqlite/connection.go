// Package sqlite provides the modernc.org/sqlite backed database.Connection
// used in local mode and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
)

func init() {
	database.RegisterSQLiteDriver(NewConnection)
}

// WAL plus a busy timeout lets the API and the scheduler share one file.
var pragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// Connection is a single-writer SQLite handle.
type Connection struct {
	runner
	db   *sql.DB
	path string
}

// NewConnection opens (creating when needed) the database at cfg.SQLitePath.
func NewConnection(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = database.DefaultSQLitePath()
	}
	if err := database.EnsureDirectory(path); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// Seat reservation and failure counters rely on serialized writes. A
	// single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	return &Connection{runner: runner{q: db}, db: db, path: path}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteString(sep)
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// Path returns the database file path.
func (c *Connection) Path() string { return c.path }

// DB returns the underlying sql.DB.
func (c *Connection) DB() *sql.DB { return c.db }

// SQLDB implements database.StdlibProvider for goose migrations.
func (c *Connection) SQLDB() (*sql.DB, error) { return c.db, nil }

// Driver reports database.DriverSQLite.
func (c *Connection) Driver() database.Driver { return database.DriverSQLite }

func (c *Connection) Close() error { return c.db.Close() }

func (c *Connection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// BeginTx starts a transaction. Statements issued through the returned
// Transaction share the connection's single writer slot.
func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sqlite tx: %w", err)
	}
	return &Transaction{runner: runner{q: tx}, tx: tx}, nil
}

// Transaction wraps sql.Tx.
type Transaction struct {
	runner
	tx *sql.Tx
}

func (t *Transaction) Commit(context.Context) error { return t.tx.Commit() }

func (t *Transaction) Rollback(context.Context) error { return t.tx.Rollback() }

// querier is the part of sql.DB and sql.Tx that runner needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner adapts a querier to database.Executor.
type runner struct {
	q querier
}

func (r runner) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return database.WrapSQLResult(res), nil
}

func (r runner) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return r.q.QueryRowContext(ctx, query, args...)
}

func (r runner) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return database.WrapSQLRows(rows), nil
}
