// Package migrations applies the embedded schema with goose.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
)

//go:embed sql/*.sql
var embedded embed.FS

// dialect maps a connection driver onto goose's dialect.
func dialect(d database.Driver) (goose.Dialect, error) {
	switch d {
	case database.DriverPostgres:
		return goose.DialectPostgres, nil
	case database.DriverSQLite:
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("no migration dialect for driver %q", d)
	}
}

func newProvider(conn database.Connection) (*goose.Provider, error) {
	d, err := dialect(conn.Driver())
	if err != nil {
		return nil, err
	}
	db, err := database.SQLDB(conn)
	if err != nil {
		return nil, err
	}
	migrations, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return goose.NewProvider(d, db, migrations)
}

// Migrate applies all pending migrations and returns the versions it applied.
func Migrate(ctx context.Context, conn database.Connection, logger *slog.Logger) ([]int64, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := newProvider(conn)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		logger.Info("migration applied",
			"version", r.Source.Version,
			"file", r.Source.Path,
			"duration", r.Duration,
		)
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// Version returns the current schema version.
func Version(ctx context.Context, conn database.Connection) (int64, error) {
	provider, err := newProvider(conn)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
