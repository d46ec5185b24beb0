// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// newProvider builds a goose provider over the embedded users and
// recovery_tokens migrations. The provider must not be closed; it would
// close db.
func newProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectSQLite3, db, fsys)
}

// RunMigrations applies all pending migrations.
func RunMigrations(db *sql.DB) error {
	p, err := newProvider(db)
	if err != nil {
		return err
	}
	results, err := p.Up(context.Background())
	logResults(results)
	return err
}

// MigrateDown rolls back the most recently applied migration. It fails
// with goose.ErrNoNextVersion when nothing is applied.
func MigrateDown(db *sql.DB) error {
	p, err := newProvider(db)
	if err != nil {
		return err
	}
	res, err := p.Down(context.Background())
	if res != nil {
		logResults([]*goose.MigrationResult{res})
	}
	return err
}

// MigrateReset rolls back every applied migration, dropping all tables.
func MigrateReset(db *sql.DB) error {
	p, err := newProvider(db)
	if err != nil {
		return err
	}
	results, err := p.DownTo(context.Background(), 0)
	logResults(results)
	return err
}

// Version reports the current schema version; 0 means nothing is applied.
func Version(db *sql.DB) (int64, error) {
	p, err := newProvider(db)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(context.Background())
}

func logResults(results []*goose.MigrationResult) {
	for _, r := range results {
		slog.Debug("migration applied", "direction", r.Direction, "version", r.Source.Version, "duration", r.Duration)
	}
}
