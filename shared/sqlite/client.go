// Package sqlite opens file-backed SQLite databases through sqlx
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver registered by go-sqlite3
const DriverName = "sqlite3"

// DefaultPath is used when no database file is configured
const DefaultPath = "publish.db"

// Open opens (creating if needed) the database at path and applies the schema statements
func Open(ctx context.Context, path string, logger *slog.Logger, schema ...string) (*sqlx.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sqlx.Open(DriverName, path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer at a time; readers share the same connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}
	}

	logger.Info("SQLite database ready",
		slog.String("path", path),
	)
	return db, nil
}

// IsUniqueViolation reports whether err is a SQLite primary key or unique constraint failure
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
