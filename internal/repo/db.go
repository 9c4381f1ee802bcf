// Package repo implements the data persistence layer for the book catalog,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-books-backend/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database, applies PRAGMAs, tunes the
// connection pool, and registers the OpenTelemetry tracing plugin so every
// query shows up as a child span of the request.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates/updates the schema and installs the filtered uniqueness
// index on live titles. The index is the final arbiter for concurrent creates
// with the same title: the service pre-check only exists to produce a friendly
// typed error in the common case.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Book{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	// GORM tags cannot express a functional partial index, so it is created here.
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_books_live_title ON books (lower(title)) WHERE is_deleted = 0`,
	).Error
}
