package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Open opens the thread store database configured in cfg and checks it is
// reachable.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var driver string
	switch cfg.Driver {
	case "sqlite", "":
		driver = "sqlite3"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	dsn := cfg.DSN()

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	if driver == "sqlite3" {
		// Each connection to :memory: is a separate database.
		maxOpen := cfg.SQLite.MaxOpenConns
		if maxOpen <= 0 || dsn == ":memory:" {
			maxOpen = 1
		}
		db.SetMaxOpenConns(maxOpen)
	} else {
		if cfg.Postgres.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// DriverName maps a config driver to the name the migration manager expects.
func DriverName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "postgres" {
		return "postgres"
	}
	return "sqlite"
}
