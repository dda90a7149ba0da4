package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bengobox/signin-service/internal/config"
)

// EnsureDatabase creates the Postgres database named in cfg.URL when it does not exist.
// adminURL points at a database the role can connect to; empty means the "postgres" database
// on the same server. SQLite files are created on open, so nothing happens for sqlite.
func EnsureDatabase(ctx context.Context, cfg config.DatabaseConfig, adminURL string) (bool, error) {
	if cfg.Driver != DriverPostgres {
		return false, nil
	}
	name, admin, err := splitDatabaseURL(cfg.URL)
	if err != nil {
		return false, err
	}
	if adminURL != "" {
		admin = adminURL
	}

	db, err := sql.Open("pgx", admin)
	if err != nil {
		return false, fmt.Errorf("open admin connection: %w", err)
	}
	defer db.Close()

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database %q: %w", name, err)
	}
	if exists {
		return false, nil
	}
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return false, fmt.Errorf("create database %q: %w", name, err)
	}
	return true, nil
}

// splitDatabaseURL returns the database name of dsn and the same URL pointed at "postgres".
func splitDatabaseURL(dsn string) (string, string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("parse database url: %w", err)
	}
	name, err := url.PathUnescape(strings.TrimPrefix(parsed.Path, "/"))
	if err != nil {
		return "", "", fmt.Errorf("unescape database name: %w", err)
	}
	if name == "" {
		return "", "", fmt.Errorf("no database name in url")
	}
	parsed.Path = "/postgres"
	return name, parsed.String(), nil
}
