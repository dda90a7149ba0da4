package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bengobox/signin-service/internal/config"
)

func TestSplitDatabaseURL(t *testing.T) {
	name, admin, err := splitDatabaseURL("postgres://u:p@db:5432/signin%20service?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "signin service", name)
	assert.Equal(t, "postgres://u:p@db:5432/postgres?sslmode=disable", admin)

	_, _, err = splitDatabaseURL("postgres://u:p@db:5432/")
	assert.Error(t, err)
}

func TestEnsureDatabaseSkipsSQLite(t *testing.T) {
	created, err := EnsureDatabase(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, URL: "file:x.db"}, "")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "sqlite3", Dialect(DriverSQLite))
	assert.Equal(t, "postgres", Dialect(DriverPostgres))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Contains(t, sqliteDSN("/tmp/a.db"), "/tmp/a.db?_pragma=foreign_keys(1)")
	assert.Contains(t, sqliteDSN("file:a.db?mode=rwc"), "file:a.db?mode=rwc&_pragma=")
	assert.Equal(t, "a.db?_pragma=busy_timeout(1)", sqliteDSN("a.db?_pragma=busy_timeout(1)"))
}
