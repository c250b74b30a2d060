package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		driver  string
		dialect string
		dir     string
	}{
		{"postgres", "postgres", "sql/postgres"},
		{"pgx", "postgres", "sql/postgres"},
		{"sqlite", "sqlite3", "sql/sqlite"},
		{"SQLite3", "sqlite3", "sql/sqlite"},
	}
	for _, tt := range tests {
		got, err := Lookup(tt.driver)
		require.NoError(t, err, tt.driver)
		assert.Equal(t, tt.dialect, got.Dialect, tt.driver)
		assert.Equal(t, tt.dir, got.Dir, tt.driver)
	}

	_, err := Lookup("mysql")
	assert.Error(t, err)
}

func TestRunSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "migrate.db")
	require.NoError(t, Run(Options{Driver: "sqlite", DSN: dsn, Command: "up"}))

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"oauth_token", "ciba_grant", "authorization_granted"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	require.NoError(t, Run(Options{Driver: "sqlite", DSN: dsn, Command: "reset"}))
}

func TestRunNoop(t *testing.T) {
	assert.NoError(t, Run(Options{}))
}

func TestRunUnknownCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "migrate.db")
	err := Run(Options{Driver: "sqlite3", DSN: dsn, Command: "sideways"})
	assert.ErrorContains(t, err, "unknown migration command")
}
