// Package migrate applies the embedded schema for token bundles, CIBA grants
// and consolidated authorizations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed sql/*/*.sql
var migrationsFS embed.FS

// VersionTable records applied migrations.
const VersionTable = "schema_migrations"

// Options selects the database and the goose command to run against it.
type Options struct {
	Driver  string // postgres or sqlite
	DSN     string
	Command string // up, down, status, version, up-to, down-to, redo, reset
	Target  int64  // up-to and down-to only
	Logger  *log.Logger
}

// Target describes how one database flavour is migrated.
type Target struct {
	SQLDriver string // database/sql driver name
	Dialect   string // goose dialect
	Dir       string // directory under the embedded tree
}

var targets = map[string]Target{
	"postgres": {SQLDriver: "postgres", Dialect: "postgres", Dir: "sql/postgres"},
	"sqlite":   {SQLDriver: "sqlite", Dialect: "sqlite3", Dir: "sql/sqlite"},
}

// Lookup resolves a configured driver name, accepting the usual aliases.
func Lookup(driver string) (Target, error) {
	name := strings.ToLower(strings.TrimSpace(driver))
	switch name {
	case "pgx", "postgresql":
		name = "postgres"
	case "sqlite3":
		name = "sqlite"
	}
	t, ok := targets[name]
	if !ok {
		return Target{}, fmt.Errorf("unsupported migration driver: %q", driver)
	}
	return t, nil
}

type command func(ctx context.Context, db *sql.DB, opts Options) error

var commands = map[string]command{
	"up": func(ctx context.Context, db *sql.DB, _ Options) error {
		return goose.UpContext(ctx, db, ".")
	},
	"down": func(ctx context.Context, db *sql.DB, _ Options) error {
		return goose.DownContext(ctx, db, ".")
	},
	"status": func(ctx context.Context, db *sql.DB, _ Options) error {
		return goose.StatusContext(ctx, db, ".")
	},
	"version": func(ctx context.Context, db *sql.DB, _ Options) error {
		return goose.VersionContext(ctx, db, ".")
	},
	"up-to": func(ctx context.Context, db *sql.DB, o Options) error {
		return goose.UpToContext(ctx, db, ".", o.Target)
	},
	"down-to": func(ctx context.Context, db *sql.DB, o Options) error {
		return goose.DownToContext(ctx, db, ".", o.Target)
	},
	"redo": func(ctx context.Context, db *sql.DB, _ Options) error {
		return goose.RedoContext(ctx, db, ".")
	},
	"reset": func(ctx context.Context, db *sql.DB, _ Options) error {
		return goose.ResetContext(ctx, db, ".")
	},
}

// Run is RunContext with a background context.
func Run(opts Options) error {
	return RunContext(context.Background(), opts)
}

// RunContext executes opts.Command. An empty driver or DSN is a no-op so a
// deployment without a database configured can start.
func RunContext(ctx context.Context, opts Options) error {
	if strings.TrimSpace(opts.Driver) == "" || strings.TrimSpace(opts.DSN) == "" {
		return nil
	}
	name := strings.ToLower(strings.TrimSpace(opts.Command))
	if name == "" {
		name = "up"
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown migration command: %s", opts.Command)
	}
	t, err := Lookup(opts.Driver)
	if err != nil {
		return err
	}

	dir, err := fs.Sub(migrationsFS, t.Dir)
	if err != nil {
		return err
	}
	goose.SetBaseFS(dir)
	goose.SetTableName(VersionTable)
	if opts.Logger != nil {
		goose.SetLogger(opts.Logger)
	}
	if err := goose.SetDialect(t.Dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	db, err := sql.Open(t.SQLDriver, opts.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := cmd(ctx, db, opts); err != nil {
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	return nil
}
