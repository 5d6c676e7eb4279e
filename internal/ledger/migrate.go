package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/davidahmann/liqueflow/internal/crypto"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// ErrMigrationDrift means a schema file changed after it was applied to the database.
var ErrMigrationDrift = errors.New("applied migration differs from embedded schema")

// Migration is one embedded schema file.
type Migration struct {
	Version  string
	Checksum string
	SQL      string
}

// AppliedMigration is a row of the version table.
type AppliedMigration struct {
	Version   string
	Checksum  string
	AppliedAt string
}

type dialect struct {
	dir    string
	table  string
	create string
	insert string
}

var dialects = map[DBDriver]dialect{
	DBSQLite: {
		dir:   "migrations/sqlite",
		table: "liqueflow_schema_versions",
		create: `CREATE TABLE IF NOT EXISTS liqueflow_schema_versions (
  version TEXT PRIMARY KEY,
  checksum TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`,
		insert: `INSERT INTO liqueflow_schema_versions(version, checksum, applied_at) VALUES(?, ?, ?)`,
	},
	DBPostgres: {
		dir:   "migrations/postgres",
		table: "liqueflow_schema_versions",
		create: `CREATE TABLE IF NOT EXISTS liqueflow_schema_versions (
  version TEXT PRIMARY KEY,
  checksum TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`,
		insert: `INSERT INTO liqueflow_schema_versions(version, checksum, applied_at) VALUES($1, $2, $3)`,
	},
}

func dialectFor(driver DBDriver) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
	return d, nil
}

// Migrations lists the embedded schema files for a driver in version order.
func Migrations(driver DBDriver) ([]Migration, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	entries, err := migrationsFS.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join(d.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{
			Version:  strings.TrimSuffix(e.Name(), ".sql"),
			Checksum: crypto.DigestWithPrefix(body),
			SQL:      string(body),
		})
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// Migrate brings the ledger schema up to date. Each pending file runs in its own transaction
// together with its version row; an already-applied file whose checksum no longer matches
// stops the run with ErrMigrationDrift.
func Migrate(db *sql.DB, driver DBDriver) error {
	if db == nil {
		return fmt.Errorf("missing db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return err
	}
	if _, err := db.Exec(d.create); err != nil {
		return fmt.Errorf("create %s: %w", d.table, err)
	}

	pending, err := Migrations(driver)
	if err != nil {
		return err
	}
	applied, err := AppliedMigrations(db, driver)
	if err != nil {
		return err
	}
	done := make(map[string]string, len(applied))
	for _, a := range applied {
		done[a.Version] = a.Checksum
	}

	for _, m := range pending {
		if sum, ok := done[m.Version]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("%w: %s", ErrMigrationDrift, m.Version)
			}
			continue
		}
		if err := apply(db, d, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func apply(db *sql.DB, d dialect, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(d.insert, m.Version, m.Checksum, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AppliedMigrations reads the version table. It returns nothing before the first Migrate.
func AppliedMigrations(db *sql.DB, driver DBDriver) ([]AppliedMigration, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(d.create); err != nil {
		return nil, err
	}
	rows, err := db.Query(fmt.Sprintf(`SELECT version, checksum, applied_at FROM %s ORDER BY version`, d.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
