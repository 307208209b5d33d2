package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting together with the value SQLite reports
// back once it is applied.
type pragma struct {
	name  string
	value string
	want  string
}

// WAL lets `tablet log` and `tablet query --mirror` read a journal while a
// host process keeps appending to it.
var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// migrations[i] upgrades a journal from user_version i to i+1. Fresh
// journals start at 0 and run every step.
var migrations = []func(context.Context, *sql.Tx) error{
	// v1: row_ops by table, for `tablet log --table` on long journals.
	func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_row_ops_table
			ON row_ops(table_name, commit_seq)
		`)
		return err
	},
}

// currentSchemaVersion is the user_version of a fully migrated journal.
var currentSchemaVersion = len(migrations)

// Store is the SQLite commit journal and current-state mirror of one
// datastore.
type Store struct {
	db *sql.DB
}

// Open creates or opens a journal at path and brings its schema up to
// date. Opening the same path twice is safe.
func Open(path string) (*Store, error) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection: SQLite has a single writer, and the pragmas above
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to journal: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to set %s: %w", p.name, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return s.migrate(ctx)
}

// migrate runs every migration past the journal's user_version in one
// transaction.
func (s *Store) migrate(ctx context.Context) error {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for v := version; v < currentSchemaVersion; v++ {
		if err := migrations[v](ctx, tx); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the journal's user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// Close closes the journal. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// checkPragmas reports the first connection setting that did not take.
func (s *Store) checkPragmas(ctx context.Context) error {
	for _, p := range pragmas {
		var got string
		if err := s.db.QueryRowContext(ctx, "PRAGMA "+p.name).Scan(&got); err != nil {
			return fmt.Errorf("read %s: %w", p.name, err)
		}
		if got != p.want {
			return fmt.Errorf("%s = %q, want %q", p.name, got, p.want)
		}
	}
	return nil
}
