package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/schema"
)

// WriteCommit journals one commit event in a single SQLite transaction:
// the commit record, its row ops, the mirror rows it touched and the
// sequence high-water marks of the tables it wrote.
//
// Mirror rows keep their seq across updates so mirror order matches the
// datastore's insertion order.
func (s *Store) WriteCommit(ctx context.Context, ds *datastore.Datastore, ev datastore.CommitEvent) error {
	module := ds.Module()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO commits (version, tx_id, origin, committed_at)
		VALUES (?, ?, ?, ?)
	`, ev.Version, ev.TxID, ev.Origin, ev.Time.UnixMicro())
	if err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	commitSeq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("write commit: %w", err)
	}

	touched := make(map[string]bool)
	for i, c := range ev.Changes {
		def, ok := module.Table(c.Table)
		if !ok {
			return fmt.Errorf("write commit: unknown table %q", c.Table)
		}
		touched[c.Table] = true
		if err := writeChange(ctx, tx, commitSeq, i, def, c); err != nil {
			return fmt.Errorf("write commit: %w", err)
		}
	}

	for name := range touched {
		def, _ := module.Table(name)
		if !def.AutoInc {
			continue
		}
		n, err := ds.Sequence(name)
		if err != nil {
			return fmt.Errorf("write commit: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sequences (table_name, value) VALUES (?, ?)
			ON CONFLICT(table_name) DO UPDATE SET value = MAX(value, excluded.value)
		`, name, int64(n)); err != nil {
			return fmt.Errorf("write commit: sequence %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write commit: commit: %w", err)
	}
	return nil
}

func writeChange(ctx context.Context, tx *sql.Tx, commitSeq int64, ordinal int, def *schema.TableDef, c datastore.Change) error {
	rowType := def.RowType()

	row := c.New
	if c.Kind == datastore.ChangeDelete {
		row = c.Old
	}
	enc, err := encodeRow(def, rowType, row)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO row_ops (commit_seq, ordinal, table_name, kind, doc, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, commitSeq, ordinal, def.Name, c.Kind.String(), enc.doc, enc.data); err != nil {
		return fmt.Errorf("row op %s: %w", def.Name, err)
	}

	switch c.Kind {
	case datastore.ChangeInsert:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO row_mirror (table_name, row_key, doc, data)
			VALUES (?, ?, ?, ?)
		`, def.Name, enc.key, enc.doc, enc.data)
	case datastore.ChangeUpdate:
		// Updates never change the primary key, so the old key is the new key.
		_, err = tx.ExecContext(ctx, `
			UPDATE row_mirror SET doc = ?, data = ?
			WHERE table_name = ? AND row_key = ?
		`, enc.doc, enc.data, def.Name, enc.key)
	case datastore.ChangeDelete:
		_, err = tx.ExecContext(ctx, `
			DELETE FROM row_mirror WHERE table_name = ? AND row_key = ?
		`, def.Name, enc.key)
	default:
		err = fmt.Errorf("unknown change kind %s", c.Kind)
	}
	if err != nil {
		return fmt.Errorf("mirror %s: %w", def.Name, err)
	}
	return nil
}

// Attach subscribes the journal to ds so every later commit is written.
//
// Listeners cannot fail a commit that already happened, so journal errors
// are logged and the in-memory state stays authoritative.
func (s *Store) Attach(ds *datastore.Datastore) {
	ds.Subscribe(func(ev datastore.CommitEvent) {
		if err := s.WriteCommit(context.Background(), ds, ev); err != nil {
			slog.Error("journal write failed",
				"version", ev.Version,
				"tx_id", ev.TxID,
				"origin", ev.Origin,
				"error", err)
		}
	})
}

// rowKind maps a journaled kind back to a datastore.ChangeKind.
func rowKind(s string) (datastore.ChangeKind, error) {
	switch s {
	case "insert":
		return datastore.ChangeInsert, nil
	case "update":
		return datastore.ChangeUpdate, nil
	case "delete":
		return datastore.ChangeDelete, nil
	}
	return 0, fmt.Errorf("unknown row op kind %q", s)
}
