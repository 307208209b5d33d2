package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tablet/internal/datastore"
	"github.com/roach88/tablet/internal/ir"
	"github.com/roach88/tablet/internal/query"
	"github.com/roach88/tablet/internal/querysql"
	"github.com/roach88/tablet/internal/schema"
)

// CommitRecord is one journaled commit.
type CommitRecord struct {
	Seq     int64
	Version uint64
	TxID    string
	Origin  string
	Time    time.Time
	Ops     []RowOp
}

// RowOp is one journaled row change. Doc is the new row for inserts and
// updates and the removed row for deletes.
type RowOp struct {
	Table string
	Kind  datastore.ChangeKind
	Doc   string
}

// ReadCommits returns the most recent commits, oldest first. A limit of
// zero or less returns the whole journal. When table is non-empty only ops
// on that table are returned, and commits without any are skipped.
func (s *Store) ReadCommits(ctx context.Context, table string, limit int) ([]CommitRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, version, tx_id, origin, committed_at FROM (
			SELECT c.seq, c.version, c.tx_id, c.origin, c.committed_at
			FROM commits c
			WHERE ? = '' OR EXISTS (
				SELECT 1 FROM row_ops o WHERE o.commit_seq = c.seq AND o.table_name = ?
			)
			ORDER BY c.seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, table, table, limit)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	var commits []CommitRecord
	for rows.Next() {
		var rec CommitRecord
		var version, at int64
		if err := rows.Scan(&rec.Seq, &version, &rec.TxID, &rec.Origin, &at); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		rec.Version = uint64(version)
		rec.Time = time.UnixMicro(at).UTC()
		commits = append(commits, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}

	for i := range commits {
		ops, err := s.readOps(ctx, commits[i].Seq, table)
		if err != nil {
			return nil, err
		}
		commits[i].Ops = ops
	}

	// Return empty slice instead of nil
	if commits == nil {
		commits = []CommitRecord{}
	}
	return commits, nil
}

func (s *Store) readOps(ctx context.Context, commitSeq int64, table string) ([]RowOp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, kind, doc
		FROM row_ops
		WHERE commit_seq = ? AND (? = '' OR table_name = ?)
		ORDER BY ordinal ASC
	`, commitSeq, table, table)
	if err != nil {
		return nil, fmt.Errorf("query row ops: %w", err)
	}
	defer rows.Close()

	var ops []RowOp
	for rows.Next() {
		var op RowOp
		var kind string
		if err := rows.Scan(&op.Table, &kind, &op.Doc); err != nil {
			return nil, fmt.Errorf("scan row op: %w", err)
		}
		if op.Kind, err = rowKind(kind); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate row ops: %w", err)
	}
	return ops, nil
}

// Restore loads the mirror into an empty datastore in one transaction and
// advances every journaled auto-increment sequence. Call it before Attach
// so the restoring commit is not journaled again.
func (s *Store) Restore(ctx context.Context, ds *datastore.Datastore) (int, error) {
	module := ds.Module()
	tx := ds.Begin(datastore.WithOrigin("restore"))
	defer tx.Abort()

	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, data FROM row_mirror ORDER BY seq ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("restore: query mirror: %w", err)
	}
	defer rows.Close()

	types := make(map[string]ir.Type)
	count := 0
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return 0, fmt.Errorf("restore: scan: %w", err)
		}
		def, ok := module.Table(name)
		if !ok {
			return 0, fmt.Errorf("restore: journal has rows for unknown table %q", name)
		}
		rowType, ok := types[name]
		if !ok {
			rowType = def.RowType()
			types[name] = rowType
		}
		row, err := decodeRow(def, rowType, data)
		if err != nil {
			return 0, fmt.Errorf("restore: %w", err)
		}
		h, err := tx.Table(name)
		if err != nil {
			return 0, fmt.Errorf("restore: %w", err)
		}
		if _, err := h.Insert(row); err != nil {
			return 0, fmt.Errorf("restore: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("restore: iterate: %w", err)
	}
	rows.Close()

	if err := s.restoreSequences(ctx, ds); err != nil {
		return 0, err
	}
	if _, err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("restore: commit: %w", err)
	}
	return count, nil
}

func (s *Store) restoreSequences(ctx context.Context, ds *datastore.Datastore) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, value FROM sequences ORDER BY table_name ASC
	`)
	if err != nil {
		return fmt.Errorf("restore: query sequences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("restore: scan sequence: %w", err)
		}
		if _, ok := ds.Module().Table(name); !ok {
			continue
		}
		if err := ds.AdvanceSequence(name, uint64(value)); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	return rows.Err()
}

// QueryRows evaluates q against the mirror with SQL. Results come back in
// insertion order. Queries the SQL compiler cannot express exactly fail
// rather than returning a different answer than query.Evaluate would.
func (s *Store) QueryRows(ctx context.Context, def *schema.TableDef, q *query.Select) ([]ir.Struct, error) {
	sqlText, params, err := querysql.NewSQLCompiler(def).Compile(q)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	rowType := def.RowType()
	out := []ir.Struct{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("query rows: scan: %w", err)
		}
		row, err := rowFromDoc(def, rowType, doc)
		if err != nil {
			return nil, fmt.Errorf("query rows: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query rows: iterate: %w", err)
	}
	return out, nil
}
