// Package archive keeps the latest reconciled record set in Postgres for
// ad-hoc querying. Every run replaces the previous set.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/table"
)

const recordsTable = "lead_records"

const schemaSQL = `CREATE TABLE IF NOT EXISTS lead_records (
	phone_key    TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	created_at   DATE,
	phone        TEXT,
	source       TEXT,
	status       TEXT,
	subscription TEXT,
	relevant     TEXT,
	did_trial    TEXT,
	source_file  TEXT,
	fields       JSONB NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL
)`

var copyColumns = []string{
	"phone_key", "run_id", "created_at", "phone", "source", "status",
	"subscription", "relevant", "did_trial", "source_file", "fields", "archived_at",
}

// Archive writes reconciled tables to Postgres.
type Archive struct {
	db     *sql.DB
	schema datanorm.Schema
	now    func() time.Time
}

// Open connects with the postgres driver.
func Open(dsn string, schema datanorm.Schema) (*Archive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	return New(db, schema), nil
}

func New(db *sql.DB, schema datanorm.Schema) *Archive {
	return &Archive{db: db, schema: schema, now: time.Now}
}

// DB exposes the pool for the advisory-lock fallback.
func (a *Archive) DB() *sql.DB { return a.db }

func (a *Archive) Close() error { return a.db.Close() }

// EnsureSchema creates the records table when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create %s: %w", recordsTable, err)
	}
	return nil
}

// Replace swaps the archived set for t inside one transaction, bulk
// loading with COPY.
func (a *Archive) Replace(ctx context.Context, runID string, t *table.Table) (err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM "+recordsTable); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(recordsTable, copyColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	now := a.now().UTC()
	for r := range t.Rows {
		args, rowErr := a.rowArgs(t, r, runID, now)
		if rowErr != nil {
			stmt.Close()
			return rowErr
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return fmt.Errorf("copy row %d: %w", r, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	return tx.Commit()
}

func (a *Archive) rowArgs(t *table.Table, r int, runID string, now time.Time) ([]any, error) {
	fields := make(map[string]any, len(t.Columns))
	for i, c := range t.Columns {
		if v := t.Rows[r][i]; !v.IsNull() && !v.IsNaN() {
			fields[c] = v.String()
		}
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode row %d: %w", r, err)
	}

	var created any
	if v := t.Get(r, a.schema.CreatedAt); v.Kind == table.KindDate {
		created = v.Time
	}
	return []any{
		t.Get(r, datanorm.KeyColumn).String(),
		runID,
		created,
		text(t.Get(r, a.schema.Phone)),
		text(t.Get(r, a.schema.Source)),
		text(t.Get(r, a.schema.Status)),
		text(t.Get(r, a.schema.Subscription)),
		text(t.Get(r, a.schema.Relevant)),
		text(t.Get(r, a.schema.DidTrial)),
		text(t.Get(r, a.schema.SourceFile)),
		string(blob),
		now,
	}, nil
}

func text(v table.Value) any {
	if v.IsNull() || v.IsNaN() {
		return nil
	}
	return v.String()
}

// Count returns the number of archived records.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+recordsTable).Scan(&n)
	return n, err
}
