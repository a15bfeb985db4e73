// Package history provides a SQLite-backed archive of imported trace runs,
// so traces from successive program executions survive the overwrite-per-run
// trace file and stay queryable.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/peek-go/peek/pkg/trace"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the archive database.
type DB struct {
	db *sql.DB
}

// Run describes one imported trace file.
type Run struct {
	ID         string    `json:"id"`
	ImportedAt time.Time `json:"imported_at"`
	SourcePath string    `json:"source_path"`
	Records    int       `json:"records"`
}

// Open creates or opens the archive database at path, applying pragmas and
// the schema. Safe to call repeatedly.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Import archives a record sequence as a new run and returns its ID.
func (d *DB) Import(ctx context.Context, sourcePath string, records []trace.Record) (string, error) {
	runID := uuid.Must(uuid.NewV7()).String()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, imported_at, source_path, records)
		VALUES (?, ?, ?, ?)
	`, runID, time.Now().UTC().Format(time.RFC3339), sourcePath, len(records))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for seq, r := range records {
		outcome, err := json.Marshal(r.Outcome)
		if err != nil {
			return "", fmt.Errorf("failed to encode outcome at seq %d: %w", seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (run_id, seq, kind, file_path, line, label, outcome_prefix, outcome)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, seq, string(r.Kind), r.FilePath, r.Line, r.Label, r.OutcomePrefix, string(outcome))
		if err != nil {
			return "", fmt.Errorf("failed to insert record at seq %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit import: %w", err)
	}
	return runID, nil
}

// Runs lists archived runs, newest first.
func (d *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, imported_at, source_path, records
		FROM runs
		ORDER BY imported_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var imported string
		if err := rows.Scan(&run.ID, &imported, &run.SourcePath, &run.Records); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.ImportedAt, err = time.Parse(time.RFC3339, imported)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run timestamp: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Records returns a run's record sequence in original order. An optional
// kind filter narrows the result.
func (d *DB) Records(ctx context.Context, runID string, kind trace.Kind) ([]trace.Record, error) {
	query := `
		SELECT kind, file_path, line, label, outcome_prefix, outcome
		FROM records
		WHERE run_id = ?
	`
	args := []any{runID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY seq ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []trace.Record
	for rows.Next() {
		var r trace.Record
		var kindStr, outcome string
		if err := rows.Scan(&kindStr, &r.FilePath, &r.Line, &r.Label, &r.OutcomePrefix, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Kind = trace.Kind(kindStr)
		if err := json.Unmarshal([]byte(outcome), &r.Outcome); err != nil {
			return nil, fmt.Errorf("failed to decode outcome: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
