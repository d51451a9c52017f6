// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history records harvest runs in a local SQLite database so
// operators can audit what was fetched, when, and whether it completed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ken-ando/paper-citation/internal/harvest"
	"github.com/ken-ando/paper-citation/internal/jsonl"
)

// DefaultPath is where the harvest CLI keeps its run history.
const DefaultPath = "datasets/history.db"

const defaultRecent = 20

// Run is one recorded harvest run. Failed runs are kept too, flagged, so
// retry exhaustion shows up in the history instead of disappearing.
type Run struct {
	ID           int64
	Dataset      string
	Query        string
	Year         string
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalResults int
	Fetched      int
	Pages        int
	Files        []jsonl.FileInfo
	Citations    *harvest.CitationSummary
	Failed       bool
	Error        string
}

// Store manages the run-history SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the history database at path and creates the
// schema if it does not exist.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset TEXT NOT NULL,
			query TEXT NOT NULL,
			year TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			total_results INTEGER NOT NULL,
			fetched INTEGER NOT NULL,
			pages INTEGER NOT NULL,
			files TEXT,
			citations TEXT,
			failed INTEGER NOT NULL DEFAULT 0,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record inserts one run and returns its row ID.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	filesJSON, err := json.Marshal(run.Files)
	if err != nil {
		return 0, fmt.Errorf("marshaling file list: %w", err)
	}

	var citations any
	if run.Citations != nil {
		data, err := json.Marshal(run.Citations)
		if err != nil {
			return 0, fmt.Errorf("marshaling citation summary: %w", err)
		}
		citations = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (dataset, query, year, started_at, finished_at,
			total_results, fetched, pages, files, citations, failed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Dataset, run.Query, run.Year,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.TotalResults, run.Fetched, run.Pages,
		string(filesJSON), citations, run.Failed, run.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the most recent runs, newest first. A non-empty dataset
// filters to that category; limit <= 0 uses the default (20).
func (s *Store) Recent(ctx context.Context, dataset string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRecent
	}

	query := `SELECT id, dataset, query, year, started_at, finished_at,
		total_results, fetched, pages, files, citations, failed, error
		FROM runs`
	var args []any
	if dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished, files string
		var citations sql.NullString
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Query, &r.Year,
			&started, &finished, &r.TotalResults, &r.Fetched, &r.Pages,
			&files, &citations, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		if t, parseErr := time.Parse(time.RFC3339Nano, started); parseErr == nil {
			r.StartedAt = t
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, finished); parseErr == nil {
			r.FinishedAt = t
		}
		if files != "" {
			json.Unmarshal([]byte(files), &r.Files)
		}
		if citations.Valid {
			var cs harvest.CitationSummary
			if json.Unmarshal([]byte(citations.String), &cs) == nil {
				r.Citations = &cs
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// WriteTable renders runs as a human-readable table to w.
func WriteTable(runs []Run, w io.Writer) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-12s  %-16s  %8s  %5s  %-6s  %s\n",
		"ID", "Dataset", "Finished", "Fetched", "Pages", "Status", "Output")
	fmt.Fprintln(w, strings.Repeat("-", 88))

	for _, r := range runs {
		status := "ok"
		if r.Failed {
			status = "failed"
		}
		output := ""
		if len(r.Files) > 0 {
			output = filepath.Base(r.Files[0].Path)
			if len(r.Files) > 1 {
				output = fmt.Sprintf("%s (+%d more)", output, len(r.Files)-1)
			}
		}
		fmt.Fprintf(w, "%-4d  %-12s  %-16s  %8d  %5d  %-6s  %s\n",
			r.ID, r.Dataset, r.FinishedAt.Local().Format("2006-01-02 15:04"),
			r.Fetched, r.Pages, status, output)
	}

	fmt.Fprintf(w, "\n%d runs\n", len(runs))
}
