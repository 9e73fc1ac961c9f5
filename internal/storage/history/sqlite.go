// Package history records scan runs and their matches.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists scan runs to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *common.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(logger *common.Logger, dbPath string) (*SQLiteRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("Scan history opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			run_id       TEXT PRIMARY KEY,
			mode         TEXT NOT NULL,
			as_of        INTEGER,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER NOT NULL,
			processed    INTEGER NOT NULL,
			succeeded    INTEGER NOT NULL,
			failed       INTEGER NOT NULL,
			excluded     INTEGER NOT NULL,
			matched      INTEGER NOT NULL,
			aborted      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS scan_matches (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT NOT NULL REFERENCES scan_runs(run_id),
			rank            INTEGER NOT NULL,
			ticker          TEXT NOT NULL,
			price           REAL,
			pattern_kind    TEXT NOT NULL,
			reference_close REAL NOT NULL,
			moving_average  REAL,
			period_end      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_matches_run ON scan_matches(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_matches_ticker ON scan_matches(ticker)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordScan stores the run summary and its ordered matches in one transaction.
func (r *SQLiteRecorder) RecordScan(ctx context.Context, report *models.ScanReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var asOf sql.NullInt64
	if report.AsOf != nil {
		asOf = sql.NullInt64{Int64: report.AsOf.Unix(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO scan_runs
		(run_id, mode, as_of, started_at, finished_at, processed, succeeded, failed, excluded, matched, aborted)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		report.RunID, string(report.Mode), asOf,
		report.StartedAt.Unix(), report.FinishedAt.Unix(),
		report.Processed, report.Succeeded, report.Failed, report.Excluded,
		len(report.Matches), report.Aborted,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	for i, m := range report.Matches {
		_, err = tx.ExecContext(ctx, `INSERT INTO scan_matches
			(run_id, rank, ticker, price, pattern_kind, reference_close, moving_average, period_end)
			VALUES (?,?,?,?,?,?,?,?)`,
			report.RunID, i+1, m.Ticker, nullFloat(m.Price), string(m.Signal.PatternKind),
			m.Signal.ReferenceClose, nullFloat(m.Signal.MovingAverage), m.Signal.PeriodEnd.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert match %s: %w", m.Ticker, err)
		}
	}
	return tx.Commit()
}

// RecentRuns lists the most recent runs, newest first.
func (r *SQLiteRecorder) RecentRuns(ctx context.Context, limit int) ([]models.ScanRunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, mode, as_of, started_at, finished_at,
		processed, succeeded, failed, excluded, matched
		FROM scan_runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ScanRunSummary
	for rows.Next() {
		var s models.ScanRunSummary
		var mode string
		var asOf sql.NullInt64
		var started, finished int64
		if err := rows.Scan(&s.RunID, &mode, &asOf, &started, &finished,
			&s.Processed, &s.Succeeded, &s.Failed, &s.Excluded, &s.Matched); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		s.Mode = models.ScanMode(mode)
		s.StartedAt = time.Unix(started, 0).UTC()
		s.FinishedAt = time.Unix(finished, 0).UTC()
		if asOf.Valid {
			t := time.Unix(asOf.Int64, 0).UTC()
			s.AsOf = &t
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// Matches returns the recorded matches of a run in report order.
func (r *SQLiteRecorder) Matches(ctx context.Context, runID string) ([]models.ScanMatch, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ticker, price, pattern_kind, reference_close, moving_average, period_end
		FROM scan_matches WHERE run_id = ? ORDER BY rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []models.ScanMatch
	for rows.Next() {
		var m models.ScanMatch
		var price, ma sql.NullFloat64
		var kind string
		var periodEnd int64
		if err := rows.Scan(&m.Ticker, &price, &kind, &m.Signal.ReferenceClose, &ma, &periodEnd); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		m.Signal.Ticker = m.Ticker
		m.Signal.Matched = true
		m.Signal.PatternKind = models.PatternKind(kind)
		m.Signal.PeriodEnd = time.Unix(periodEnd, 0).UTC()
		if price.Valid {
			m.Price = &price.Float64
		}
		if ma.Valid {
			m.Signal.MovingAverage = &ma.Float64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
