package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/txdriver/pkg/types"
)

// unmarshalJSON decodes a JSON column, logging instead of failing so one
// corrupt row does not break a whole listing.
func unmarshalJSON(data sql.NullString, v any, field, runID string) {
	if !data.Valid || data.String == "" || data.String == "null" {
		return
	}
	if err := json.Unmarshal([]byte(data.String), v); err != nil {
		slog.Warn("failed to unmarshal JSON column",
			slog.String("field", field),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
}

// SQLiteStorage implements Storage on SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
// ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	} else {
		dsn = "file::memory:?_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		transaction_type TEXT NOT NULL,
		workers INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		iterations INTEGER DEFAULT 0,
		tx_submitted INTEGER DEFAULT 0,
		tx_failed INTEGER DEFAULT 0,
		failures TEXT,
		average_tps REAL DEFAULT 0,
		peak_tps REAL DEFAULT 0,
		latency_stats TEXT,
		config TEXT NOT NULL,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS time_series (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		iterations INTEGER,
		submitted INTEGER,
		failed INTEGER,
		current_tps REAL,
		target_tps REAL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_time_series_run ON time_series(run_id);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		worker_index INTEGER NOT NULL,
		address TEXT NOT NULL,
		tx_hash TEXT,
		nonce INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_reason TEXT,
		latency_ms REAL,
		created_at_ms INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_run ON submissions(run_id);
	CREATE INDEX IF NOT EXISTS idx_submissions_hash ON submissions(tx_hash);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run at its start.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunResult) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, transaction_type, workers, duration_ms, config)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.Status, run.TransactionType, run.Workers, run.DurationMs, string(configJSON))
	return err
}

// CompleteRun stores a run's final statistics.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunResult) error {
	failuresJSON, _ := json.Marshal(run.Failures)
	latencyJSON, _ := json.Marshal(run.Latency)

	completed := run.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			status = ?,
			duration_ms = ?,
			iterations = ?,
			tx_submitted = ?,
			tx_failed = ?,
			failures = ?,
			average_tps = ?,
			peak_tps = ?,
			latency_stats = ?,
			error_message = ?
		WHERE id = ?
	`, completed, run.Status, run.DurationMs, run.Iterations, run.TxSubmitted, run.TxFailed,
		string(failuresJSON), run.AverageTPS, run.PeakTPS, string(latencyJSON), nullString(run.Error), run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, started_at, completed_at, status, transaction_type, workers, duration_ms,
	iterations, tx_submitted, tx_failed, failures, average_tps, peak_tps, latency_stats, config, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.RunResult, error) {
	var (
		run                         types.RunResult
		completedAt                 sql.NullTime
		failures, latency, errorMsg sql.NullString
		config                      sql.NullString
	)
	err := row.Scan(&run.ID, &run.StartedAt, &completedAt, &run.Status, &run.TransactionType, &run.Workers,
		&run.DurationMs, &run.Iterations, &run.TxSubmitted, &run.TxFailed, &failures, &run.AverageTPS,
		&run.PeakTPS, &latency, &config, &errorMsg)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	run.Error = errorMsg.String
	unmarshalJSON(failures, &run.Failures, "failures", run.ID)
	unmarshalJSON(latency, &run.Latency, "latency_stats", run.ID)
	unmarshalJSON(config, &run.Config, "config", run.ID)
	return &run, nil
}

// GetRun returns one run.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunResult, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns a page of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunResult{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &PaginatedRuns{Runs: runs, Total: total, Limit: limit, Offset: offset}, nil
}

// DeleteRun removes a run with its samples and journal.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// BulkInsertTimeSeries writes all samples in one transaction.
func (s *SQLiteStorage) BulkInsertTimeSeries(ctx context.Context, runID string, points []TimeSeriesPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO time_series (run_id, timestamp_ms, iterations, submitted, failed, current_tps, target_tps)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, runID, p.TimestampMs, p.Iterations, p.Submitted, p.Failed,
			p.CurrentTPS, p.TargetTPS); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTimeSeries returns a run's samples in time order.
func (s *SQLiteStorage) GetTimeSeries(ctx context.Context, runID string) ([]TimeSeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ms, iterations, submitted, failed, current_tps, target_tps
		FROM time_series WHERE run_id = ? ORDER BY timestamp_ms
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []TimeSeriesPoint{}
	for rows.Next() {
		var p TimeSeriesPoint
		if err := rows.Scan(&p.TimestampMs, &p.Iterations, &p.Submitted, &p.Failed, &p.CurrentTPS, &p.TargetTPS); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// BulkInsertSubmissions writes journal entries in one transaction, paying
// the fsync cost once.
func (s *SQLiteStorage) BulkInsertSubmissions(ctx context.Context, subs []types.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submissions (run_id, worker_index, address, tx_hash, nonce, tx_type, attempts,
			status, error_reason, latency_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := stmt.ExecContext(ctx, sub.RunID, sub.WorkerIndex, sub.Address, nullString(sub.TxHash),
			sub.Nonce, sub.Type, sub.Attempts, sub.Status, nullString(sub.Error), sub.LatencyMs,
			sub.CreatedAt.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const submissionColumns = `run_id, worker_index, address, tx_hash, nonce, tx_type, attempts,
	status, error_reason, latency_ms, created_at_ms`

func scanSubmission(row rowScanner) (*types.Submission, error) {
	var (
		sub              types.Submission
		txHash, errorMsg sql.NullString
		createdMs        int64
	)
	if err := row.Scan(&sub.RunID, &sub.WorkerIndex, &sub.Address, &txHash, &sub.Nonce, &sub.Type,
		&sub.Attempts, &sub.Status, &errorMsg, &sub.LatencyMs, &createdMs); err != nil {
		return nil, err
	}
	sub.TxHash = txHash.String
	sub.Error = errorMsg.String
	sub.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &sub, nil
}

// GetSubmissions returns a page of a run's journal in insertion order.
func (s *SQLiteStorage) GetSubmissions(ctx context.Context, runID string, limit, offset int) (*PaginatedSubmissions, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions WHERE run_id = ?", runID).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE run_id = ? ORDER BY id LIMIT ? OFFSET ?",
		runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []types.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &PaginatedSubmissions{Submissions: subs, Total: total, Limit: limit, Offset: offset}, nil
}

// GetSubmissionByHash looks up a journal entry by transaction hash.
func (s *SQLiteStorage) GetSubmissionByHash(ctx context.Context, txHash string) (*types.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE tx_hash = ? ORDER BY id DESC LIMIT 1", txHash)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", txHash, ErrNotFound)
	}
	return sub, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
