// Package ledger records terminal job outcomes in an embedded SQLite
// database. The in-memory store remains authoritative for live state;
// the ledger is an audit trail that outlives the retention window.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-jobd/internal/jobs"
	"media-jobd/internal/logging"
	"media-jobd/internal/metrics"
)

// Default timeout for ledger operations.
const defaultTimeout = 5 * time.Second

// Ledger wraps the history database.
type Ledger struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the history database at dbPath.
// The parent directory must already exist and be writable; startup
// validates this before enabling the ledger.
func Open(ctx context.Context, dbPath string) (*Ledger, error) {
	logging.Info("Job ledger path: %s", dbPath)

	// WAL mode keeps readers off the writer's lock; busy_timeout guards
	// against transient "database is locked" errors.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close ledger after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	l := &Ledger{db: db, dbPath: dbPath}

	if err := l.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close ledger after init failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logging.Info("Job ledger initialized at %s", dbPath)
	return l, nil
}

func (l *Ledger) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_history (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		format TEXT,
		state TEXT NOT NULL,
		error_kind TEXT,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_job_history_finished ON job_history(finished_at);
	CREATE INDEX IF NOT EXISTS idx_job_history_state ON job_history(state);
	`

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := l.db.ExecContext(initCtx, schema)
	return err
}

// Record upserts a terminal job into the history table.
func (l *Ledger) Record(ctx context.Context, job jobs.Job) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := l.db.ExecContext(opCtx, `
		INSERT INTO job_history (id, operation, format, state, error_kind, error_message, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		job.ID, job.Operation, job.Format, string(job.State),
		job.ErrorKind, job.ErrorMessage,
		job.CreatedAt.Unix(), unixOrZero(job.StartedAt), unixOrZero(job.FinishedAt),
	)

	if err != nil {
		metrics.LedgerWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}

	metrics.LedgerWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// Recent returns up to limit most recently finished jobs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]jobs.Job, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := l.db.QueryContext(opCtx, `
		SELECT id, operation, format, state, error_kind, error_message, created_at, started_at, finished_at
		FROM job_history
		ORDER BY finished_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Warn("failed to close history rows: %v", err)
		}
	}()

	var out []jobs.Job
	for rows.Next() {
		var (
			job                             jobs.Job
			state                           string
			created, started, finished      int64
			errorKind, errorMessage, format sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.Operation, &format, &state,
			&errorKind, &errorMessage, &created, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		job.State = jobs.State(state)
		job.Format = format.String
		job.ErrorKind = errorKind.String
		job.ErrorMessage = errorMessage.String
		job.CreatedAt = time.Unix(created, 0)
		if started > 0 {
			job.StartedAt = time.Unix(started, 0)
		}
		if finished > 0 {
			job.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, job)
	}

	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
