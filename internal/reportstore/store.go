// Package reportstore keeps a history of validation runs in a local SQLite
// file.
package reportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/pathutil"
	"github.com/tofunori/glacier-albedo-west-canada/internal/validation"
)

const driverName = "sqlite"

// DefaultListLimit caps List when limit is not positive.
const DefaultListLimit = 20

// ErrClosed is returned after Close.
var ErrClosed = errors.New("report store is closed")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS validation_runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at  INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		checks      INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		report      TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_validation_runs_started ON validation_runs(started_at)`,
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

// Run is one stored validation run.
type Run struct {
	ID        int64
	StartedAt time.Time
	Duration  time.Duration
	Summary   validation.Summary
	Report    *validation.Report
}

// Store is a SQLite-backed validation history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := pathutil.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("history path: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// One connection serializes writers; SQLite does not benefit from more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to history database: %w", classify("open", err))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			logger.Debug("sqlite pragma skipped", "pragma", p, "error", err.Error())
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating history schema: %w", classify("schema", err))
		}
	}

	logger.Debug("history database opened", "path", path)
	return &Store{db: db}, nil
}

// Save appends a report and returns its id.
func (s *Store) Save(ctx context.Context, report *validation.Report) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	body, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("encoding report: %w", err)
	}
	summary := report.Summary()

	executor := errhandling.NewRetryExecutor(saveRetry).OnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Debug("history write retry", "attempt", attempt+1, "delay", delay, "error", err.Error())
	})
	result, err := executor.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO validation_runs (started_at, duration_ms, checks, failed, report) VALUES (?, ?, ?, ?, ?)`,
			report.StartedAt.UnixMilli(), report.Duration.Milliseconds(), summary.Checks, summary.Failed, string(body))
		if err != nil {
			return nil, classify("save", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, classify("save", err)
		}
		return id, nil
	})
	if err != nil {
		return 0, fmt.Errorf("saving report: %w", err)
	}
	return result.(int64), nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, checks, failed, report
		   FROM validation_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", classify("list", err))
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			startedMs  int64
			durationMs int64
			body       string
		)
		if err := rows.Scan(&run.ID, &startedMs, &durationMs, &run.Summary.Checks, &run.Summary.Failed, &body); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedMs)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.Report = &validation.Report{}
		if err := json.Unmarshal([]byte(body), run.Report); err != nil {
			return nil, fmt.Errorf("decoding report %d: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close releases the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
