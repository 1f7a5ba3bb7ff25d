package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/shsh-lessons/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the HTTP history view read while a run is being recorded.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS test_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT NOT NULL,
		lesson INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_test_runs_project ON test_runs(project, created_at);
	CREATE INDEX IF NOT EXISTS idx_test_runs_created ON test_runs(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordRun inserts a completed run. Busy errors are retried.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *domain.TestRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO test_runs (project, lesson, passed, failed, exit_code, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	return withBusyRetry(ctx, "record run", func() error {
		result, err := s.db.ExecContext(ctx, query,
			run.Project, run.Lesson, run.Passed, run.Failed,
			run.ExitCode, run.DurationMs, run.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert test run: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get inserted id: %w", err)
		}
		run.ID = id
		return nil
	})
}

// ListRuns returns the newest runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, project string, limit int) ([]domain.TestRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var b strings.Builder
	b.WriteString(`SELECT id, project, lesson, passed, failed, exit_code, duration_ms, created_at FROM test_runs`)
	args := make([]any, 0, 2)
	if project != "" {
		b.WriteString(` WHERE project = ?`)
		args = append(args, project)
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query test runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.TestRun, 0)
	for rows.Next() {
		var run domain.TestRun
		var createdAt int64
		if err := rows.Scan(
			&run.ID, &run.Project, &run.Lesson, &run.Passed, &run.Failed,
			&run.ExitCode, &run.DurationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan test run row: %w", err)
		}
		run.CreatedAt = time.UnixMilli(createdAt).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test runs: %w", err)
	}
	return runs, nil
}

// PruneRuns removes runs older than maxAge.
func (s *SQLiteStore) PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	var removed int64
	err := withBusyRetry(ctx, "prune runs", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM test_runs WHERE created_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("prune test runs: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}
