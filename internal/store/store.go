// Package store persists the history of lesson test runs.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-lessons/internal/domain"
)

// Repository defines the interface for persisting test run history.
type Repository interface {
	// RecordRun inserts a completed run and sets its ID.
	RecordRun(ctx context.Context, run *domain.TestRun) error

	// ListRuns returns the most recent runs, newest first. An empty project
	// lists runs for every project.
	ListRuns(ctx context.Context, project string, limit int) ([]domain.TestRun, error)

	// PruneRuns deletes runs older than maxAge and returns how many were removed.
	PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
