package store

import (
	"context"
	"log/slog"
	"time"
)

// Pruner is the part of Repository the retention worker needs.
type Pruner interface {
	PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StartRetentionWorker runs a background goroutine that periodically
// deletes runs older than maxAge. It returns a channel closed on exit.
func StartRetentionWorker(ctx context.Context, repo Pruner, interval, maxAge time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if maxAge <= 0 || interval <= 0 {
		close(done)
		return done
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Run retention worker started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				removed, err := repo.PruneRuns(ctx, maxAge)
				if err != nil {
					slog.Error("Run retention worker failed to prune", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Pruned old test runs", "removed", removed)
				}
			case <-ctx.Done():
				slog.Info("Run retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
