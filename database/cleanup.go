package database

import (
	"context"
	"log/slog"
	"time"
)

// RunCleanup trims the run log to maxRuns every interval until ctx is done.
func (db *DB) RunCleanup(ctx context.Context, interval time.Duration, maxRuns int, logger *slog.Logger) {
	if interval <= 0 || maxRuns <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := db.CleanupOldRuns(maxRuns)
			if err != nil {
				logger.Error("run log cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("run log cleanup", "deleted", deleted, "kept", maxRuns)
			}
		}
	}
}
