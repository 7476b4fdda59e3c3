// Package housekeeping removes refresh token records that can never be used again.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"userboard.io/internal/obs"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Hour

// Purger deletes dead refresh token records. auth.Service implements it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Worker periodically purges expired and long-revoked refresh tokens.
type Worker struct {
	purger   Purger
	logger   *slog.Logger
	interval time.Duration
}

func NewWorker(purger Purger, logger *slog.Logger, interval time.Duration) *Worker {
	if logger == nil {
		logger = obs.Logger()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{purger: purger, logger: logger, interval: interval}
}

// Start runs the purge loop until ctx ends. Call it in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("housekeeping worker started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("housekeeping worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge pass and returns the number of removed records.
func (w *Worker) RunOnce(ctx context.Context) int64 {
	n, err := w.purger.PurgeExpired(ctx)
	if err != nil {
		w.logger.Error("refresh token purge failed", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		w.logger.Info("refresh tokens purged", slog.Int64("count", n))
	}
	return n
}
