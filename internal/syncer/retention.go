package syncer

import (
	"context"
	"log/slog"
	"time"
)

// RetentionStore defines the store operations the retention worker needs.
type RetentionStore interface {
	PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionWorker trims SYNCED sales older than the retention window.
// PENDING and FAILED sales are never touched: unconfirmed revenue stays on
// disk until it reaches the authority or an operator intervenes.
type RetentionWorker struct {
	store    RetentionStore
	window   time.Duration
	interval time.Duration
}

// NewRetentionWorker creates a worker purging synced sales older than window
// on each interval.
func NewRetentionWorker(store RetentionStore, window, interval time.Duration) *RetentionWorker {
	return &RetentionWorker{
		store:    store,
		window:   window,
		interval: interval,
	}
}

// Run starts the worker loop. Sweeps immediately on start, then on each
// interval. Respects context cancellation for graceful shutdown.
func (w *RetentionWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sale-retention",
		"window", w.window.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sale-retention",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.window)

	removed, err := w.store.PurgeSyncedBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("sale retention sweep failed",
			"component", "worker",
			"worker", "sale-retention",
			"error", err,
		)
		return
	}

	if removed > 0 {
		slog.Info("purged synced sales",
			"component", "worker",
			"worker", "sale-retention",
			"removed", removed,
		)
	}
}
