package backup

import (
	"context"
	"log/slog"
	"time"
)

// Worker ships the replica database on a fixed interval.
type Worker struct {
	uploader Uploader
	kioscoID string
	dbPath   string
	interval time.Duration
}

// NewWorker creates a Worker uploading dbPath for the given terminal.
func NewWorker(uploader Uploader, kioscoID, dbPath string, interval time.Duration) *Worker {
	return &Worker{
		uploader: uploader,
		kioscoID: kioscoID,
		dbPath:   dbPath,
		interval: interval,
	}
}

// Run starts the worker loop. Uploads immediately on start, then on each
// interval. Respects context cancellation for graceful shutdown.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "db-backup",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.upload(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "db-backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.upload(ctx)
		}
	}
}

func (w *Worker) upload(ctx context.Context) {
	if err := w.uploader.Upload(ctx, w.kioscoID, w.dbPath); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("database backup failed",
			"component", "worker",
			"worker", "db-backup",
			"error", err,
		)
		return
	}

	if w.uploader.Enabled() {
		slog.Info("database backup uploaded",
			"component", "worker",
			"worker", "db-backup",
			"kiosco_id", w.kioscoID,
		)
	}
}
