package syncer

import (
	"context"
	"log/slog"
	"time"
)

// ConnectivitySource exposes the connectivity hint the coordinator reacts to.
// Implemented by connectivity.Monitor.
type ConnectivitySource interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

// Coordinator schedules sync cycles: on a periodic interval, and eagerly
// when connectivity returns while work is pending. All triggers funnel into
// the engine's single flight, so bursts coalesce.
type Coordinator struct {
	engine   *Engine
	store    Store
	conn     ConnectivitySource
	interval time.Duration
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(engine *Engine, store Store, conn ConnectivitySource, interval time.Duration) *Coordinator {
	return &Coordinator{
		engine:   engine,
		store:    store,
		conn:     conn,
		interval: interval,
	}
}

// Run starts the scheduling loop. It blocks until ctx is cancelled.
// An immediate cycle runs on start so a terminal that was offline overnight
// reconciles as soon as the agent comes up.
func (c *Coordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "syncer",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)

	trigger := make(chan struct{}, 1)
	unsubscribe := c.conn.Subscribe(func(online bool) {
		if !online {
			return
		}
		if !c.workPending(ctx) {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "syncer",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.sync(ctx)
		case <-trigger:
			c.sync(ctx)
		}
	}
}

// sync runs one engine flight, skipping quietly when offline.
func (c *Coordinator) sync(ctx context.Context) {
	if !c.conn.Online() {
		slog.Debug("sync skipped, offline", "component", "syncer")
		return
	}

	if _, err := c.engine.ForceSync(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("scheduled sync failed",
			"component", "syncer",
			"worker", "sync-coordinator",
			"error", err,
		)
	}
}

// workPending reports whether there are queued sales or a stale catalog.
func (c *Coordinator) workPending(ctx context.Context) bool {
	count, err := c.store.CountPending(ctx)
	if err == nil && count > 0 {
		return true
	}

	meta, err := c.store.GetSyncMeta(ctx)
	if err != nil {
		return true
	}
	return meta.LastSyncAt == nil || time.Since(*meta.LastSyncAt) > c.interval
}
