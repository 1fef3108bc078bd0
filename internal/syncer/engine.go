// Package syncer reconciles the local replica with the remote authority.
// A full cycle pushes queued sales oldest-first, then pulls a fresh catalog
// snapshot. Cycles are single-flight: triggers arriving mid-cycle coalesce
// into the in-flight run instead of stacking up.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/blendsoftware/possync/internal/remote"
	"github.com/blendsoftware/possync/internal/status"
	"github.com/blendsoftware/possync/internal/types"
)

// Store defines the replica operations the engine needs.
// Implemented by store.SQLiteStore.
type Store interface {
	ListPendingSales(ctx context.Context) ([]types.OutboxSale, error)
	MarkSaleState(ctx context.Context, id string, state types.SaleState, lastError string) error
	MarkSaleTerminal(ctx context.Context, id string, lastError string) error
	IncrementRetry(ctx context.Context, id string) error
	CountPending(ctx context.Context) (int, error)
	ReplaceCatalog(ctx context.Context, snap types.CatalogSnapshot) error
	GetSyncMeta(ctx context.Context) (*types.SyncMeta, error)
	SetLastSyncAt(ctx context.Context, at time.Time) error
	IncrementErrorCount(ctx context.Context) (int, error)
}

// Remote defines the authority operations the engine needs.
// Implemented by remote.Client.
type Remote interface {
	CreateSale(ctx context.Context, sale types.OutboxSale) error
	FetchCatalog(ctx context.Context) (*types.CatalogSnapshot, error)
}

// Engine drives sync cycles. Only the engine mutates outbox sale states and
// catalog snapshots; the checkout adapter is the only other outbox writer
// and it only ever inserts.
type Engine struct {
	store       Store
	remote      Remote
	broadcaster *status.Broadcaster

	mu      sync.Mutex
	running bool

	// lastPushBrokeConnection is set by pushSale when a failure proved the
	// connection dead (no HTTP response at all). Guarded by the
	// single-flight: only one cycle reads or writes it.
	lastPushBrokeConnection bool
}

// NewEngine creates an Engine publishing to the given broadcaster.
func NewEngine(s Store, r Remote, b *status.Broadcaster) *Engine {
	return &Engine{store: s, remote: r, broadcaster: b}
}

// ForceSync requests a sync cycle. If no cycle is in flight it runs one
// synchronously and returns its report. A trigger arriving while a cycle is
// running is coalesced into the in-flight cycle: ForceSync returns
// (nil, nil) and no second cycle starts. Work enqueued mid-cycle is picked
// up by the next trigger or the periodic coordinator.
func (e *Engine) ForceSync(ctx context.Context) (*types.SyncReport, error) {
	if !e.begin() {
		slog.Debug("sync trigger coalesced", "component", "syncer")
		return nil, nil
	}
	defer e.end()

	return e.cycle(ctx)
}

// begin claims the single flight. Returns false when a cycle is already
// running.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Running reports whether a cycle is currently in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// cycle executes one push-then-pull pass.
func (e *Engine) cycle(ctx context.Context) (*types.SyncReport, error) {
	started := time.Now()
	e.publish(ctx, types.StatusSyncing, "")

	slog.Info("sync cycle started", "component", "syncer")

	report := &types.SyncReport{}
	connBroken := false
	var firstErr error

	// Push phase: strict creation order, one sale at a time. A stuck sale
	// is marked FAILED and the cycle moves on; already-synced sales are
	// never rolled back.
	sales, err := e.store.ListPendingSales(ctx)
	if err != nil {
		e.publish(ctx, types.StatusError, err.Error())
		return report, err
	}

	for _, sale := range sales {
		if connBroken || ctx.Err() != nil {
			break
		}
		if ok := e.pushSale(ctx, sale, report); !ok {
			if firstErr == nil {
				firstErr = errors.New("push failed for sale " + sale.ID)
			}
			connBroken = connBroken || e.lastPushBrokeConnection
		}
	}

	// Pull phase: skipped when the push phase proved the connection dead.
	pullOK := false
	if !connBroken && ctx.Err() == nil {
		snap, err := e.remote.FetchCatalog(ctx)
		if err != nil {
			slog.Warn("catalog pull failed",
				"component", "syncer",
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		} else if err := e.store.ReplaceCatalog(ctx, *snap); err != nil {
			slog.Error("catalog replace failed",
				"component", "syncer",
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			report.CatalogUpdated = true
			pullOK = true
		}
	}

	// Shutdown mid-cycle: leave state as-is, the next start resumes from
	// the outbox.
	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	// Completion: catalog freshness advances whenever both phases ran
	// without a hard connection failure, even if some sales stayed FAILED.
	if pullOK {
		if err := e.store.SetLastSyncAt(ctx, time.Now().UTC()); err != nil {
			slog.Error("record last sync failed", "component", "syncer", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()

	if report.Failed > 0 || firstErr != nil {
		if _, err := e.store.IncrementErrorCount(ctx); err != nil {
			slog.Error("record sync error failed", "component", "syncer", "error", err)
		}
		msg := "sync cycle completed with failures"
		if firstErr != nil {
			msg = firstErr.Error()
		}
		e.publish(ctx, types.StatusError, msg)
		slog.Warn("sync cycle completed with failures",
			"component", "syncer",
			"pushed", report.Pushed,
			"failed", report.Failed,
			"catalog_updated", report.CatalogUpdated,
			"duration", time.Since(started).String(),
		)
		return report, firstErr
	}

	e.publish(ctx, types.StatusIdle, "")
	slog.Info("sync cycle completed",
		"component", "syncer",
		"pushed", report.Pushed,
		"catalog_updated", report.CatalogUpdated,
		"duration", time.Since(started).String(),
	)
	return report, nil
}

// pushSale attempts one remote creation. Returns false on failure.
func (e *Engine) pushSale(ctx context.Context, sale types.OutboxSale, report *types.SyncReport) bool {
	e.lastPushBrokeConnection = false

	if err := e.store.MarkSaleState(ctx, sale.ID, types.SaleSyncing, ""); err != nil {
		slog.Error("mark sale syncing failed",
			"component", "syncer",
			"sale_id", sale.ID,
			"error", err,
		)
		report.Failed++
		return false
	}

	err := e.remote.CreateSale(ctx, sale)
	if err == nil {
		if err := e.store.MarkSaleState(ctx, sale.ID, types.SaleSynced, ""); err != nil {
			slog.Error("mark sale synced failed",
				"component", "syncer",
				"sale_id", sale.ID,
				"error", err,
			)
			report.Failed++
			return false
		}
		report.Pushed++
		slog.Info("sale synced",
			"component", "syncer",
			"sale_id", sale.ID,
		)
		return true
	}

	report.Failed++

	switch {
	case remote.IsPermanent(err):
		// Terminal: withdrawn from automatic retries, surfaced for manual
		// inspection. Only `possync outbox retry` re-queues it.
		if markErr := e.store.MarkSaleTerminal(ctx, sale.ID, err.Error()); markErr != nil {
			slog.Error("mark sale terminal errored", "component", "syncer", "sale_id", sale.ID, "error", markErr)
		}
		slog.Error("sale permanently rejected",
			"component", "syncer",
			"sale_id", sale.ID,
			"error", err,
		)
	default:
		if retryErr := e.store.IncrementRetry(ctx, sale.ID); retryErr != nil {
			slog.Error("increment retry failed", "component", "syncer", "sale_id", sale.ID, "error", retryErr)
		}
		if markErr := e.store.MarkSaleState(ctx, sale.ID, types.SaleFailed, err.Error()); markErr != nil {
			slog.Error("mark sale failed errored", "component", "syncer", "sale_id", sale.ID, "error", markErr)
		}
		var re *remote.Error
		if errors.As(err, &re) && re.Status == 0 {
			// No HTTP response at all: the connection is confirmed broken,
			// pushing the rest of the queue would only burn retries.
			e.lastPushBrokeConnection = true
		}
		slog.Warn("sale push failed, will retry next cycle",
			"component", "syncer",
			"sale_id", sale.ID,
			"retry_count", sale.RetryCount+1,
			"error", err,
		)
	}

	return false
}

// publish pushes the current engine status and true pending count to
// subscribers.
func (e *Engine) publish(ctx context.Context, st types.SyncStatus, lastError string) {
	if e.broadcaster == nil {
		return
	}

	n := types.Notification{Status: st, LastError: lastError}
	if count, err := e.store.CountPending(ctx); err == nil {
		n.PendingCount = count
	}
	if meta, err := e.store.GetSyncMeta(ctx); err == nil {
		n.LastSyncAt = meta.LastSyncAt
	}
	e.broadcaster.Publish(n)
}
