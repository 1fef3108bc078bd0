package catalog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/blendsoftware/possync/internal/store"
	"github.com/blendsoftware/possync/internal/types"
)

// WatchQuerier extends Querier with change notification.
type WatchQuerier interface {
	Querier
	Watch() (<-chan struct{}, func())
}

// LiveView keeps a product listing current: it delivers an initial result
// set, then re-queries and re-delivers whenever the replica changes. A
// catalog pull landing mid-shift refreshes the grid without any UI polling.
type LiveView struct {
	store  WatchQuerier
	notify func([]types.CatalogProduct)

	mu     sync.Mutex
	filter store.ProductFilter
}

// NewLiveView creates a LiveView delivering results for filter to notify.
// The callback runs on the view's goroutine; it must not block.
func NewLiveView(s WatchQuerier, filter store.ProductFilter, notify func([]types.CatalogProduct)) *LiveView {
	return &LiveView{
		store:  s,
		notify: notify,
		filter: filter,
	}
}

// SetFilter replaces the active filter. The next delivery, triggered
// immediately by Refresh or by the next replica change, uses it.
func (v *LiveView) SetFilter(f store.ProductFilter) {
	v.mu.Lock()
	v.filter = f
	v.mu.Unlock()
}

// Refresh re-queries and delivers the current result set once.
func (v *LiveView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	filter := v.filter
	v.mu.Unlock()

	products, err := v.store.QueryProducts(ctx, filter)
	if err != nil {
		return err
	}
	v.notify(products)
	return nil
}

// Run blocks delivering updates until ctx is cancelled. Change signals are
// coalesced by the store; each signal triggers one fresh query.
func (v *LiveView) Run(ctx context.Context) error {
	changes, cancel := v.store.Watch()
	defer cancel()

	if err := v.Refresh(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			if err := v.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("live view refresh failed",
					"component", "catalog",
					"error", err,
				)
			}
		}
	}
}
