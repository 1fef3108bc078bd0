package store

import (
	"context"
	"time"

	"github.com/blendsoftware/possync/internal/types"
)

// ProductFilter selects and orders products from the replica. Inactive
// products are always excluded regardless of filter fields.
type ProductFilter struct {
	CategoryID    string
	FavoritesOnly bool
	// Text matches case-insensitively as a substring of name, code or barcode.
	Text string
}

// Store defines the interface contract for the local replica and outbox.
// It is the sole persistence boundary: catalog snapshots, the sales outbox
// and sync metadata all live behind it.
type Store interface {
	// ReplaceCatalog atomically swaps the catalog snapshot. Products and
	// categories absent from the new snapshot are soft-marked inactive so
	// already-synced sale lines keep valid references.
	ReplaceCatalog(ctx context.Context, snap types.CatalogSnapshot) error
	QueryProducts(ctx context.Context, filter ProductFilter) ([]types.CatalogProduct, error)
	QueryCategories(ctx context.Context) ([]types.CatalogCategory, error)
	// GetProduct returns an active product by id, or ErrNotFound.
	GetProduct(ctx context.Context, id string) (*types.CatalogProduct, error)

	// EnqueueSale durably appends a sale in PENDING state. A failed write
	// returns an error; a sale is never silently dropped.
	EnqueueSale(ctx context.Context, sale types.OutboxSale) error
	// ListPendingSales returns all sales not yet SYNCED, oldest first,
	// excluding terminally rejected ones.
	ListPendingSales(ctx context.Context) ([]types.OutboxSale, error)
	GetSale(ctx context.Context, id string) (*types.OutboxSale, error)
	ListSales(ctx context.Context, limit int) ([]types.OutboxSale, error)
	MarkSaleState(ctx context.Context, id string, state types.SaleState, lastError string) error
	// MarkSaleTerminal marks a sale FAILED and withdraws it from automatic
	// retries. Moving the sale back to PENDING clears the flag.
	MarkSaleTerminal(ctx context.Context, id string, lastError string) error
	IncrementRetry(ctx context.Context, id string) error
	CountPending(ctx context.Context) (int, error)
	CountSales(ctx context.Context) (int, error)
	// PurgeSyncedBefore removes SYNCED sales older than cutoff and returns
	// the number removed. PENDING and FAILED sales are never purged.
	PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetSyncMeta(ctx context.Context) (*types.SyncMeta, error)
	SetLastSyncAt(ctx context.Context, at time.Time) error
	IncrementErrorCount(ctx context.Context) (int, error)
	ResetErrorCount(ctx context.Context) error

	// Watch returns a channel that receives a signal after any committed
	// write, plus a cancel function releasing the watcher. The channel has
	// a buffer of one; coalesced signals mean "re-query", not "one event
	// per write".
	Watch() (<-chan struct{}, func())

	// Path returns the on-disk database location, used by the backup worker.
	Path() string

	Close() error
}
