// Package catalog is the read side of the local replica. Every lookup is
// answered from disk, so browsing, searching and price checks behave
// identically with or without a connection.
package catalog

import (
	"context"
	"strings"

	"github.com/blendsoftware/possync/internal/store"
	"github.com/blendsoftware/possync/internal/types"
)

// Querier defines the replica reads the query layer needs.
// Implemented by store.SQLiteStore.
type Querier interface {
	QueryProducts(ctx context.Context, filter store.ProductFilter) ([]types.CatalogProduct, error)
	QueryCategories(ctx context.Context) ([]types.CatalogCategory, error)
}

// Service answers catalog queries from the local replica.
type Service struct {
	store Querier
}

// NewService creates a Service backed by the given replica.
func NewService(s Querier) *Service {
	return &Service{store: s}
}

// Products returns active products matching the filter, favorites first,
// then alphabetically.
func (s *Service) Products(ctx context.Context, filter store.ProductFilter) ([]types.CatalogProduct, error) {
	return s.store.QueryProducts(ctx, filter)
}

// Categories returns active categories in display order.
func (s *Service) Categories(ctx context.Context) ([]types.CatalogCategory, error) {
	return s.store.QueryCategories(ctx)
}

// Favorites returns the products pinned to the quick-access grid.
func (s *Service) Favorites(ctx context.Context) ([]types.CatalogProduct, error) {
	return s.store.QueryProducts(ctx, store.ProductFilter{FavoritesOnly: true})
}

// Search matches text against product names, codes and barcodes.
func (s *Service) Search(ctx context.Context, text string) ([]types.CatalogProduct, error) {
	return s.store.QueryProducts(ctx, store.ProductFilter{Text: text})
}

// ByBarcode returns the product whose barcode matches exactly, or
// store.ErrNotFound. Scanner input arrives with surrounding whitespace
// from some readers, so the code is trimmed first.
func (s *Service) ByBarcode(ctx context.Context, barcode string) (*types.CatalogProduct, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}

	products, err := s.store.QueryProducts(ctx, store.ProductFilter{Text: barcode})
	if err != nil {
		return nil, err
	}
	for i := range products {
		if products[i].Barcode == barcode {
			return &products[i], nil
		}
	}
	return nil, store.ErrNotFound
}
