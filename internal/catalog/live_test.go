package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/store"
	"github.com/blendsoftware/possync/internal/types"
)

func TestLiveView_DeliversInitialAndUpdates(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	updates := make(chan []types.CatalogProduct, 4)
	view := NewLiveView(s, store.ProductFilter{CategoryID: "c-bebidas"}, func(products []types.CatalogProduct) {
		updates <- products
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		view.Run(ctx)
	}()

	// Given the view is up, the current replica contents arrive unprompted
	select {
	case products := <-updates:
		if len(products) != 2 {
			t.Fatalf("expected 2 bebidas initially, got %d", len(products))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial delivery")
	}

	// When a catalog pull lands a new product in the watched category
	snap := types.CatalogSnapshot{
		Products: []types.CatalogProduct{
			{
				ID: "p-jugo", Code: "A3", Barcode: "779555", Name: "Jugo de naranja 1L",
				CategoryID: "c-bebidas", SalePrice: decimal.NewFromInt(1500), Active: true,
			},
		},
		Categories: []types.CatalogCategory{
			{ID: "c-bebidas", Name: "Bebidas", DisplayOrder: 1, Active: true},
		},
		AsOf: time.Now().UTC(),
	}
	if err := s.ReplaceCatalog(ctx, snap); err != nil {
		t.Fatalf("replace catalog: %v", err)
	}

	// Then the view re-delivers without any polling
	select {
	case products := <-updates:
		if len(products) != 1 || products[0].ID != "p-jugo" {
			t.Fatalf("expected refreshed view with p-jugo, got %+v", products)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after replica change")
	}

	cancel()
	<-done
}

func TestLiveView_SetFilterAppliesOnRefresh(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	var last []types.CatalogProduct
	view := NewLiveView(s, store.ProductFilter{}, func(products []types.CatalogProduct) {
		last = products
	})

	ctx := context.Background()
	if err := view.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(last) != 3 {
		t.Fatalf("expected full catalog, got %d products", len(last))
	}

	view.SetFilter(store.ProductFilter{FavoritesOnly: true})
	if err := view.Refresh(ctx); err != nil {
		t.Fatalf("Refresh after SetFilter: %v", err)
	}
	if len(last) != 1 || last[0].ID != "p-alfajor" {
		t.Fatalf("expected favorites only, got %+v", last)
	}
}
