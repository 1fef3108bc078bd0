package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/types"
)

func sale(createdAt time.Time) types.OutboxSale {
	return types.OutboxSale{
		ID:       ulid.Make().String(),
		KioscoID: "kiosco-1",
		Lines: []types.SaleLine{
			{ProductID: "p-1", Name: "Agua", Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
		},
		PaymentMethod: types.PaymentCash,
		Discount:      decimal.Zero,
		Tendered:      decimal.NewFromInt(1000),
		Total:         decimal.NewFromInt(1000),
		State:         types.SalePending,
		CreatedAt:     createdAt,
	}
}

func TestEnqueueSale_AndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sale(time.Now().UTC())
	if err := s.EnqueueSale(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.GetSale(ctx, in.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.State != types.SalePending {
		t.Errorf("expected PENDING, got %s", got.State)
	}
	if len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Errorf("expected line items to round-trip, got %v", got.Lines)
	}
	if !got.Total.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected total 1000, got %s", got.Total)
	}
}

func TestEnqueueSale_MissingID(t *testing.T) {
	s := newTestStore(t)

	bad := sale(time.Now().UTC())
	bad.ID = ""
	if err := s.EnqueueSale(context.Background(), bad); err == nil {
		t.Fatal("expected error for sale without id")
	}
}

func TestEnqueueSale_DuplicateIDFailsLoudly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sale(time.Now().UTC())
	if err := s.EnqueueSale(ctx, in); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	// The same client identity must not create a second row
	if err := s.EnqueueSale(ctx, in); err == nil {
		t.Fatal("expected duplicate id enqueue to fail")
	}
}

func TestListPendingSales_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	s1 := sale(base)
	s2 := sale(base.Add(time.Minute))
	s3 := sale(base.Add(2 * time.Minute))

	// Enqueue out of order
	for _, sl := range []types.OutboxSale{s2, s3, s1} {
		if err := s.EnqueueSale(ctx, sl); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := s.ListPendingSales(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}

	// Then: Strict creation order
	want := []string{s1.ID, s2.ID, s3.ID}
	for i, sl := range pending {
		if sl.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], sl.ID)
		}
	}
}

func TestListPendingSales_SubSecondCreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two sales within the same second, where the earlier one has a
	// fraction that is a prefix of the later one ("...00.5" vs "...00.52").
	// A format that trims trailing zeros makes these sort backwards.
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	earlier := sale(base.Add(500 * time.Millisecond))
	later := sale(base.Add(520 * time.Millisecond))

	// Enqueue newest first so insertion order cannot mask a sort defect
	for _, sl := range []types.OutboxSale{later, earlier} {
		if err := s.EnqueueSale(ctx, sl); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := s.ListPendingSales(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != earlier.ID || pending[1].ID != later.ID {
		t.Errorf("creation order violated: got %s before %s", pending[0].ID, pending[1].ID)
	}
}

func TestListPendingSales_ExcludesSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s1 := sale(time.Now().UTC())
	s2 := sale(time.Now().UTC().Add(time.Second))
	for _, sl := range []types.OutboxSale{s1, s2} {
		if err := s.EnqueueSale(ctx, sl); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := s.MarkSaleState(ctx, s1.ID, types.SaleSynced, ""); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	pending, err := s.ListPendingSales(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != s2.ID {
		t.Errorf("expected only unsynced sale, got %v", pending)
	}

	// FAILED sales stay in the pending list for retry
	if err := s.MarkSaleState(ctx, s2.ID, types.SaleFailed, "timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err = s.ListPendingSales(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].LastError != "timeout" {
		t.Errorf("expected failed sale with last error, got %v", pending)
	}
}

func TestMarkSaleTerminal_ExcludedUntilRequeued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rejected := sale(time.Now().UTC())
	healthy := sale(time.Now().UTC().Add(time.Second))
	for _, sl := range []types.OutboxSale{rejected, healthy} {
		if err := s.EnqueueSale(ctx, sl); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Given a sale the authority rejected outright
	if err := s.MarkSaleTerminal(ctx, rejected.ID, "venta rechazada"); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	got, err := s.GetSale(ctx, rejected.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.State != types.SaleFailed || !got.Terminal || got.LastError != "venta rechazada" {
		t.Errorf("expected terminal FAILED sale, got %+v", got)
	}

	// Then the push phase never sees it again
	pending, err := s.ListPendingSales(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != healthy.ID {
		t.Errorf("expected only the healthy sale pending, got %v", pending)
	}

	// But it still counts as outbox exposure
	count, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if count != 2 {
		t.Errorf("expected terminal sale to stay in pending count, got %d", count)
	}

	// An explicit requeue to PENDING clears terminality
	if err := s.MarkSaleState(ctx, rejected.ID, types.SalePending, ""); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	pending, err = s.ListPendingSales(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected requeued sale back in push queue, got %d pending", len(pending))
	}
	got, err = s.GetSale(ctx, rejected.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.Terminal {
		t.Error("expected terminal flag cleared on requeue")
	}
}

func TestMarkSaleTerminal_SyncedIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sale(time.Now().UTC())
	if err := s.EnqueueSale(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkSaleState(ctx, in.ID, types.SaleSynced, ""); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	if err := s.MarkSaleTerminal(ctx, in.ID, "x"); !errors.Is(err, ErrAlreadySynced) {
		t.Fatalf("expected ErrAlreadySynced, got %v", err)
	}

	if err := s.MarkSaleTerminal(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkSaleState_SyncedIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sale(time.Now().UTC())
	if err := s.EnqueueSale(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkSaleState(ctx, in.ID, types.SaleSynced, ""); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	// Then: A synced sale can never be re-pushed
	err := s.MarkSaleState(ctx, in.ID, types.SalePending, "")
	if !errors.Is(err, ErrAlreadySynced) {
		t.Fatalf("expected ErrAlreadySynced, got %v", err)
	}

	got, err := s.GetSale(ctx, in.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.SyncedAt == nil {
		t.Error("expected synced_at to be recorded")
	}
}

func TestMarkSaleState_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.MarkSaleState(context.Background(), "missing", types.SaleFailed, "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := sale(time.Now().UTC())
	if err := s.EnqueueSale(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.IncrementRetry(ctx, in.ID); err != nil {
		t.Fatalf("increment retry: %v", err)
	}
	if err := s.IncrementRetry(ctx, in.ID); err != nil {
		t.Fatalf("increment retry: %v", err)
	}

	got, err := s.GetSale(ctx, in.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", got.RetryCount)
	}
}

func TestCountPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.EnqueueSale(ctx, sale(time.Now().UTC().Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	count, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 pending, got %d", count)
	}
}

func TestPurgeSyncedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sale(time.Now().UTC().Add(-48 * time.Hour))
	fresh := sale(time.Now().UTC())
	stuck := sale(time.Now().UTC().Add(-48 * time.Hour))

	for _, sl := range []types.OutboxSale{old, fresh, stuck} {
		if err := s.EnqueueSale(ctx, sl); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := s.MarkSaleState(ctx, old.ID, types.SaleSynced, ""); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := s.MarkSaleState(ctx, fresh.ID, types.SaleSynced, ""); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	removed, err := s.PurgeSyncedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 purged, got %d", removed)
	}

	// Unsynced sales are never purged, however old
	if _, err := s.GetSale(ctx, stuck.ID); err != nil {
		t.Errorf("pending sale must survive purge: %v", err)
	}
}

func TestSyncMeta_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Fresh store: no last sync, zero errors
	meta, err := s.GetSyncMeta(ctx)
	if err != nil {
		t.Fatalf("get sync meta: %v", err)
	}
	if meta.LastSyncAt != nil || meta.ErrorCount != 0 {
		t.Errorf("expected empty meta, got %+v", meta)
	}

	if _, err := s.IncrementErrorCount(ctx); err != nil {
		t.Fatalf("increment error count: %v", err)
	}
	n, err := s.IncrementErrorCount(ctx)
	if err != nil {
		t.Fatalf("increment error count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected error count 2, got %d", n)
	}

	// A successful sync records the timestamp and resets errors
	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.SetLastSyncAt(ctx, at); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	meta, err = s.GetSyncMeta(ctx)
	if err != nil {
		t.Fatalf("get sync meta: %v", err)
	}
	if meta.LastSyncAt == nil || !meta.LastSyncAt.Equal(at) {
		t.Errorf("expected last sync %s, got %v", at, meta.LastSyncAt)
	}
	if meta.ErrorCount != 0 {
		t.Errorf("expected error count reset, got %d", meta.ErrorCount)
	}
}
