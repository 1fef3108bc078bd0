package syncer

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRetentionStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
}

func (f *fakeRetentionStore) PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.removed, nil
}

func (f *fakeRetentionStore) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRetentionWorker_SweepUsesWindowCutoff(t *testing.T) {
	store := &fakeRetentionStore{removed: 2}
	w := NewRetentionWorker(store, 30*24*time.Hour, time.Hour)

	before := time.Now().UTC().Add(-30 * 24 * time.Hour)
	w.sweep(context.Background())
	after := time.Now().UTC().Add(-30 * 24 * time.Hour)

	if store.sweeps() != 1 {
		t.Fatalf("expected 1 sweep, got %d", store.sweeps())
	}
	cutoff := store.cutoffs[0]
	if cutoff.Before(before) || cutoff.After(after) {
		t.Errorf("cutoff %v outside expected window [%v, %v]", cutoff, before, after)
	}
}

func TestRetentionWorker_RunSweepsOnStartAndStops(t *testing.T) {
	store := &fakeRetentionStore{}
	w := NewRetentionWorker(store, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return store.sweeps() >= 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
