package status

import (
	"sync"
	"testing"

	"github.com/blendsoftware/possync/internal/types"
)

func TestSubscribe_ReplaysCurrentState(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(types.Notification{Status: types.StatusSyncing, PendingCount: 3})

	// A late subscriber still learns the current state immediately
	var got types.Notification
	unsubscribe := b.Subscribe(func(n types.Notification) { got = n })
	defer unsubscribe()

	if got.Status != types.StatusSyncing || got.PendingCount != 3 {
		t.Errorf("expected replay of current state, got %+v", got)
	}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		defer b.Subscribe(func(n types.Notification) {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
		})()
	}

	b.Publish(types.Notification{Status: types.StatusSyncing})
	b.Publish(types.Notification{Status: types.StatusIdle})

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		// 1 replay + 2 transitions each
		if counts[i] != 3 {
			t.Errorf("subscriber %d: expected 3 notifications, got %d", i, counts[i])
		}
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := NewBroadcaster()

	var mu sync.Mutex
	received := 0
	unsubscribe := b.Subscribe(func(types.Notification) {
		mu.Lock()
		defer mu.Unlock()
		received++
	})

	unsubscribe()
	unsubscribe() // must not panic or affect other subscribers

	other := 0
	defer b.Subscribe(func(types.Notification) {
		mu.Lock()
		defer mu.Unlock()
		other++
	})()

	b.Publish(types.Notification{Status: types.StatusError})

	mu.Lock()
	defer mu.Unlock()
	if received != 1 {
		t.Errorf("unsubscribed observer got %d notifications, expected 1 (replay only)", received)
	}
	if other != 2 {
		t.Errorf("active observer expected 2 notifications, got %d", other)
	}
}

func TestCurrent(t *testing.T) {
	b := NewBroadcaster()

	if b.Current().Status != types.StatusIdle {
		t.Errorf("expected initial IDLE, got %s", b.Current().Status)
	}

	b.Publish(types.Notification{Status: types.StatusError, LastError: "boom"})
	if got := b.Current(); got.Status != types.StatusError || got.LastError != "boom" {
		t.Errorf("unexpected current state: %+v", got)
	}
}

func TestSubscribe_ReplayNeverOvertakesPublish(t *testing.T) {
	b := NewBroadcaster()

	// A publisher walks the pending count upward while subscribers keep
	// joining. If a replay of the snapshot captured at registration lands
	// after a newer publish, a subscriber observes the count go backwards.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 200; i++ {
			b.Publish(types.Notification{Status: types.StatusSyncing, PendingCount: i})
		}
	}()

	for i := 0; i < 50; i++ {
		var mu sync.Mutex
		var seen []int
		unsubscribe := b.Subscribe(func(n types.Notification) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, n.PendingCount)
		})

		mu.Lock()
		for j := 1; j < len(seen); j++ {
			if seen[j] < seen[j-1] {
				t.Fatalf("subscriber %d saw count regress: %v", i, seen)
			}
		}
		mu.Unlock()
		unsubscribe()
	}

	<-done
}

func TestSubscriberCanReenter(t *testing.T) {
	b := NewBroadcaster()

	// The replay callback runs synchronously; re-entering the broadcaster
	// from it must not deadlock.
	reentered := false
	b.Subscribe(func(n types.Notification) {
		_ = b.Current()
		reentered = true
	})

	if !reentered {
		t.Error("expected synchronous replay to re-enter broadcaster")
	}
}
