// Package status is the process-wide notification channel carrying
// synchronization state to UI observers. It has its own lifecycle,
// independent of any single screen: widgets subscribe and unsubscribe
// freely while the engine publishes.
package status

import (
	"sync"

	"github.com/blendsoftware/possync/internal/types"
)

// subscriber serializes deliveries to one callback. Each notification
// carries the sequence number of the publish that produced it; a delivery
// older than one already made is dropped, so the replay on subscribe can
// never overwrite a newer concurrent publish.
type subscriber struct {
	mu      sync.Mutex
	lastSeq uint64
	fn      func(types.Notification)
}

func (s *subscriber) deliver(n types.Notification, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeq {
		return
	}
	s.lastSeq = seq
	s.fn(n)
}

// Broadcaster fans out (status, pendingCount) notifications to every
// subscriber. Every transition reaches every subscriber in publish order;
// a new subscriber immediately receives the current state.
type Broadcaster struct {
	mu      sync.Mutex
	current types.Notification
	seq     uint64
	subs    map[int]*subscriber
	nextID  int
}

// NewBroadcaster creates a Broadcaster with IDLE initial state.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current: types.Notification{Status: types.StatusIdle},
		subs:    make(map[int]*subscriber),
	}
}

// Subscribe registers a callback and returns an unsubscribe function.
// The callback is invoked synchronously with the current state before
// Subscribe returns, so observers never wait for the first transition.
// When a publish races the registration, the newer of the two wins and
// the stale one is dropped. Unsubscribing more than once has no side
// effects. Callbacks may re-enter Current or Subscribe, but must not
// call Publish.
func (b *Broadcaster) Subscribe(fn func(types.Notification)) func() {
	sub := &subscriber{fn: fn}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	current, seq := b.current, b.seq
	b.mu.Unlock()

	sub.deliver(current, seq)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish records the new state and delivers it to all subscribers.
func (b *Broadcaster) Publish(n types.Notification) {
	b.mu.Lock()
	b.current = n
	b.seq++
	seq := b.seq
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	// Deliver outside the broadcaster lock so a subscriber can call
	// Current or Subscribe without deadlocking.
	for _, sub := range subs {
		sub.deliver(n, seq)
	}
}

// Current returns the last published state.
func (b *Broadcaster) Current() types.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
