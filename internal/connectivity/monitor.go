// Package connectivity tracks whether the remote authority looks reachable.
// The signal is a hint: "online" grants permission to attempt a sync, it
// never guarantees one will succeed. Only a real round trip proves
// reachability, so the sync engine classifies its own call failures
// regardless of what the monitor says.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger proves reachability with one round trip. Implemented by
// remote.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the authority on an interval and notifies subscribers on
// online/offline transitions.
type Monitor struct {
	pinger   Pinger
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewMonitor creates a Monitor. The initial state is offline until the
// first successful probe.
func NewMonitor(pinger Pinger, interval time.Duration) *Monitor {
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		subs:     make(map[int]func(bool)),
	}
}

// Online returns the current connectivity hint.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback invoked on every transition and returns an
// unsubscribe function. Unsubscribing twice is harmless.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Run starts the probe loop. Probes immediately on start so the agent knows
// its state before the first interval elapses. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"component", "connectivity",
		"interval", m.interval.String(),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped",
				"component", "connectivity",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe performs one reachability check and records the transition.
func (m *Monitor) probe(ctx context.Context) {
	err := m.pinger.Ping(ctx)
	if ctx.Err() != nil {
		return
	}
	m.set(err == nil)
}

// set records the new state and, on transition, notifies subscribers.
// Exposed for tests and manual override (e.g. forcing offline mode).
func (m *Monitor) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	slog.Info("connectivity transition",
		"component", "connectivity",
		"online", online,
	)

	// Callbacks run outside the lock so a subscriber can re-enter the
	// monitor without deadlocking.
	for _, fn := range subs {
		fn(online)
	}
}

// SetOnline overrides the current state, notifying subscribers on
// transition. Used by tests and by operators forcing offline mode.
func (m *Monitor) SetOnline(online bool) {
	m.set(online)
}
