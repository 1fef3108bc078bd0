package store

// Watch returns a buffered channel signalled after every committed write and
// a cancel function that releases the watcher. Signals coalesce: a watcher
// that has not drained its channel receives one pending signal, not a
// backlog. Consumers treat a signal as "re-query the store".
func (s *SQLiteStore) Watch() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(existing)
		}
	}

	return ch, cancel
}

// notify wakes every watcher without blocking on slow consumers.
func (s *SQLiteStore) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
