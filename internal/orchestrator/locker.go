package orchestrator

import "sync"

// locker serializes message turns per thread. Locks are created on
// demand and dropped once the last holder releases, so an idle thread
// costs nothing.
type locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLocker() *locker {
	return &locker{locks: make(map[string]*lockEntry)}
}

// lock blocks until the thread lock is held and returns the release
// function. Concurrent turns on one thread serialize in arrival order.
func (l *locker) lock(threadID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[threadID]
	if !ok {
		entry = &lockEntry{}
		l.locks[threadID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, threadID)
		}
		l.mu.Unlock()
	}
}
