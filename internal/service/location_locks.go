package service

import "sync"

// locationLocks serializes spot allocation per location. Reading "is
// this spot free" and writing "create a session on it" are separate
// storage operations, so two near-simultaneous entries at one location
// must not interleave between them.
type locationLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newLocationLocks() *locationLocks {
	return &locationLocks{locks: make(map[int64]*sync.Mutex)}
}

// acquire locks the location and returns the release func.
func (l *locationLocks) acquire(locationID int64) func() {
	l.mu.Lock()
	lock, ok := l.locks[locationID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[locationID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
