package service

import "sync"

// entityLock serializes read-check-write sequences per entity id. Locks are
// refcounted and removed when the last holder releases, so the map does not
// grow with the number of entities ever touched. Transitions on different
// ids proceed independently; there is no global lock.
type entityLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newEntityLock() *entityLock {
	return &entityLock{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for the given id and returns the release function.
func (l *entityLock) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
