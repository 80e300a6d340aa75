package reconciler

import "sync"

// keyedMutex serialises work per document id. Entries are reference
// counted and dropped when the last holder or waiter leaves, so the map
// only holds ids that are in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int]*refMutex)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *keyedMutex) Lock(id int) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// inFlight returns the number of ids currently held or awaited.
func (k *keyedMutex) inFlight() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
