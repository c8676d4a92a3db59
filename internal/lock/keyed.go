// Package lock provides a map of per-entity mutexes, so a write to one
// statechain, session, or batch never blocks a concurrent write to another.
package lock

import (
	"sync"

	"stateentity/internal/ids"
)

// Keyed lazily allocates one *sync.Mutex per id and never removes it; the
// set of distinct entities is bounded by how many the store has ever held,
// which is acceptable for the lifetime of a single process.
type Keyed struct {
	mu    sync.Mutex
	locks map[ids.ID]*sync.Mutex
}

// NewKeyed constructs an empty keyed lock table.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[ids.ID]*sync.Mutex)}
}

// Lock blocks until the mutex for id is held, returning a func that
// releases it.
func (k *Keyed) Lock(id ids.ID) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
