package lifecycle

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// keyedMutex gives every order id its own critical section so transitions on
// one order are totally ordered while distinct orders proceed in parallel.
// Entries are reference counted and removed once the last holder releases.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[common.Hash]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[common.Hash]*lockEntry)}
}

// Lock acquires the mutex for id and returns its release function.
func (k *keyedMutex) Lock(id common.Hash) func() {
	k.mu.Lock()
	entry, ok := k.entries[id]
	if !ok {
		entry = &lockEntry{}
		k.entries[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
