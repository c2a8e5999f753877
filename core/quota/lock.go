package quota

import "sync"

// KeyedMutex serializes check-and-write sequences per school so two
// concurrent creates cannot both observe count < limit and overshoot
// the ceiling. Entries are reference counted and removed when idle.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for `key` and returns its unlock func.
func (km *KeyedMutex) Lock(key string) (unlock func()) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &lockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// Do runs fn while holding the mutex for `key`.
func (km *KeyedMutex) Do(key string, fn func() error) error {
	unlock := km.Lock(key)
	defer unlock()
	return fn()
}
