// Package keymutex serializes mutations per entity id.
//
// Two concurrent signature submissions against the same proposal, or two mint
// calls against the same token, must not race past the same quorum check.
// Requests touching different entities proceed fully in parallel.
package keymutex

import "sync"

// KeyMutex hands out one mutex per key. Mutexes are created on first use and
// kept for the process lifetime; the key space here (entity ids under active
// mutation) is small enough that reaping is not worth the complexity.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, blocking until available.
func (k *KeyMutex) Lock(key string) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key. Panics if not held, like sync.Mutex.
func (k *KeyMutex) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *KeyMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
