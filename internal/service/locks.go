// Package service implements the wallet, session, note and transaction
// business logic on top of the storage repositories.
package service

import "sync"

// keyedMutex serializes work per string key. Session operations lock on
// the session token; spends lock on owner+token so two spends of the same
// balance can never interleave.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Lock blocks until the key's mutex is held
func (k *keyedMutex) Lock(key string) {
	k.get(key).Lock()
}

// TryLock acquires the key's mutex without blocking, reporting success.
// Spend paths use this to fail fast with a contention error instead of
// queueing behind an in-flight spend.
func (k *keyedMutex) TryLock(key string) bool {
	return k.get(key).TryLock()
}

// Unlock releases the key's mutex
func (k *keyedMutex) Unlock(key string) {
	k.get(key).Unlock()
}
