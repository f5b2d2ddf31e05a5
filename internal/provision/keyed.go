// keyed.go serializes provisioning runs per construct id while letting
// different constructs run concurrently.
package provision

import "sync"

// keyedMutex grants at most one holder per key without blocking:
// tryLock reports failure instead of waiting, so a second run against
// the same construct is rejected rather than queued.
type keyedMutex struct {
	mu     sync.Mutex
	active map[string]bool
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{active: make(map[string]bool)}
}

// tryLock acquires the key if no other holder has it.
func (k *keyedMutex) tryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active[key] {
		return false
	}
	k.active[key] = true
	return true
}

// unlock releases the key.
func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.active, key)
}
