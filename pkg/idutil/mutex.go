package idutil

import "sync"

// NamedMutexRegistry hands out a *sync.Mutex per key, creating it
// lazily on first use. It generalizes the teacher's single coarse
// subsystem mutex (scheduler.mu, reconciler.mu) to per-key granularity,
// since Transaction state transitions must serialize per transaction
// id, not globally.
type NamedMutexRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewNamedMutexRegistry creates an empty registry.
func NewNamedMutexRegistry() *NamedMutexRegistry {
	return &NamedMutexRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *NamedMutexRegistry) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for key, blocking until it is available.
func (r *NamedMutexRegistry) Lock(key string) {
	r.lockFor(key).Lock()
}

// Unlock releases the mutex for key. Calling it without a matching
// Lock panics, the same as sync.Mutex.
func (r *NamedMutexRegistry) Unlock(key string) {
	r.lockFor(key).Unlock()
}
