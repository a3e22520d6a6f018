package diskreg

import (
	"sync"
	"sync/atomic"
)

// lockCoordinator serializes structural mutations of the device table and
// carries the flag the lock-free lookup path keys off of.
//
// Normally only table lookups are performed, and they are quick, so Obtain
// can do them without taking the mutex. The protected flag is set
// immediately after the mutex is acquired and cleared immediately before it
// is released by the "big" operations (create, delete, shutdown). The fast
// lookup path checks the flag first: if it is clear (the very frequent
// case) the lookup proceeds directly; if it is set, a mutation is in flight
// and the lookup falls back to taking the mutex.
type lockCoordinator struct {
	mu         sync.Mutex
	protected  atomic.Bool
	configured atomic.Bool
}

// lock acquires the mutation lock. Reports ErrNotConfigured if the registry
// was never initialized or has been shut down.
func (lc *lockCoordinator) lock() error {
	if !lc.configured.Load() {
		return ErrNotConfigured
	}
	lc.mu.Lock()
	if !lc.configured.Load() {
		// Shut down while we were waiting.
		lc.mu.Unlock()
		return ErrNotConfigured
	}
	lc.protected.Store(true)
	return nil
}

// unlock releases the mutation lock. Unlocking a lock that is not held
// corrupts the coordinator's invariants; sync.Mutex turns that into a
// runtime panic, which is the intended unrecoverable fault.
func (lc *lockCoordinator) unlock() {
	lc.protected.Store(false)
	lc.mu.Unlock()
}
