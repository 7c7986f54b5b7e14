package indexer

import "sync/atomic"

// IndexLock serializes indexing runs without blocking callers. A second
// IndexWorkspace while one is active fails fast with ErrIndexInProgress
// instead of queueing behind it.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Must only be called after a successful
// TryAcquire.
func (l *IndexLock) Release() {
	l.state.Store(0)
}
