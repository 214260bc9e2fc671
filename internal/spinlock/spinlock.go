// Package spinlock provides the single lock abstraction spec.md §5 calls
// for: on this single-hart kernel a spinlock never actually spins, so it
// is implemented directly atop sync.Mutex, matching biscuit's own
// reliance on Go's runtime-provided mutex rather than a hand-rolled
// test-and-set loop (biscuit/src/runtime locks).
package spinlock

import "sync"

// T guards one global kernel singleton (the frame allocator, the pid
// counter, a scheduler runqueue, ...) per spec.md §5's discipline of one
// lock per global structure rather than one coarse kernel lock.
type T struct {
	mu sync.Mutex
}

func (l *T) Lock()   { l.mu.Lock() }
func (l *T) Unlock() { l.mu.Unlock() }

// With runs fn while holding the lock.
func (l *T) With(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
