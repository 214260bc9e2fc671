// Package limits implements the system-wide resource caps spec.md §9
// names as an open question ("what happens when a resource-exhausted
// process forks/pipes?") and this kernel answers by refusing the
// operation instead of crashing. Grounded on biscuit's limits package
// (biscuit/src/limits/limits.go): an atomically-decremented counter per
// resource, reused here only for the two resources this kernel's scope
// actually tracks — live processes and open pipes — rather than
// biscuit's full set, which also covers vnodes, futexes, ARP/route
// table entries, TCP segments, and block-device pages that this
// kernel's non-networked, non-block-backed design has no counterpart
// for (see DESIGN.md).
package limits

import "sync/atomic"

// Counter is a resource count that can be atomically given back or
// taken from a fixed ceiling, mirroring biscuit's Sysatomic_t.
type Counter struct {
	remaining int64
}

// NewCounter creates a Counter starting at the given ceiling.
func NewCounter(ceiling int64) *Counter {
	return &Counter{remaining: ceiling}
}

// Take decrements the counter by one and reports whether it was above
// zero beforehand. On failure the counter is left unchanged.
func (c *Counter) Take() bool {
	if atomic.AddInt64(&c.remaining, -1) >= 0 {
		return true
	}
	atomic.AddInt64(&c.remaining, 1)
	return false
}

// Give returns one unit to the counter, e.g. on process exit or pipe
// close.
func (c *Counter) Give() {
	atomic.AddInt64(&c.remaining, 1)
}

// Remaining reports the current count, for /proc/meminfo-style
// diagnostics.
func (c *Counter) Remaining() int64 {
	return atomic.LoadInt64(&c.remaining)
}

// Sys holds the process-wide ceilings this kernel enforces. It is a
// package-level singleton, matching biscuit's Syslimit var, since there
// is exactly one kernel instance per address space.
type Sys struct {
	// Procs bounds the number of live (unreaped) processes, matching
	// biscuit's Sysprocs.
	Procs *Counter
	// Pipes bounds the number of open pipes, matching biscuit's Pipes.
	Pipes *Counter
}

// DefaultSys returns the default ceilings, scaled down from biscuit's
// (which assumed a multi-gigabyte server) to fit this kernel's
// single-address-space test and emulator scope.
func DefaultSys() *Sys {
	return &Sys{
		Procs: NewCounter(4096),
		Pipes: NewCounter(1024),
	}
}

// Syslimit is the process-wide instance internal/syscall and
// internal/proc share, matching biscuit's package-level Syslimit var.
var Syslimit = DefaultSys()
