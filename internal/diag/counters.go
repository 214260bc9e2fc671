package diag

import "sync/atomic"

// Counter is an atomic statistic, narrowed from biscuit's stats.Counter_t:
// the original guarded every increment behind a build-time Stats flag and
// read cycle counts off a patched runtime.Rdtsc this kernel's stdlib-only
// build has no access to, so this keeps just the always-on atomic counter
// and drops the cycle-timing half entirely.
type Counter int64

// Inc increments the counter by one.
func (c *Counter) Inc() { atomic.AddInt64((*int64)(c), 1) }

// Add adds n to the counter.
func (c *Counter) Add(n int64) { atomic.AddInt64((*int64)(c), n) }

// Load returns the counter's current value.
func (c *Counter) Load() int64 { return atomic.LoadInt64((*int64)(c)) }

// SyscallCounters tallies dispatch outcomes across the whole syscall
// table. They are not part of the /proc/profile snapshot, which carries
// only the per-process pprof samples.
type SyscallCounters struct {
	Total   Counter
	Errors  Counter
	Faults  Counter // tasks killed by killTask
}
